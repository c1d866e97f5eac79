// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters holds the gateway's running packet/error tallies. All fields are
// updated with atomic adds from the single dispatcher goroutine's callers
// and read concurrently by the stats logger, so atomics are used even
// though in practice only one goroutine ever mutates the dispatcher's view.
type Counters struct {
	PacketsIn      uint64
	PacketsOut     uint64
	DecryptFailed  uint64
	UnknownType    uint64
	ActiveClients  uint64
	ConnectsFailed uint64
}

func (c *Counters) header() []string {
	return []string{"PacketsIn", "PacketsOut", "DecryptFailed", "UnknownType", "ActiveClients", "ConnectsFailed"}
}

func (c *Counters) row() []string {
	return []string{
		fmt.Sprint(atomic.LoadUint64(&c.PacketsIn)),
		fmt.Sprint(atomic.LoadUint64(&c.PacketsOut)),
		fmt.Sprint(atomic.LoadUint64(&c.DecryptFailed)),
		fmt.Sprint(atomic.LoadUint64(&c.UnknownType)),
		fmt.Sprint(atomic.LoadUint64(&c.ActiveClients)),
		fmt.Sprint(atomic.LoadUint64(&c.ConnectsFailed)),
	}
}

// StatsLogger periodically appends a CSV row of c's counters to path, in
// the style of the SNMP stat dump it's adapted from: path's filename
// component is treated as a time.Format layout, so a rotating daily or
// hourly log file can be configured via the path string itself.
func StatsLogger(path string, interval time.Duration, c *Counters, stop <-chan struct{}) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logdir, logfile := filepath.Split(path)
			f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				log.Println("std: stats logger:", err)
				continue
			}

			w := csv.NewWriter(f)
			if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
				if err := w.Write(append([]string{"Unix"}, c.header()...)); err != nil {
					log.Println("std: stats logger:", err)
				}
			}
			if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, c.row()...)); err != nil {
				log.Println("std: stats logger:", err)
			}
			w.Flush()
			f.Close()
		case <-stop:
			return
		}
	}
}
