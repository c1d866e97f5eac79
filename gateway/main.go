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

package main

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/std"
	"github.com/xtaci/vpntun/tunif"
)

// VERSION is injected via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "vpn-gateway"
	myApp.Usage = "point-to-multipoint VPN gateway (TUN + UDP datapath)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "0.0.0.0:51820",
			Usage: "UDP listen address",
		},
		cli.StringFlag{
			Name:  "enclavesocket",
			Value: "/tmp/vpn-enclave.sock",
			Usage: "unix-domain socket path of the enclave process",
		},
		cli.StringFlag{
			Name:  "tun",
			Value: "tun0",
			Usage: "TUN interface name",
		},
		cli.IntFlag{
			Name:  "idletimeout",
			Value: 300,
			Usage: "seconds of inactivity before a client is evicted",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "redirect log output to this file",
		},
		cli.StringFlag{
			Name:  "statslog",
			Usage: "periodic CSV stats file (time.Format layout in the filename)",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats dump interval, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "accepted but unused: the gateway logs per-packet diagnostics regardless",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "path to a JSON config file overriding the flags above",
		},
	}

	myApp.Action = func(c *cli.Context) error {
		config := Config{
			Listen:        c.String("listen"),
			EnclaveSocket: c.String("enclavesocket"),
			TunName:       c.String("tun"),
			IdleTimeout:   c.Int("idletimeout"),
			Log:           c.String("log"),
			StatsLog:      c.String("statslog"),
			StatsPeriod:   c.Int("statsperiod"),
			Quiet:         c.Bool("quiet"),
		}

		if c.String("c") != "" {
			if err := parseJSONConfig(&config, c.String("c")); err != nil {
				return err
			}
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return err
			}
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("listening on:", config.Listen)
		log.Println("enclave socket:", config.EnclaveSocket)
		log.Println("tun:", config.TunName)
		log.Println("idle timeout:", config.IdleTimeout)

		return run(&config)
	}

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(config *Config) error {
	udpAddr, err := net.ResolveUDPAddr("udp", config.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	dev, err := tunif.Open(config.TunName)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := tunif.Configure(dev, [4]byte{10, 8, 0, 1}); err != nil {
		color.Red("WARNING: tun configure failed, interface may be unusable: %v", err)
	}

	enclave, err := ipc.Dial(config.EnclaveSocket)
	if err != nil {
		return err
	}
	defer enclave.Close()

	counters := &std.Counters{}
	idleTimeout := time.Duration(config.IdleTimeout) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = 300 * time.Second
	}

	dispatcher := NewDispatcher(enclave, idleTimeout, counters)
	loop := NewLoop(conn, dev, dispatcher)

	statsStop := make(chan struct{})
	go std.StatsLogger(config.StatsLog, time.Duration(config.StatsPeriod)*time.Second, counters, statsStop)
	defer close(statsStop)

	loop.Run()
	enclave.Call(ipc.Shutdown, 0, nil)
	return nil
}
