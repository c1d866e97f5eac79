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
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// HostPort is a parsed "host:port" listen or dial address.
type HostPort struct {
	Host string
	Port uint64
}

var hostPortMatcher = regexp.MustCompile(`(.*):([0-9]{1,5})$`)

// ParseHostPort parses "host:port", validating the port is in [1,65535].
// The gateway's UDP listener (§6, default 0.0.0.0:51820) is a single fixed
// port rather than kcptun's port range, so this drops the min-max range
// syntax of the form it's adapted from.
func ParseHostPort(addr string) (*HostPort, error) {
	matches := hostPortMatcher.FindStringSubmatch(addr)
	if len(matches) != 3 {
		return nil, errors.Errorf("std: malformed address: %v", addr)
	}

	port, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, err
	}
	if port == 0 || port > 65535 {
		return nil, errors.Errorf("std: invalid port: %v", port)
	}

	return &HostPort{Host: matches[1], Port: uint64(port)}, nil
}
