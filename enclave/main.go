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

// Command enclave is the key-custody process of §4.3: it owns the server
// identity and every session key, and is reachable only over a local
// unix-domain socket. It never touches a TUN device or a UDP socket.
package main

import (
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/vpncrypto"
)

// VERSION is injected via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "vpn-enclave"
	myApp.Usage = "key-custody process: ECDH handshakes, AEAD, key table"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket,s",
			Value: "/tmp/vpn-enclave.sock",
			Usage: "unix-domain socket path to listen on",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "redirect log output to this file",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-request diagnostic logs",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "path to a JSON config file overriding the flags above",
		},
	}

	myApp.Action = func(c *cli.Context) error {
		config := Config{
			Socket: c.String("socket"),
			Log:    c.String("log"),
			Quiet:  c.Bool("quiet"),
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
		log.Println("socket:", config.Socket)

		return run(&config)
	}

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(config *Config) error {
	for _, err := range vpncrypto.HardenProcess() {
		color.Red("WARNING: process hardening step failed (continuing): %v", err)
	}

	// A stale socket file from an unclean prior exit must not block bind
	// (§5: "unlinked... at enclave start and at clean shutdown").
	if err := os.Remove(config.Socket); err != nil && !os.IsNotExist(err) {
		log.Println("enclave: failed to remove stale socket:", err)
	}

	listener, err := net.Listen("unix", config.Socket)
	if err != nil {
		return err
	}
	defer os.Remove(config.Socket)

	service, err := NewService(listener, config.Quiet)
	if err != nil {
		return err
	}
	if err := service.keys.MadviseDontDump(); err != nil {
		color.Red("WARNING: madvise(MADV_DONTDUMP) failed (continuing): %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("enclave: signal received, shutting down")
		listener.Close()
	}()

	server := ipc.NewServer(listener)
	err = server.Serve(service.Handle)
	if isCleanShutdown(err) {
		log.Println("enclave: clean shutdown")
		return nil
	}
	return err
}

// isCleanShutdown reports whether err is the expected "listener closed"
// error produced when the SHUTDOWN command or a signal closes the
// listener out from under a blocked Accept.
func isCleanShutdown(err error) bool {
	return err != nil && errors.Is(err, net.ErrClosed)
}
