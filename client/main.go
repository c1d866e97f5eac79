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
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
)

// VERSION is injected via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "vpn-client"
	myApp.Usage = "VPN client peer"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "remoteaddr,r",
			Value: "127.0.0.1:51820",
			Usage: "gateway UDP address",
		},
		cli.StringFlag{
			Name:  "username,u",
			Value: "client",
			Usage: "username presented in CONNECT_REQ",
		},
		cli.StringFlag{
			Name:  "tun",
			Value: "tun1",
			Usage: "TUN interface name",
		},
		cli.IntFlag{
			Name:  "keepalive",
			Value: 30,
			Usage: "seconds between keepalive PINGs",
		},
		cli.IntFlag{
			Name:  "pongtimeout",
			Value: 60,
			Usage: "seconds without a PONG before declaring the connection lost",
		},
		cli.BoolTFlag{
			Name:  "autoreconnect",
			Usage: "automatically reconnect after connection loss",
		},
		cli.IntFlag{
			Name:  "maxattempts",
			Value: 10,
			Usage: "maximum reconnect attempts, 0 for unlimited",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "redirect log output to this file",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "path to a JSON config file overriding the flags above",
		},
	}

	myApp.Action = func(c *cli.Context) error {
		config := Config{
			RemoteAddr:       c.String("remoteaddr"),
			Username:         c.String("username"),
			TunName:          c.String("tun"),
			KeepaliveSeconds: c.Int("keepalive"),
			PongTimeout:      c.Int("pongtimeout"),
			AutoReconnect:    c.BoolT("autoreconnect"),
			MaxAttempts:      c.Int("maxattempts"),
			Log:              c.String("log"),
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
		log.Println("remote:", config.RemoteAddr)
		log.Println("username:", config.Username)
		log.Println("tun:", config.TunName)
		log.Println("autoreconnect:", config.AutoReconnect)

		return run(&config)
	}

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(config *Config) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	if err != nil {
		return err
	}

	fsm, err := NewFSM(
		config.Username,
		time.Duration(config.KeepaliveSeconds)*time.Second,
		time.Duration(config.PongTimeout)*time.Second,
		config.AutoReconnect,
		config.MaxAttempts,
	)
	if err != nil {
		return err
	}

	session := NewSession(fsm, remoteAddr, config.TunName)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("client: shutting down")
		session.Stop()
	}()

	return session.Run()
}
