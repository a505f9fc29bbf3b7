package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/irctrakz/netbench/pkg/client"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Duration   time.Duration `long:"duration" default:"10s" description:"Length of the send phase"`
	PacketSize string        `short:"n" long:"packet-size" default:"1472" description:"Size of each datagram"`
	Rate       string        `short:"b" long:"rate" default:"1MiB" description:"Send rate in bytes (e.g. 10MiB) or bits with a bit suffix (e.g. 100Mbit)"`
	Timeout    time.Duration `long:"timeout" default:"10s" description:"Timeout for counter replies"`
	LogLevel   string        `long:"log-level" default:"warn" description:"Logging level"`

	Args struct {
		Address string `positional-arg-name:"address" description:"Responder host:port"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	var options Options

	parser := flags.NewParser(&options, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if level, err := logging.ParseLevel(options.LogLevel); err != nil {
		logging.Fatalf("%v", err)
	} else {
		logging.SetLevel(level)
	}

	packetSize, err := humanize.ParseBytes(options.PacketSize)
	if err != nil {
		logging.Fatalf("invalid packet size %q: %v", options.PacketSize, err)
	}
	rate, err := client.ParseRate(options.Rate)
	if err != nil {
		logging.Fatalf("%v", err)
	}

	cfg := client.DefaultUDPConfig()
	cfg.Address = options.Args.Address
	cfg.Duration = options.Duration
	cfg.PacketSize = int(packetSize)
	cfg.Rate = rate
	cfg.ReplyTimeout = options.Timeout

	c, err := client.NewUDPClient(cfg)
	if err != nil {
		logging.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Starting benchmark.")
	res, err := c.Run(ctx)
	if err != nil {
		logging.Errorf("UDP benchmark failed: %v", err)
		os.Exit(1)
	}
	fmt.Println(res)
}
