package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irctrakz/netbench/pkg/client"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/jessevdk/go-flags"
)

const defaultAddress = "10.0.0.10:5561"

type Options struct {
	Duration   time.Duration `long:"duration" default:"10s" description:"Read window of every sample"`
	SampleSize int           `long:"sample-size" default:"5" description:"Number of connections"`
	BlockSize  int           `long:"block-size" default:"131072" description:"Read buffer size"`
	Verify     bool          `long:"verify" description:"Check the received byte pattern"`
	LogLevel   string        `long:"log-level" default:"warn" description:"Logging level"`

	Args struct {
		Address string `positional-arg-name:"address" description:"Sender host:port (default 10.0.0.10:5561)"`
	} `positional-args:"yes"`
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

	cfg := client.DefaultTCPConfig()
	cfg.Address = options.Args.Address
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	cfg.Duration = options.Duration
	cfg.Samples = options.SampleSize
	cfg.BlockSize = options.BlockSize
	cfg.Verify = options.Verify

	c, err := client.NewTCPClient(cfg)
	if err != nil {
		logging.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(client.TableHeader)
	fmt.Println(client.TableRule)
	res, err := c.Run(ctx, func(s client.TCPSample) {
		fmt.Println(s.TableRow())
	})
	if err != nil {
		logging.Errorf("TCP benchmark failed: %v", err)
		os.Exit(1)
	}
	fmt.Println(client.TableRule)
	fmt.Println(res.MeanRow())
}
