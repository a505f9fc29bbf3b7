package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/irctrakz/netbench/pkg/bench"
	"github.com/irctrakz/netbench/pkg/config"
	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/irctrakz/netbench/pkg/service"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Configuration file (.json, .yaml)"`
	Listen  string `short:"l" long:"listen" description:"Listen address (overrides config)"`
	Port    uint16 `short:"p" long:"port" description:"TCP port (overrides config)"`
	Backlog int    `long:"backlog" description:"Listen backlog (overrides config)"`
	Health  string `long:"health" description:"Health endpoint address, e.g. :8080"`
	Debug   bool   `short:"d" long:"debug" description:"Debug logging"`
}

func main() {
	var options Options

	parser := flags.NewParser(&options, flags.Default)
	if args, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	} else if len(args) > 0 {
		logging.Errorf("Extra arguments: %v", args)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	cfg, err := config.Load(options.Config)
	if err != nil {
		logging.Fatalf("config: %v", err)
	}
	if options.Listen != "" {
		cfg.Server.ListenAddress = options.Listen
	}
	if options.Port != 0 {
		cfg.Server.TCPPort = options.Port
	}
	if options.Backlog != 0 {
		cfg.Server.Backlog = options.Backlog
	}
	if options.Health != "" {
		cfg.Health.Listen = options.Health
	}
	if options.Debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		logging.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := service.NewServer(cfg)
	sender := bench.NewTCPSender(srv.Facility(), bench.Options{TransferUnit: cfg.Stack.TransferUnit})
	srv.Register("tcp", func() map[string]uint64 { return sender.Metrics().Map() })

	addr := core.Addr{IP: cfg.Server.ListenAddress, Port: cfg.Server.TCPPort}
	err = srv.Run(ctx, func(ctx context.Context) error {
		return sender.Serve(ctx, addr, cfg.Server.Backlog)
	})
	if err != nil {
		logging.Errorf("TCP benchmark server failed: %v", err)
		os.Exit(1)
	}
}
