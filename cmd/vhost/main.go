package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trippy-tcp/pkg/ipstack"
	"trippy-tcp/pkg/lnxconfig"
	"trippy-tcp/pkg/metrics"
	"trippy-tcp/pkg/tcpstack"
)

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: vhost --config <lnx file>")
		os.Exit(1)
	}

	if err := run(os.Args[2]); err != nil {
		slog.Error("vhost exited", "error", err)
		os.Exit(1)
	}
}

func run(lnxFileName string) error {
	ipconfig, err := lnxconfig.ParseConfig(lnxFileName)
	if err != nil {
		return err
	}

	level, err := lnxconfig.ParseLogLevel(ipconfig.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	stack, err := ipstack.InitNode(ipconfig)
	if err != nil {
		return err
	}
	defer stack.Close()

	m := metrics.New()
	tcpStack, err := tcpstack.InitTCPStack(stack, tcpstack.ConfigFromLnx(ipconfig.TCP), m)
	if err != nil {
		return err
	}

	// Add handler functions
	stack.RegisterHandler(ipstack.TEST_PROTOCOL, ipstack.PrintPacket(os.Stdout))
	stack.RegisterHandler(ipstack.TCP_PROTOCOL, tcpStack.IPHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	for _, iface := range stack.Interfaces {
		iface := iface
		g.Go(func() error {
			return ipstack.InterfaceListen(ctx, iface, stack)
		})
	}

	// Connections only see time through Tick
	g.Go(func() error {
		interval := time.Duration(ipconfig.TickIntervalMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				tcpStack.Tick(uint64(now.Sub(last).Milliseconds()))
				last = last.Add(now.Sub(last).Truncate(time.Millisecond))
			case <-ctx.Done():
				return nil
			}
		}
	})

	if ipconfig.MetricsListen != "" {
		g.Go(func() error {
			return m.Serve(ctx, ipconfig.MetricsListen)
		})
	}

	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		tcpStack.Repl(os.Stdin, os.Stdout, stack.HandleCommand)
	}()

	select {
	case <-replDone:
		stop()
	case <-ctx.Done():
	}

	// Tear connections down before the interfaces go away
	tcpStack.Close()
	stop()
	return g.Wait()
}
