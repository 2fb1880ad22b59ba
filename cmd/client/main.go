package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabd/internal/client"
	"collabd/internal/discovery"
)

func main() {
	var cfg client.Config
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:4000", "server address")
	flag.StringVar(&cfg.User, "user", "", "display name (required)")
	flag.StringVar(&cfg.Room, "room", "default-room", "room name")
	flag.StringVar(&cfg.Doc, "doc", "shared.txt", "document name")
	flag.Uint64Var(&cfg.DialRetries, "retries", 5, "connection attempts after the first")
	flag.DurationVar(&cfg.PingInterval, "ping", 30*time.Second, "keepalive interval (0 disables)")
	discover := flag.Bool("discover", false, "find the server on the LAN over mDNS instead of -addr")
	service := flag.String("service", "_collabd._tcp", "mDNS service name used with -discover")
	flag.Parse()

	if cfg.User == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *discover {
		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		addr, err := discovery.Lookup(lookupCtx, *service)
		cancel()
		if err != nil {
			log.Fatalf("❌ Discovery failed: %v", err)
		}
		cfg.Addr = addr
	}

	if err := client.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Fatalf("❌ %v", err)
	}
}
