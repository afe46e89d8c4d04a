package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"postured/internal/config"
	"postured/internal/httpapi"
)

func main() {
	var (
		configPath string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "/etc/postured/postured.yaml", "Path to YAML config")
	flag.BoolVar(&verbose, "verbose", false, "Log every sample pair")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	var logs *httpapi.LogBuffer
	if cfg.HTTP.Enable {
		logs = httpapi.NewLogBuffer(0)
		log.SetOutput(io.MultiWriter(os.Stderr, logs))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("postured starting config=%s", configPath)
	d, err := newDaemon(cfg, daemonOptions{Verbose: verbose, Logs: logs})
	if err != nil {
		log.Fatalf("postured init failed: %v", err)
	}
	err = d.Run(ctx)
	d.Close()
	if err != nil {
		log.Fatalf("postured stopped: %v", err)
	}
	log.Printf("postured stopped")
}
