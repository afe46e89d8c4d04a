package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postured/internal/config"
	"postured/internal/events"
	"postured/internal/monitor"
)

func main() {
	var (
		socketPath string
		once       bool
		raw        bool
		retry      time.Duration
	)
	flag.StringVar(&socketPath, "socket", config.DefaultSocketPath, "Path to the postured event socket")
	flag.BoolVar(&once, "once", false, "Exit when the daemon closes the connection instead of reconnecting")
	flag.BoolVar(&raw, "raw", false, "Print wire lines instead of formatted events")
	flag.DurationVar(&retry, "retry", time.Second, "Delay between reconnect attempts")
	flag.Parse()
	if flag.NArg() > 0 {
		socketPath = flag.Arg(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := monitor.New(monitor.Config{Path: socketPath, ReconnectDelay: retry, Once: once})
	if err != nil {
		log.Fatalf("monitor init failed: %v", err)
	}

	fmt.Printf("posture-monitor socket=%s\n", socketPath)
	err = client.Start(ctx, func(e events.Event) {
		if raw {
			line, err := events.Marshal(e)
			if err != nil {
				log.Printf("monitor marshal failed: %v", err)
				return
			}
			_, _ = os.Stdout.Write(line)
			return
		}
		fmt.Println(monitor.Format(e))
	})
	if err != nil {
		log.Fatalf("monitor start failed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
	}
	client.Close()

	snap := client.Snapshot()
	fmt.Printf("posture-monitor stopped events=%d bad_lines=%d\n", snap.Events, snap.BadLines)
}
