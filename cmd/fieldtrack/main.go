package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/fieldtrack/internal/gps"
	"github.com/shaunagostinho/fieldtrack/internal/server"
	"github.com/shaunagostinho/fieldtrack/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/fieldtrack/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated GPS data")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	dbPath := flag.String("db", "", "Override session database path")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] fieldtrack starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.GPS.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var gpsProv gps.Provider
	switch cfg.GPS.Type {
	case "nmea":
		gpsProv = gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
			UERE:     cfg.GPS.UERE,
		})
	case "disabled":
		gpsProv = nil
	default:
		gpsProv = gps.NewDemoGPS()
	}

	if gpsProv != nil {
		log.Printf("[main] location source: %s", gpsProv.Name())
		// Non-blocking: the API is available while the receiver connects.
		go connectWithRetry(ctx, "GPS", gpsProv, 10)
		defer gpsProv.Close()
	}

	srv := server.New(cfg, gpsProv, st)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectable is satisfied by gps.Provider.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
