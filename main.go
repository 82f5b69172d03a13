package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/footfall.report/internal/api"
	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/hub"
	"github.com/banshee-data/footfall.report/internal/ingest"
	"github.com/banshee-data/footfall.report/internal/storage/sqlite"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address for the HTTP API")
	ingestAddr = flag.String("ingest", ":5005", "UDP address for track frame ingest")
	configPath = flag.String("config", "", "Path to a JSON config file (optional)")
	dbPath     = flag.String("db", "footfall_events.db", "Path to the event archive database; empty disables archiving")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	manager := counter.NewManager(counter.ManagerConfig{
		Space: geometry.Space{
			Width:  cfg.GetReferenceWidth(),
			Height: cfg.GetReferenceHeight(),
		},
		HistoryCapacity: cfg.GetHistoryCapacity(),
		IdleTimeout:     cfg.GetTrackIdleTimeout(),
		Cameras:         cfg.Cameras,
	})

	var archive hub.EventArchive
	var lister api.EventLister
	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open event database: %v", err)
		}
		defer store.Close()
		archive = store
		lister = store
	}

	notifier := hub.NewHub(cfg.GetSubscriberBuffer())
	co := hub.NewCoordinator(manager, notifier, archive)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// UDP ingest routine: frames from the detection subsystem.
	wg.Add(1)
	go func() {
		defer wg.Done()
		listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
			Address: *ingestAddr,
			Sink:    co,
		})
		if err := listener.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("ingest listener failed: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	// Periodic counts push to subscribers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetCountsPushInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				co.PushCounts()
			case <-ctx.Done():
				log.Print("counts push routine terminated")
				return
			}
		}
	}()

	// Periodic idle track eviction. Half the timeout keeps worst-case
	// staleness bounded without a scan per frame.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetTrackIdleTimeout() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for camera, ids := range manager.EvictIdleTracks(time.Now()) {
					log.Printf("evicted %d idle tracks on %s", len(ids), camera)
				}
			case <-ctx.Done():
				log.Print("eviction routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(co, lister).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		notifier.Close()
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
