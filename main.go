package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/geosentinel-data/geosentinel/internal/api"
	"github.com/geosentinel-data/geosentinel/internal/config"
	"github.com/geosentinel-data/geosentinel/internal/db"
	"github.com/geosentinel-data/geosentinel/internal/geofence"
	"github.com/geosentinel-data/geosentinel/internal/locmux"
	"github.com/geosentinel-data/geosentinel/internal/notify"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a mock location gateway")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbPath     = flag.String("db", "geosentinel.db", "Path to the sqlite database")
	serialPort = flag.String("serial", "/dev/ttyUSB0", "GPS receiver serial port")
	baudRate   = flag.Int("baud", 9600, "GPS receiver baud rate")
	configPath = flag.String("config", "", "Optional JSON config file")
	scriptPath = flag.String("script", "fixtures.txt", "Event script to replay in dev mode")
)

func main() {
	// The migrate subcommand manages the schema without starting the daemon.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrateCommand(os.Args[2:])
		return
	}

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

	var gateway locmux.Gateway
	var mock *locmux.MockGateway
	if *devMode {
		mock = locmux.NewMockGateway()
		gateway = mock
	} else {
		var err error
		gateway, err = locmux.NewSerialGateway(cfg.GetSerialPort(*serialPort), cfg.GetBaudRate(*baudRate))
		if err != nil {
			log.Fatalf("failed to open location gateway: %v", err)
		}
	}
	defer gateway.Close()

	database, err := db.Open(cfg.GetDBPath(*dbPath))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	tracker := geofence.NewTracker(database, gateway, notify.LogSink{})
	tracker.Bootstrap()

	// Config tracking fields override whatever was persisted.
	if settings := cfg.ApplySettings(tracker.Settings()); settings != tracker.Settings() {
		tracker.UpdateSettings(settings)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the gateway
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor location gateway: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to gateway events and feed them to the tracker
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := gateway.Subscribe()
		defer gateway.Unsubscribe(id)
		for {
			select {
			case ev := <-c:
				tracker.HandleEvent(ev)
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// in dev mode, replay the fixture script through the mock gateway
	if mock != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			script, err := os.ReadFile(*scriptPath)
			if err != nil {
				log.Printf("failed to read event script: %v", err)
				return
			}
			if err := mock.ReplayScript(ctx, string(script)); err != nil && err != context.Canceled {
				log.Printf("event script replay failed: %v", err)
			}
			log.Print("event script replay complete")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		database.AttachAdminRoutes(mux)

		// mount the API handlers
		mux.Handle("/api/", api.NewServer(tracker, database).ServeMux())

		server := &http.Server{
			Addr:    cfg.GetListenAddr(*listen),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
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

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
