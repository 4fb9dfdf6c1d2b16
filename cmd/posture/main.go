// Command posture runs the posture monitor daemon: webcam capture, pose
// worker, session state machine, SQLite history, MQTT events and the HTTP
// control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/posture.report/internal/api"
	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/emitter"
	"github.com/banshee-data/posture.report/internal/landmarks"
	"github.com/banshee-data/posture.report/internal/monitor"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/recorder"
	"github.com/banshee-data/posture.report/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to JSON config (defaults to "+config.DefaultConfigPath+" when present)")
	envFile     = flag.String("env", ".env", "Optional dotenv file with MQTT credentials")
	dbPath      = flag.String("db", "posture.db", "SQLite database path (empty disables history)")
	listen      = flag.String("listen", ":8080", "Listen address")
	devMode     = flag.Bool("dev", false, "Run against a synthetic frame source and replayed landmarks")
	fixturePath = flag.String("fixture", "fixtures/seated.jsonl", "Landmark replay used in dev mode")
	autostart   = flag.Bool("autostart", false, "Start a session as soon as the daemon is up")
	debug       = flag.Bool("debug", false, "Enable per-frame debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetLogger(log.Printf)
	monitoring.SetDebug(*debug)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configFile, *envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("posture: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or the default config file when path is empty and
// the file exists, then applies environment overrides.
func loadConfig(path, envFile string) (*config.PostureConfig, error) {
	cfg := config.EmptyConfig()
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.LoadPostureConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openPipeline(ctx context.Context, cfg *config.PostureConfig) (capture.Source, landmarks.Detector, func(), error) {
	if *devMode {
		replay, err := landmarks.LoadReplay(*fixturePath)
		if err != nil {
			return nil, nil, nil, err
		}
		replay.Loop = true
		log.Printf("dev mode: replaying %d landmark records from %s", replay.Len(), *fixturePath)
		return &capture.Fixture{Interval: cfg.GetFrameInterval()}, replay, func() {}, nil
	}

	camera, err := capture.OpenCamera(ctx, capture.CameraConfig{
		Device: cfg.GetCameraDevice(),
		Width:  cfg.GetCameraWidth(),
		Height: cfg.GetCameraHeight(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open camera: %w", err)
	}
	worker, err := landmarks.StartWorker(ctx, landmarks.WorkerConfig{
		Command: cfg.GetDetectorCommand(),
		Args:    cfg.DetectorArgs,
		Timeout: cfg.GetDetectorTimeout(),
	})
	if err != nil {
		camera.Close()
		return nil, nil, nil, fmt.Errorf("failed to start pose worker: %w", err)
	}
	cleanup := func() {
		if err := worker.Close(); err != nil {
			log.Printf("pose worker close error: %v", err)
		}
		if err := camera.Close(); err != nil {
			log.Printf("camera close error: %v", err)
		}
	}
	return camera, worker, cleanup, nil
}

func run(cfg *config.PostureConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.DB
	if *dbPath != "" {
		var err error
		store, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
	}

	src, det, cleanup, err := openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := monitor.NewHub()
	mon, err := monitor.New(monitor.Config{
		Source:          src,
		Detector:        det,
		Options:         cfg.SessionOptions(),
		Hub:             hub,
		MaxReadFailures: cfg.GetMaxReadFailures(),
		RetryDelay:      cfg.GetFrameInterval(),
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	runErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mon.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("monitor stopped: %v", err)
			runErr <- err
		}
		log.Print("monitor routine terminated")
		hub.Close()
		stop()
	}()

	if store != nil {
		id, events := hub.Subscribe()
		rec := recorder.New(store, cfg.GetScoreSampleInterval())
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer hub.Unsubscribe(id)
			// Drain until the hub closes so the final session_stopped is stored.
			rec.Run(context.Background(), events)
			log.Print("recorder routine terminated")
		}()
	}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, client, err := emitter.Dial(emitter.Config{
			Broker:        broker,
			ClientID:      cfg.GetMQTTClientID(),
			Username:      cfg.GetMQTTUsername(),
			Password:      cfg.GetMQTTPassword(),
			TopicPrefix:   cfg.GetMQTTTopicPrefix(),
			ScoreInterval: cfg.GetScoreSampleInterval(),
		})
		if err != nil {
			log.Printf("mqtt disabled: %v", err)
		} else {
			id, events := hub.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer hub.Unsubscribe(id)
				pub.Run(context.Background(), events)
				client.Disconnect(250)
				log.Print("mqtt routine terminated")
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		var history api.Store
		if store != nil {
			history = store
		}
		mux := api.NewServer(mon, history).ServeMux()
		mon.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach db admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	if *autostart {
		if id, err := mon.StartSession(); err != nil {
			log.Printf("autostart failed: %v", err)
		} else {
			log.Printf("autostarted session %s", id)
		}
	}

	wg.Wait()
	select {
	case err := <-runErr:
		return err
	default:
		return nil
	}
}
