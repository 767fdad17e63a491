// Package main is the entry point for the Hyperion link server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/bbernstein/hyperion-link-go/internal/api"
	"github.com/bbernstein/hyperion-link-go/internal/config"
	"github.com/bbernstein/hyperion-link-go/internal/database"
	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/database/repositories"
	"github.com/bbernstein/hyperion-link-go/internal/services/hub"
	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/link"
	"github.com/bbernstein/hyperion-link-go/internal/services/pubsub"
	"github.com/bbernstein/hyperion-link-go/internal/services/validator"
	"github.com/bbernstein/hyperion-link-go/internal/services/wizard"
	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Print startup banner
	printBanner(cfg)

	// Connect to database
	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	// Auto-migrate database schema
	log.Println("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migrations complete")

	backends := buildBackends(cfg)
	if len(backends) == 0 {
		log.Println("Warning: no light backend configured (set HASS_URL or HUE_BRIDGE_IP)")
	}

	a := newApp(cfg, db, lights.NewRouter(backends...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drop abandoned setup sessions
	go a.wizard.Run(ctx)

	// Load stored entries
	if cfg.Autostart {
		n, err := a.links.SetupAll(ctx)
		if err != nil {
			log.Printf("Warning: failed to load entries: %v", err)
		} else {
			log.Printf("Loaded %d entries", n)
		}
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the frame feed is long-lived
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		log.Printf("Frame feed: ws://localhost:%s/ws/frames\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cleanup services in reverse order
	cancel()
	a.links.Shutdown()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// app holds the wired services.
type app struct {
	router chi.Router
	wizard *wizard.Manager
	links  *link.Service
}

// newApp wires repositories, services and routes on top of a migrated database.
func newApp(cfg *config.Config, db *gorm.DB, inventory *lights.Router) *app {
	entryRepo := repositories.NewEntryRepository(db)
	settingRepo := repositories.NewSettingRepository(db)
	ps := pubsub.New()

	links := link.NewService(entryRepo, settingRepo, inventory, link.Options{
		CallTimeout:    cfg.ActuationTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
		PubSub:         ps,
	})

	v := validator.New(func(ctx context.Context, host string, port int) (*hyperion.ServerInfo, error) {
		return hub.NewClient(host, port).GetServerInfo(ctx)
	}, cfg.HubQueryTimeout)

	manager := wizard.NewManager(v, inventory, entryRepo, wizard.Options{
		SessionTTL: cfg.WizardSessionTTL,
		OnCreate: func(entry *models.LinkEntry) {
			if err := links.Setup(context.Background(), entry); err != nil {
				log.Printf("Warning: failed to load new entry %s: %v", entry.ID, err)
			}
		},
	})

	router := api.NewRouter(api.Deps{
		Wizard:    manager,
		Links:     links,
		Entries:   entryRepo,
		Inventory: inventory,
		PubSub:    ps,
	}, api.Options{
		CORSOrigin: cfg.CORSOrigin,
		Debug:      cfg.IsDevelopment(),
	})
	router.Get("/health", healthCheckHandler)

	return &app{router: router, wizard: manager, links: links}
}

// buildBackends returns the light backends enabled in cfg.
func buildBackends(cfg *config.Config) []lights.Backend {
	var backends []lights.Backend
	if cfg.HassURL != "" {
		backends = append(backends, lights.NewHomeAssistant(cfg.HassURL, cfg.HassToken, nil))
		log.Printf("Home Assistant backend: %s", cfg.HassURL)
	}
	if cfg.HueBridgeIP != "" {
		hue, err := lights.NewHue(cfg.HueBridgeIP, cfg.HueAppKey)
		if err != nil {
			log.Printf("Warning: Hue backend disabled: %v", err)
		} else {
			backends = append(backends, hue)
			log.Printf("Hue backend: %s", cfg.HueBridgeIP)
		}
	}
	return backends
}

// healthCheckHandler returns the server health status.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := fmt.Sprintf(`{
  "status": "ok",
  "timestamp": "%s",
  "version": "%s",
  "uptime": "N/A"
}`, time.Now().UTC().Format(time.RFC3339), Version)

	_, _ = w.Write([]byte(response))
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  Hyperion Link Server")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Autostart:   %v\n", cfg.Autostart)
	fmt.Println("============================================")
}
