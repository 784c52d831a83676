package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"shelfr/api"
	"shelfr/config"
	"shelfr/handlers"
	"shelfr/internal/database"
	"shelfr/services/catalog"
	"shelfr/services/enrich"
	"shelfr/services/importer"
	"shelfr/services/jikan"
	"shelfr/services/progress"
	"shelfr/services/reconcile"
	"shelfr/services/scheduler"
	"shelfr/services/users"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {

	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 shelfr Backend Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("SHELFR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	// Init config manager and load settings (creates defaults and a PIN if missing)
	cfgManager := config.NewManager(nil, configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		// Ensure log directory exists
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			// Redirect standard log to both console and file
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	settings.Server.PIN = strings.TrimSpace(settings.Server.PIN)
	fmt.Printf("🔑 shelfr PIN: %s\n", settings.Server.PIN)
	fmt.Println("📱 Mutating API requests need this PIN in the X-Api-Pin header.")

	// Open the collection database (runs migrations)
	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	entryRepo := database.NewEntryRepository(db.Connection())
	stateRepo := database.NewUserStateRepository(db.Connection())

	// Resolution engine: matcher thresholds and merge policy come from settings
	matcher := reconcile.NewMatcher(settings.Matching.FuzzyThreshold)
	policy := reconcile.MergePolicy{
		AuthoritativeSources: settings.Matching.AuthoritativeSources,
		TieBreak:             string(settings.Matching.TieBreak),
	}
	resolver := reconcile.NewResolver(entryRepo, matcher, policy)

	// External source clients
	var jikanClient *jikan.Client
	if settings.Sources.Jikan.Enabled {
		jikanClient = jikan.NewClient(settings.Sources.Jikan.BaseURL, nil)
	}
	translator := enrich.NewTranslator(settings.Sources.Translate.BaseURL, settings.Sources.Translate.APIKey, nil)
	coverResolver := enrich.NewCoverResolver(settings.Sources.Covers.BaseURL, nil)

	// Import pipeline
	orch := importer.NewOrchestrator(
		settings.Import.MaxAttempts,
		time.Duration(settings.Import.RetryBaseDelayMs)*time.Millisecond,
		time.Duration(settings.Import.ItemIntervalMs)*time.Millisecond,
	)
	importerService := importer.NewService(orch, resolver, jikanClient, translator, coverResolver, settings.Sources.Translate.TargetLanguage)

	catalogService := catalog.NewService(entryRepo)
	progressService := progress.NewService(entryRepo, stateRepo)

	userService, err := users.NewService(nil, settings.Users.Directory)
	if err != nil {
		log.Fatalf("failed to init user service: %v", err)
	}

	// Background scheduler for library refresh tasks
	schedulerService := scheduler.NewService(cfgManager, catalogService, importerService)
	if err := schedulerService.Start(context.Background()); err != nil {
		log.Printf("Warning: scheduler failed to start: %v", err)
	}

	// Construct router and register API routes
	r := mux.NewRouter()

	entriesHandler := handlers.NewEntriesHandler(catalogService)
	importsHandler := handlers.NewImportsHandler(importerService)
	progressHandler := handlers.NewProgressHandler(progressService)
	usersHandler := handlers.NewUsersHandler(userService)
	settingsHandler := handlers.NewSettingsHandler(cfgManager)
	tasksHandler := handlers.NewScheduledTasksHandler(cfgManager, schedulerService)

	api.Register(
		r,
		entriesHandler,
		importsHandler,
		progressHandler,
		usersHandler,
		settingsHandler,
		tasksHandler,
		settings.Server.PIN,
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the scheduler first so no refresh batch writes during shutdown
	log.Println("🧹 Stopping scheduler...")
	schedulerService.Stop(shutdownCtx)

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
