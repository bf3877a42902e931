// ScanBridge runs on a user's machine and connects local network scanners
// to a DocFlow server: it discovers eSCL devices, executes remote scan jobs,
// and syncs a watched folder of finished scans.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scanbridge/bridge"
	"scanbridge/config"
	"scanbridge/foldersync"
	"scanbridge/logger"
	"scanbridge/pairing"
	"scanbridge/scanjobs"
	"scanbridge/storage"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "1.2.0"

func main() {
	svcCmd := flag.String("service", "", "service command: install, uninstall, start, stop, run")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ScanBridge %s\n", Version)
		return
	}

	if *svcCmd != "" {
		if err := handleServiceCommand(*svcCmd); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	runBridge(ctx, false)
}

// runBridge is the shared entry point for interactive and service mode. It
// returns when ctx is cancelled and everything has shut down.
func runBridge(ctx context.Context, isService bool) {
	dataDir, err := config.GetDataDirectory(isService)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare data directory: %v\n", err)
		os.Exit(1)
	}

	cfg, cfgPath, err := loadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logDir, err := config.GetLogDirectory(isService)
	if err != nil {
		logDir = ""
	}
	log := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	defer log.Close()
	if isService {
		log.SetConsoleOutput(false)
	}

	bridge.SetLogger(log)
	foldersync.SetLogger(log)
	scanjobs.SetLogger(log)

	log.Info("ScanBridge starting", "version", Version, "config", cfgPath)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "scanbridge.db")
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		log.Error("failed to open database", "path", dbPath, "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	session := pairing.NewManager(pairing.NewFileStore(dataDir), Version, "Bridge on "+hostname)

	b := NewBridge(cfg, Version, log, store, session)
	b.Restore(ctx)

	mux := http.NewServeMux()
	b.registerRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("local API listening", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("local API server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	b.Shutdown()

	log.Info("shutdown complete")
}
