package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

// program implements service.Interface
type program struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("ScanBridge service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if p.svcLogger != nil {
		p.svcLogger.Info("ScanBridge service running")
	}

	runBridge(p.ctx, true)

	if p.svcLogger != nil {
		p.svcLogger.Info("ScanBridge service stopping")
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("ScanBridge service stop requested")
	}

	if p.cancel != nil {
		p.cancel()
	}

	// Wait for run() to finish with timeout
	timeout := time.After(30 * time.Second)
	select {
	case <-p.done:
		if p.svcLogger != nil {
			p.svcLogger.Info("ScanBridge service stopped gracefully")
		}
	case <-timeout:
		if p.svcLogger != nil {
			p.svcLogger.Warning("ScanBridge service stopped with timeout")
		}
	}

	return nil
}

// getServiceConfig returns the service configuration for the current platform
func getServiceConfig() *service.Config {
	var workingDir string
	switch runtime.GOOS {
	case "windows":
		workingDir = filepath.Join(os.Getenv("ProgramData"), "ScanBridge")
	case "darwin":
		workingDir = "/Library/Application Support/ScanBridge"
	default:
		workingDir = "/var/lib/scanbridge"
	}

	return &service.Config{
		Name:             "ScanBridge",
		DisplayName:      "ScanBridge",
		Description:      "Background bridge between local network scanners and the DocFlow server. Discovers eSCL scanners, executes remote scan jobs, and syncs a watched folder.",
		WorkingDirectory: workingDir,
		Arguments:        []string{"--service", "run"},
		Option: service.KeyValue{
			// Windows service options
			"StartType":              "automatic",
			"DelayedAutoStart":       true,
			"Dependencies":           "",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			// Linux systemd options
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",
			"SendSIGKILL":       true,

			// macOS launchd options
			"RunAtLoad":     true,
			"KeepAlive":     true,
			"SessionCreate": false,
		},
	}
}

// setupServiceDirectories creates necessary directories for service operation
func setupServiceDirectories() error {
	var dirs []string

	switch runtime.GOOS {
	case "windows":
		baseDir := filepath.Join(os.Getenv("ProgramData"), "ScanBridge")
		dirs = []string{
			baseDir,
			filepath.Join(baseDir, "logs"),
		}
	case "darwin":
		baseDir := "/Library/Application Support/ScanBridge"
		dirs = []string{
			baseDir,
			filepath.Join(baseDir, "logs"),
			"/var/log/scanbridge",
		}
	default: // Linux
		dirs = []string{
			"/var/lib/scanbridge",
			"/var/log/scanbridge",
			"/etc/scanbridge",
		}
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// handleServiceCommand executes install/uninstall/start/stop/run against the
// platform service manager.
func handleServiceCommand(cmd string) error {
	svcConfig := getServiceConfig()
	prg := &program{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch cmd {
	case "install":
		if err := setupServiceDirectories(); err != nil {
			return err
		}
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		fmt.Println("Service installed")
	case "uninstall":
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Println("Service uninstalled")
	case "start":
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		fmt.Println("Service started")
	case "stop":
		if err := s.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		fmt.Println("Service stopped")
	case "run":
		return s.Run()
	default:
		return fmt.Errorf("unknown service command %q (install, uninstall, start, stop, run)", cmd)
	}
	return nil
}
