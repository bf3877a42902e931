package foldersync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrInvalidPath means the watch path does not exist, is not a
	// directory, or is not readable and writable.
	ErrInvalidPath = errors.New("watch path is not a usable directory")
	// ErrRunning is returned when configuration is attempted while the
	// engine is active.
	ErrRunning = errors.New("folder sync is running")
	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("folder sync is not configured")
)

// PostAction is what happens to a file after a successful upload.
type PostAction string

const (
	PostActionMove   PostAction = "move"
	PostActionDelete PostAction = "delete"
	PostActionKeep   PostAction = "keep"
)

// MaxFileSize is the upload size cap (50 MB).
const MaxFileSize = 50 * 1024 * 1024

const uploadedDirName = "uploaded"

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".tif":  true,
}

const (
	defaultSweepInterval = 5 * time.Second
	// defaultStableSamples is how many consecutive sweeps a file's size
	// must stay unchanged (and non-zero) before it is considered fully
	// written. Scanners write output incrementally over SMB.
	defaultStableSamples = 3
	defaultWorkers       = 2
	defaultQueueSize     = 64
	defaultMaxAttempts   = 3
	// defaultReportCycles spaces the best-effort server status reports.
	defaultReportCycles = 6
)

// Config describes one folder-sync setup.
type Config struct {
	WatchPath  string
	PostAction PostAction

	SweepInterval time.Duration
	StableSamples int
	Workers       int
	QueueSize     int
	MaxAttempts   int
	ReportCycles  int
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.StableSamples <= 0 {
		c.StableSamples = defaultStableSamples
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.ReportCycles <= 0 {
		c.ReportCycles = defaultReportCycles
	}
	if c.PostAction == "" {
		c.PostAction = PostActionMove
	}
}

func (c *Config) validate() error {
	switch c.PostAction {
	case PostActionMove, PostActionDelete, PostActionKeep:
	default:
		return fmt.Errorf("unknown post action %q", c.PostAction)
	}
	return probeWatchPath(c.WatchPath)
}

// probeWatchPath verifies the path is an existing directory we can read and
// write. The write check creates and removes a probe file; a read-only
// mount would otherwise only fail at post-action time.
func probeWatchPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, path)
	}
	if _, err := os.ReadDir(path); err != nil {
		return fmt.Errorf("%w: not readable: %v", ErrInvalidPath, err)
	}

	probe := filepath.Join(path, ".scanbridge-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: not writable: %v", ErrInvalidPath, err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// allowedFile reports whether the filename has a syncable extension.
func allowedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// contentTypeFor maps a filename to the MIME type sent with the upload.
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tiff", ".tif":
		return "image/tiff"
	}
	return "application/octet-stream"
}
