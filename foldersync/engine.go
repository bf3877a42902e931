// Package foldersync watches a local directory and uploads finished scan
// files to the server exactly once, applying a configurable post-action.
package foldersync

import (
	"context"
	"sync"
	"time"

	"scanbridge/bridge"
	"scanbridge/storage"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateErrorPaused State = "error_paused"
)

// Status is a point-in-time view of the engine.
type Status struct {
	State         State      `json:"state"`
	WatchPath     string     `json:"watch_path,omitempty"`
	PostAction    PostAction `json:"post_action,omitempty"`
	FilesUploaded uint64     `json:"files_uploaded"`
	FilesPending  int        `json:"files_pending"`
	Errors        uint64     `json:"errors"`
	LastUpload    time.Time  `json:"last_upload,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// ServerClient is the server surface the engine needs. Satisfied by
// *bridge.Client.
type ServerClient interface {
	FolderUpload(ctx context.Context, data []byte, filename, contentType string) (*bridge.FolderUploadResponse, error)
	ReportFolderSyncStatus(ctx context.Context, report bridge.FolderSyncReport) error
}

// Ledger records completed uploads. Satisfied by *storage.SQLiteStore.
type Ledger interface {
	IsUploaded(path string, size int64, mtime time.Time) (bool, error)
	RecordUpload(rec storage.UploadRecord) error
}

// uploadTask is one file handed from the watcher to the upload pool. Size
// and mtime pin the file identity observed at enqueue time.
type uploadTask struct {
	path  string
	size  int64
	mtime time.Time
}

// Engine is the folder-sync state machine: a polling watcher feeding a
// bounded queue consumed by a small upload pool.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	configured bool
	state      State

	filesUploaded uint64
	errorCount    uint64
	lastUpload    time.Time
	lastError     string

	// inflight tracks queued plus uploading paths so a file is never
	// double-enqueued. files_pending is its size.
	inflight map[string]bool

	queue chan uploadTask
	stop  chan struct{}
	wg    sync.WaitGroup

	ledger Ledger
	// clientFn returns the current server client or nil when disconnected.
	// Each upload task captures the client once at task start.
	clientFn func() ServerClient
}

// NewEngine creates a stopped, unconfigured engine.
func NewEngine(ledger Ledger, clientFn func() ServerClient) *Engine {
	return &Engine{
		state:    StateStopped,
		inflight: make(map[string]bool),
		ledger:   ledger,
		clientFn: clientFn,
	}
}

// Configure validates and applies a new sync configuration. Rejected with
// ErrRunning while the engine is active; resets counters on success.
func (e *Engine) Configure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// An ErrorPaused engine still owns goroutines; it must be stopped
	// before it can be reconfigured.
	if e.state != StateStopped {
		return ErrRunning
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	e.cfg = cfg
	e.configured = true
	e.filesUploaded = 0
	e.errorCount = 0
	e.lastUpload = time.Time{}
	e.lastError = ""
	e.inflight = make(map[string]bool)
	return nil
}

// Start launches the watcher and upload workers.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return ErrNotConfigured
	}
	if e.state != StateStopped {
		return ErrRunning
	}

	e.state = StateStarting
	e.queue = make(chan uploadTask, e.cfg.QueueSize)
	e.stop = make(chan struct{})

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.uploadWorker()
	}
	e.wg.Add(1)
	go e.watchLoop()

	e.state = StateRunning
	logInfo("folder sync started", "path", e.cfg.WatchPath, "post_action", string(e.cfg.PostAction))
	return nil
}

// Stop halts the watcher, lets in-flight uploads reach a definite outcome,
// and reports the disabled state to the server. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateErrorPaused {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.inflight = make(map[string]bool)
	e.queue = nil
	e.mu.Unlock()

	e.reportStatus(false)
	logInfo("folder sync stopped")
}

// Status returns a consistent snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		State:         e.state,
		FilesUploaded: e.filesUploaded,
		FilesPending:  len(e.inflight),
		Errors:        e.errorCount,
		LastUpload:    e.lastUpload,
		LastError:     e.lastError,
	}
	if e.configured {
		s.WatchPath = e.cfg.WatchPath
		s.PostAction = e.cfg.PostAction
	}
	return s
}

// Running reports whether the engine is actively syncing.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateRunning || e.state == StateErrorPaused
}

func (e *Engine) recordError(path, msg string) {
	e.mu.Lock()
	e.errorCount++
	if path != "" {
		e.lastError = path + ": " + msg
	} else {
		e.lastError = msg
	}
	e.mu.Unlock()
}

func (e *Engine) recordUploadSuccess() {
	e.mu.Lock()
	e.filesUploaded++
	e.lastUpload = time.Now()
	e.mu.Unlock()
}

// reportStatus pushes the current engine state to the server. Best effort:
// failures are logged at debug and otherwise ignored.
func (e *Engine) reportStatus(enabled bool) {
	client := e.clientFn()
	if client == nil {
		return
	}

	e.mu.Lock()
	report := bridge.FolderSyncReport{
		FolderSyncEnabled: enabled,
		WatchedFolder:     e.cfg.WatchPath,
		FilesUploaded:     e.filesUploaded,
		Errors:            e.errorCount,
	}
	if !e.lastUpload.IsZero() {
		report.LastSyncAt = e.lastUpload.UTC().Format(time.RFC3339)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.ReportFolderSyncStatus(ctx, report); err != nil {
		logDebug("folder sync status report failed", "error", err.Error())
	}
}
