package foldersync

import (
	"os"
	"path/filepath"
	"time"
)

// sweepFailLimit is how many consecutive unreadable sweeps flip the engine
// to ErrorPaused. A single transient SMB hiccup should not pause syncing.
const sweepFailLimit = 3

// fileTrack holds the stability observations for one candidate file.
type fileTrack struct {
	size   int64
	stable int
}

// watchLoop is the polling watcher. Polling is deliberate: the watch folder
// is typically an SMB share fed by a scanner, and network mounts do not
// deliver filesystem events reliably.
func (e *Engine) watchLoop() {
	defer e.wg.Done()

	cfg := e.cfg
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	tracker := make(map[string]*fileTrack)
	readFailures := 0
	cycle := 0

	for {
		e.sweep(cfg, tracker, &readFailures)

		if cycle%cfg.ReportCycles == 0 {
			e.reportStatus(true)
		}
		cycle++

		select {
		case <-e.stop:
			return
		case <-ticker.C:
		}
	}
}

// sweep lists the watch directory once, advances stability tracking, and
// enqueues files that are ready.
func (e *Engine) sweep(cfg Config, tracker map[string]*fileTrack, readFailures *int) {
	entries, err := os.ReadDir(cfg.WatchPath)
	if err != nil {
		*readFailures++
		logWarn("watch folder unreadable", "path", cfg.WatchPath, "error", err.Error())
		if *readFailures >= sweepFailLimit {
			e.mu.Lock()
			if e.state == StateRunning {
				e.state = StateErrorPaused
				e.lastError = "watch folder unreadable: " + err.Error()
				e.errorCount++
			}
			e.mu.Unlock()
		}
		return
	}

	*readFailures = 0
	// The folder came back; resume from ErrorPaused.
	e.mu.Lock()
	if e.state == StateErrorPaused {
		e.state = StateRunning
		logInfo("watch folder readable again, resuming")
	}
	e.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		// Subdirectories (including uploaded/) are never descended into.
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !allowedFile(name) {
			continue
		}
		path := filepath.Join(cfg.WatchPath, name)
		seen[path] = true

		info, err := entry.Info()
		if err != nil {
			continue
		}
		size := info.Size()

		if size > MaxFileSize {
			if tracker[path] == nil {
				tracker[path] = &fileTrack{size: size}
				e.recordError(name, "file exceeds 50 MB limit")
			}
			continue
		}
		if size == 0 {
			// Zero-length files are either placeholders or a scan that has
			// not started writing; never stable.
			tracker[path] = &fileTrack{size: 0}
			continue
		}

		track := tracker[path]
		if track == nil || track.size != size {
			tracker[path] = &fileTrack{size: size, stable: 1}
			continue
		}
		track.stable++
		if track.stable < cfg.StableSamples {
			continue
		}

		uploaded, err := e.ledger.IsUploaded(path, size, info.ModTime())
		if err != nil {
			logWarn("ledger lookup failed", "path", path, "error", err.Error())
			continue
		}
		if uploaded {
			continue
		}

		e.enqueue(uploadTask{path: path, size: size, mtime: info.ModTime()})
	}

	// Forget files that disappeared so the tracker cannot grow unbounded.
	for path := range tracker {
		if !seen[path] {
			delete(tracker, path)
		}
	}
}

// enqueue hands a task to the upload pool unless the path is already queued
// or in flight, or the queue is full. A full queue is plain backpressure:
// the file stays in the folder and a later sweep retries.
func (e *Engine) enqueue(task uploadTask) {
	e.mu.Lock()
	if e.inflight[task.path] {
		e.mu.Unlock()
		return
	}
	e.inflight[task.path] = true
	e.mu.Unlock()

	select {
	case e.queue <- task:
		logDebug("file queued for upload", "path", task.path)
	default:
		e.mu.Lock()
		delete(e.inflight, task.path)
		e.mu.Unlock()
	}
}
