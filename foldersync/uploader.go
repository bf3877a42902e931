package foldersync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"scanbridge/bridge"
	"scanbridge/storage"
)

var errStopRequested = errors.New("stop requested")

const (
	uploadAttemptTimeout = 60 * time.Second
	// rateLimitWait is the extra pause after a 429 before the next attempt.
	rateLimitWait = 30 * time.Second
)

func (e *Engine) uploadWorker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case task := <-e.queue:
			e.processTask(task)
		}
	}
}

// processTask drives one file to a definite outcome: uploaded (ledger
// record + post action), failed (errors++, file untouched), or skipped
// because the file changed since enqueue.
func (e *Engine) processTask(task uploadTask) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, task.path)
		e.mu.Unlock()
	}()

	name := filepath.Base(task.path)

	// The file identity was pinned at enqueue time. If it changed since,
	// drop the task; the watcher re-evaluates the new content.
	info, err := os.Stat(task.path)
	if err != nil {
		logDebug("queued file vanished", "path", task.path)
		return
	}
	if info.Size() != task.size || !info.ModTime().Equal(task.mtime) {
		logDebug("queued file changed, re-evaluating next sweep", "path", task.path)
		return
	}

	data, err := os.ReadFile(task.path)
	if err != nil {
		e.recordError(name, "read failed: "+err.Error())
		return
	}
	if int64(len(data)) != task.size {
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// Capture the credential once. A disconnect during the upload does not
	// switch credentials mid-task.
	client := e.clientFn()
	if client == nil {
		e.recordError(name, "not connected")
		return
	}

	cfg := e.cfg
	var resp *bridge.FolderUploadResponse
	op := func() error {
		select {
		case <-e.stop:
			return backoff.Permanent(errStopRequested)
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), uploadAttemptTimeout)
		defer cancel()

		var err error
		resp, err = client.FolderUpload(ctx, data, name, contentTypeFor(name))
		if err == nil {
			return nil
		}

		if errors.Is(err, bridge.ErrRateLimited) {
			logWarn("server rate limit hit, extending wait", "path", task.path)
			select {
			case <-e.stop:
				return backoff.Permanent(errStopRequested)
			case <-time.After(rateLimitWait):
			}
			return err
		}

		var se *bridge.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			// The server rejected the file; retrying the same bytes
			// cannot succeed.
			return backoff.Permanent(err)
		}
		logDebug("upload attempt failed", "path", task.path, "error", err.Error())
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second

	err = backoff.Retry(op, backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)))
	if err != nil {
		if errors.Is(err, errStopRequested) {
			return
		}
		e.recordError(name, err.Error())
		logWarn("upload failed permanently", "path", task.path, "error", err.Error())
		return
	}

	if err := e.ledger.RecordUpload(storage.UploadRecord{
		Path:   task.path,
		Size:   task.size,
		MTime:  task.mtime,
		SHA256: hash,
	}); err != nil {
		// The upload went through; a ledger failure must not fail the task,
		// but the next sweep could re-upload. The server's own hash dedupe
		// is the safety net.
		logError("ledger record failed", "path", task.path, "error", err.Error())
	}

	e.recordUploadSuccess()
	if resp != nil && resp.Duplicate {
		logInfo("server already had file content", "path", task.path, "job_id", resp.JobID)
	} else if resp != nil {
		logInfo("file uploaded", "path", task.path, "job_id", resp.JobID)
	}

	if err := e.applyPostAction(task.path, cfg.PostAction); err != nil {
		e.recordError(name, "post action failed: "+err.Error())
	}
}

// applyPostAction disposes of a file after a successful upload.
func (e *Engine) applyPostAction(path string, action PostAction) error {
	switch action {
	case PostActionDelete:
		return os.Remove(path)
	case PostActionKeep:
		return nil
	case PostActionMove:
		dir := filepath.Join(filepath.Dir(path), uploadedDirName)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", uploadedDirName, err)
		}
		dest := uniqueDestination(filepath.Join(dir, filepath.Base(path)))
		return os.Rename(path, dest)
	}
	return nil
}

// uniqueDestination resolves name collisions in the uploaded/ directory by
// suffixing " (n)" before the extension: scan.pdf, scan (1).pdf, ...
func uniqueDestination(dest string) string {
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
