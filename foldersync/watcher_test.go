package foldersync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbridge/storage"
)

// sweepEngine builds a configured engine whose queue can be drained directly,
// so sweep behavior is testable without the polling goroutines.
func sweepEngine(t *testing.T, dir string, queueSize int) *Engine {
	t.Helper()
	e := NewEngine(&fakeLedger{}, func() ServerClient { return nil })
	cfg := fastConfig(dir)
	cfg.StableSamples = 3
	cfg.QueueSize = queueSize
	require.NoError(t, e.Configure(cfg))
	e.queue = make(chan uploadTask, queueSize)
	return e
}

func queued(e *Engine) []uploadTask {
	var tasks []uploadTask
	for {
		select {
		case task := <-e.queue:
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

func TestSweepStabilityGate(t *testing.T) {
	dir := t.TempDir()
	e := sweepEngine(t, dir, 8)
	path := filepath.Join(dir, "scan.pdf")
	tracker := make(map[string]*fileTrack)
	failures := 0

	writeFile(t, path, []byte("page one"))
	e.sweep(e.cfg, tracker, &failures)
	e.sweep(e.cfg, tracker, &failures)
	assert.Empty(t, queued(e), "two observations are below the stability threshold")

	// The scanner appends another page: the counter starts over.
	writeFile(t, path, []byte("page one, page two"))
	e.sweep(e.cfg, tracker, &failures)
	e.sweep(e.cfg, tracker, &failures)
	assert.Empty(t, queued(e), "growth resets stability")

	e.sweep(e.cfg, tracker, &failures)
	tasks := queued(e)
	require.Len(t, tasks, 1, "third unchanged observation makes the file ready")
	assert.Equal(t, path, tasks[0].path)
	assert.Equal(t, int64(len("page one, page two")), tasks[0].size)
}

func TestSweepZeroLengthNeverStable(t *testing.T) {
	dir := t.TempDir()
	e := sweepEngine(t, dir, 8)
	writeFile(t, filepath.Join(dir, "empty.pdf"), nil)
	tracker := make(map[string]*fileTrack)
	failures := 0

	for i := 0; i < 6; i++ {
		e.sweep(e.cfg, tracker, &failures)
	}
	assert.Empty(t, queued(e))
}

func TestSweepOversizeCountsOneError(t *testing.T) {
	dir := t.TempDir()
	e := sweepEngine(t, dir, 8)
	path := filepath.Join(dir, "huge.pdf")
	writeFile(t, path, []byte("x"))
	// Grow the apparent size without writing 50 MB to disk.
	require.NoError(t, os.Truncate(path, MaxFileSize+1))

	tracker := make(map[string]*fileTrack)
	failures := 0
	for i := 0; i < 5; i++ {
		e.sweep(e.cfg, tracker, &failures)
	}

	assert.Empty(t, queued(e))
	s := e.Status()
	assert.Equal(t, uint64(1), s.Errors, "repeated sweeps must not re-count the same oversize file")
	assert.Contains(t, s.LastError, "50 MB")
}

func TestSweepSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	e := sweepEngine(t, dir, 8)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "uploaded"), 0755))
	writeFile(t, filepath.Join(dir, "uploaded", "old.pdf"), []byte("already handled"))

	tracker := make(map[string]*fileTrack)
	failures := 0
	for i := 0; i < 4; i++ {
		e.sweep(e.cfg, tracker, &failures)
	}
	assert.Empty(t, queued(e))
}

func TestSweepSkipsLedgeredFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "done.pdf")
	writeFile(t, path, []byte("content"))
	info, err := os.Stat(path)
	require.NoError(t, err)

	ledger := &fakeLedger{}
	require.NoError(t, ledger.RecordUpload(storage.UploadRecord{
		Path:  path,
		Size:  info.Size(),
		MTime: info.ModTime(),
	}))

	e := NewEngine(ledger, func() ServerClient { return nil })
	cfg := fastConfig(dir)
	cfg.StableSamples = 1
	require.NoError(t, e.Configure(cfg))
	e.queue = make(chan uploadTask, 8)

	tracker := make(map[string]*fileTrack)
	failures := 0
	e.sweep(e.cfg, tracker, &failures)
	assert.Empty(t, queued(e))
}

func TestEnqueueDedupes(t *testing.T) {
	e := sweepEngine(t, t.TempDir(), 8)

	e.enqueue(uploadTask{path: "/watch/a.pdf", size: 1})
	e.enqueue(uploadTask{path: "/watch/a.pdf", size: 1})
	assert.Len(t, queued(e), 1)
	assert.Equal(t, 1, e.Status().FilesPending)
}

func TestEnqueueBackpressure(t *testing.T) {
	e := sweepEngine(t, t.TempDir(), 1)

	e.enqueue(uploadTask{path: "/watch/a.pdf", size: 1})
	e.enqueue(uploadTask{path: "/watch/b.pdf", size: 1})

	tasks := queued(e)
	require.Len(t, tasks, 1, "queue capacity is the limit")
	assert.Equal(t, "/watch/a.pdf", tasks[0].path)
	// The rejected file is not left marked in-flight; a later sweep retries.
	assert.Equal(t, 1, e.Status().FilesPending)
}

func TestSweepErrorPauseAndResume(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "watch")
	require.NoError(t, os.MkdirAll(dir, 0755))

	e := sweepEngine(t, dir, 8)
	e.state = StateRunning

	tracker := make(map[string]*fileTrack)
	failures := 0

	require.NoError(t, os.RemoveAll(dir))

	e.sweep(e.cfg, tracker, &failures)
	e.sweep(e.cfg, tracker, &failures)
	assert.Equal(t, StateRunning, e.Status().State, "transient failures are tolerated")

	e.sweep(e.cfg, tracker, &failures)
	s := e.Status()
	assert.Equal(t, StateErrorPaused, s.State)
	assert.Contains(t, s.LastError, "unreadable")

	// The share comes back: the next successful sweep resumes on its own.
	require.NoError(t, os.MkdirAll(dir, 0755))
	e.sweep(e.cfg, tracker, &failures)
	assert.Equal(t, StateRunning, e.Status().State)
}

func TestAllowedFile(t *testing.T) {
	assert.True(t, allowedFile("scan.pdf"))
	assert.True(t, allowedFile("SCAN.PDF"))
	assert.True(t, allowedFile("photo.jpeg"))
	assert.True(t, allowedFile("img.tif"))
	assert.False(t, allowedFile("notes.txt"))
	assert.False(t, allowedFile("scan.pdf.part"))
	assert.False(t, allowedFile("no-extension"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("a.pdf"))
	assert.Equal(t, "image/jpeg", contentTypeFor("a.JPG"))
	assert.Equal(t, "image/png", contentTypeFor("a.png"))
	assert.Equal(t, "image/tiff", contentTypeFor("a.tiff"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a.bin"))
}
