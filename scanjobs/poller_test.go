package scanjobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"scanbridge/bridge"
)

type fakeClient struct {
	mu       sync.Mutex
	jobs     []bridge.PendingScanJob
	pollErr  error
	uploads  map[string][]byte
	failures map[string]string
}

func newFakeClient(jobs ...bridge.PendingScanJob) *fakeClient {
	return &fakeClient{
		jobs:     jobs,
		uploads:  make(map[string][]byte),
		failures: make(map[string]string),
	}
}

func (f *fakeClient) PendingScans(ctx context.Context) ([]bridge.PendingScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	jobs := f.jobs
	f.jobs = nil
	return jobs, nil
}

func (f *fakeClient) UploadScanResult(ctx context.Context, jobID string, data []byte, filename, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[jobID] = data
	return nil
}

func (f *fakeClient) ReportScanError(ctx context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[jobID] = message
	return nil
}

func knownScanners() []bridge.ScannerRecord {
	return []bridge.ScannerRecord{
		{ID: "s1", Name: "Brother ADS-1700W", IP: "192.168.1.50", Port: 443, UseTLS: true},
	}
}

func newTestPoller(client *fakeClient) *Poller {
	return NewPoller(
		func() ServerClient { return client },
		knownScanners,
	)
}

func TestPollOnceExecutesJob(t *testing.T) {
	client := newFakeClient(bridge.PendingScanJob{
		JobID:      "j1",
		ScannerID:  "s1",
		Resolution: 300,
		ColorMode:  "color",
		Format:     "pdf",
	})

	p := newTestPoller(client)
	var gotJob bridge.ScanJob
	var gotRec bridge.ScannerRecord
	p.execute = func(ctx context.Context, rec bridge.ScannerRecord, job bridge.ScanJob) (*bridge.ScanResult, error) {
		gotRec = rec
		gotJob = job
		return &bridge.ScanResult{
			Pages:      [][]byte{[]byte("%PDF-1.4 scanned")},
			Format:     "application/pdf",
			TotalPages: 1,
		}, nil
	}

	p.pollOnce()

	if gotRec.ID != "s1" {
		t.Fatalf("executed against scanner %q, want s1", gotRec.ID)
	}
	if gotJob.Format != "application/pdf" || gotJob.Resolution != 300 {
		t.Fatalf("job parameters not mapped: %+v", gotJob)
	}
	if string(client.uploads["j1"]) != "%PDF-1.4 scanned" {
		t.Fatalf("result not uploaded: %q", client.uploads["j1"])
	}
	if got := p.Status().JobsProcessed; got != 1 {
		t.Fatalf("jobs processed = %d, want 1", got)
	}
}

func TestPollOnceUnknownScannerReportsError(t *testing.T) {
	client := newFakeClient(bridge.PendingScanJob{JobID: "j2", ScannerID: "ghost"})

	p := newTestPoller(client)
	p.execute = func(ctx context.Context, rec bridge.ScannerRecord, job bridge.ScanJob) (*bridge.ScanResult, error) {
		t.Fatal("execute must not run for an unknown scanner")
		return nil, nil
	}

	p.pollOnce()

	if _, ok := client.failures["j2"]; !ok {
		t.Fatal("failure was not reported to the server")
	}
	if p.Status().JobsProcessed != 0 {
		t.Fatal("a failed job must not count as processed")
	}
	if p.Status().LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestPollOnceScanFailureReportsError(t *testing.T) {
	client := newFakeClient(bridge.PendingScanJob{JobID: "j3", ScannerID: "s1"})

	p := newTestPoller(client)
	p.execute = func(ctx context.Context, rec bridge.ScannerRecord, job bridge.ScanJob) (*bridge.ScanResult, error) {
		return nil, errors.New("ADF jam")
	}

	p.pollOnce()

	if msg := client.failures["j3"]; msg != "ADF jam" {
		t.Fatalf("reported failure = %q, want the scan error", msg)
	}
}

func TestPollOnceJpegDefaults(t *testing.T) {
	client := newFakeClient(bridge.PendingScanJob{JobID: "j4", ScannerID: "s1", Format: "jpeg"})

	p := newTestPoller(client)
	var gotJob bridge.ScanJob
	p.execute = func(ctx context.Context, rec bridge.ScannerRecord, job bridge.ScanJob) (*bridge.ScanResult, error) {
		gotJob = job
		return &bridge.ScanResult{Pages: [][]byte{[]byte("jpeg bytes")}, TotalPages: 1}, nil
	}

	p.pollOnce()

	if gotJob.Format != "image/jpeg" {
		t.Fatalf("format = %q, want image/jpeg", gotJob.Format)
	}
	if _, ok := client.uploads["j4"]; !ok {
		t.Fatal("result not uploaded")
	}
}

func TestPollOnceDisconnectedIsNoop(t *testing.T) {
	p := NewPoller(func() ServerClient { return nil }, knownScanners)
	p.pollOnce()
	if !p.Status().LastPoll.IsZero() {
		t.Fatal("a disconnected poll should not count as a poll")
	}
}

func TestPollOncePollFailureRecorded(t *testing.T) {
	client := newFakeClient()
	client.pollErr = errors.New("connection refused")

	p := newTestPoller(client)
	p.pollOnce()

	if p.Status().LastError == "" {
		t.Fatal("poll failure not recorded")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	p := NewPoller(func() ServerClient { return nil }, knownScanners)

	p.Start()
	p.Start()
	if !p.Status().Running {
		t.Fatal("poller not running after Start")
	}

	p.Stop()
	p.Stop()
	if p.Status().Running {
		t.Fatal("poller still running after Stop")
	}
}
