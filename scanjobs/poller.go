// Package scanjobs polls the server for queued remote scan requests,
// executes them against discovered devices, and uploads the result.
package scanjobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scanbridge/bridge"
)

const (
	defaultPollInterval = 2 * time.Second
	scanJobTimeout      = 5 * time.Minute
)

// ServerClient is the server surface the poller needs. Satisfied by
// *bridge.Client.
type ServerClient interface {
	PendingScans(ctx context.Context) ([]bridge.PendingScanJob, error)
	UploadScanResult(ctx context.Context, jobID string, data []byte, filename, contentType string) error
	ReportScanError(ctx context.Context, jobID, message string) error
}

// Status is a point-in-time view of the poller.
type Status struct {
	Running       bool      `json:"running"`
	LastPoll      time.Time `json:"last_poll,omitempty"`
	JobsProcessed uint64    `json:"jobs_processed"`
	LastError     string    `json:"last_error,omitempty"`
}

// Poller fetches pending scan jobs on a fixed interval. Jobs run one at a
// time; a scanner cannot service two jobs at once anyway.
type Poller struct {
	mu sync.Mutex

	interval time.Duration
	// clientFn returns the current server client or nil when disconnected.
	clientFn func() ServerClient
	// scanners returns the latest discovery result for job matching.
	scanners func() []bridge.ScannerRecord
	// execute is a test seam; defaults to bridge.ExecuteScan.
	execute func(ctx context.Context, rec bridge.ScannerRecord, job bridge.ScanJob) (*bridge.ScanResult, error)

	running       bool
	lastPoll      time.Time
	jobsProcessed uint64
	lastError     string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPoller creates a stopped poller.
func NewPoller(clientFn func() ServerClient, scanners func() []bridge.ScannerRecord) *Poller {
	return &Poller{
		interval: defaultPollInterval,
		clientFn: clientFn,
		scanners: scanners,
		execute:  bridge.ExecuteScan,
	}
}

// Start launches the polling loop. Idempotent.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.loop()
}

// Stop halts polling. A job that is mid-scan finishes first. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

// Status returns a snapshot of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Running:       p.running,
		LastPoll:      p.lastPoll,
		JobsProcessed: p.jobsProcessed,
		LastError:     p.lastError,
	}
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	client := p.clientFn()
	if client == nil {
		return
	}

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	jobs, err := client.PendingScans(ctx)
	cancel()
	if err != nil {
		p.setError(err.Error())
		return
	}

	for _, job := range jobs {
		select {
		case <-p.stop:
			return
		default:
		}
		p.handleJob(client, job)
	}
}

func (p *Poller) handleJob(client ServerClient, job bridge.PendingScanJob) {
	logInfo("executing scan job", "job_id", job.JobID, "scanner", job.ScannerID)

	rec, ok := p.findScanner(job.ScannerID)
	if !ok {
		p.failJob(client, job.JobID, fmt.Sprintf("scanner %q not found in last discovery", job.ScannerID))
		return
	}

	format := "image/jpeg"
	filename := "scan.jpg"
	if job.Format == "pdf" || job.Format == "application/pdf" {
		format = "application/pdf"
		filename = "scan.pdf"
	}

	ctx, cancel := context.WithTimeout(context.Background(), scanJobTimeout)
	defer cancel()

	result, err := p.execute(ctx, rec, bridge.ScanJob{
		Resolution: job.Resolution,
		ColorMode:  job.ColorMode,
		Format:     format,
		Source:     job.Source,
		Duplex:     job.Duplex,
	})
	if err != nil {
		p.failJob(client, job.JobID, err.Error())
		return
	}

	// PDF output arrives as one document containing every page. For image
	// formats the first page is the document.
	data := result.Pages[0]

	uctx, ucancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer ucancel()
	if err := client.UploadScanResult(uctx, job.JobID, data, filename, format); err != nil {
		p.setError("result upload failed: " + err.Error())
		return
	}

	p.mu.Lock()
	p.jobsProcessed++
	p.mu.Unlock()
	logInfo("scan job complete", "job_id", job.JobID, "pages", result.TotalPages)
}

func (p *Poller) failJob(client ServerClient, jobID, msg string) {
	p.setError(msg)
	logWarn("scan job failed", "job_id", jobID, "error", msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.ReportScanError(ctx, jobID, msg); err != nil {
		logDebug("scan error report failed", "job_id", jobID, "error", err.Error())
	}
}

func (p *Poller) findScanner(id string) (bridge.ScannerRecord, bool) {
	for _, rec := range p.scanners() {
		if rec.ID == id {
			return rec, true
		}
	}
	return bridge.ScannerRecord{}, false
}

func (p *Poller) setError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}
