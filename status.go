package main

import (
	"context"
	"sync"
	"time"

	"scanbridge/bridge"
	"scanbridge/foldersync"
	"scanbridge/logger"
	"scanbridge/pairing"
	"scanbridge/scanjobs"
	"scanbridge/storage"
)

// Bridge aggregates the engines behind one consistent command/status
// surface. Mutating commands take the write lock, Snapshot takes the read
// lock: a snapshot can never observe a half-applied command, such as a
// cleared credential with folder sync still reported running.
type Bridge struct {
	mu sync.RWMutex

	version string
	cfg     *BridgeConfig
	log     *logger.Logger

	session *pairing.Manager
	store   *storage.SQLiteStore
	sync    *foldersync.Engine
	poller  *scanjobs.Poller
	hub     *eventHub

	discoveryCfg  bridge.DiscoveryConfig
	scanners      []bridge.ScannerRecord
	lastDiscovery time.Time

	// discover runs the probe window; replaceable in tests.
	discover func(ctx context.Context, cfg bridge.DiscoveryConfig, timeout time.Duration) []bridge.ScannerRecord
}

// StatusSnapshot is the full bridge status served to the local UI.
type StatusSnapshot struct {
	Version        string                 `json:"version"`
	Connected      bool                   `json:"connected"`
	ServerURL      string                 `json:"server_url,omitempty"`
	TenantName     string                 `json:"tenant_name,omitempty"`
	BridgeID       string                 `json:"bridge_id,omitempty"`
	UpdateRequired bool                   `json:"update_required"`
	ScannerCount   int                    `json:"scanner_count"`
	LastDiscovery  *time.Time             `json:"last_discovery,omitempty"`
	Scanners       []bridge.ScannerRecord `json:"scanners"`
	FolderSync     foldersync.Status      `json:"folder_sync"`
	Poller         scanjobs.Status        `json:"poller"`
}

// NewBridge wires the engines together. Nothing is started yet; the caller
// restores the session and launches the HTTP server.
func NewBridge(cfg *BridgeConfig, version string, log *logger.Logger, store *storage.SQLiteStore, session *pairing.Manager) *Bridge {
	b := &Bridge{
		version:      version,
		cfg:          cfg,
		log:          log,
		session:      session,
		store:        store,
		hub:          newEventHub(),
		discoveryCfg: cfg.discoveryConfig(),
		discover:     bridge.Discover,
	}

	b.sync = foldersync.NewEngine(store, func() foldersync.ServerClient {
		if c := session.Client(); c != nil {
			return c
		}
		return nil
	})
	b.poller = scanjobs.NewPoller(func() scanjobs.ServerClient {
		if c := session.Client(); c != nil {
			return c
		}
		return nil
	}, b.Scanners)

	// A user disconnect stops everything that needs the credential.
	session.SetDisconnectHook(func() {
		b.sync.Stop()
		b.poller.Stop()
	})

	// Warm the scanner list from the cache so job matching works before
	// the first discovery.
	if cached, err := store.LoadScanners(); err == nil && len(cached) > 0 {
		b.scanners = cached
	}

	return b
}

// Snapshot returns a consistent view of the whole bridge.
func (b *Bridge) Snapshot() StatusSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Bridge) snapshotLocked() StatusSnapshot {
	info := b.session.Info()

	scanners := make([]bridge.ScannerRecord, len(b.scanners))
	copy(scanners, b.scanners)

	s := StatusSnapshot{
		Version:        b.version,
		Connected:      info.Connected,
		ServerURL:      info.ServerURL,
		TenantName:     info.TenantName,
		BridgeID:       info.BridgeID,
		UpdateRequired: info.UpdateRequired,
		ScannerCount:   len(scanners),
		Scanners:       scanners,
		FolderSync:     b.sync.Status(),
		Poller:         b.poller.Status(),
	}
	if !b.lastDiscovery.IsZero() {
		t := b.lastDiscovery
		s.LastDiscovery = &t
	}
	return s
}

// Scanners returns a copy of the last discovery result.
func (b *Bridge) Scanners() []bridge.ScannerRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]bridge.ScannerRecord, len(b.scanners))
	copy(out, b.scanners)
	return out
}

// Discover runs all enabled probes and commits the merged result. The probe
// window runs outside the lock so status polls stay responsive while it is
// open; readers see either the previous complete result or the new one.
func (b *Bridge) Discover(ctx context.Context, timeout time.Duration) []bridge.ScannerRecord {
	b.mu.RLock()
	cfg := b.discoveryCfg
	b.mu.RUnlock()

	records := b.discover(ctx, cfg, timeout)

	b.mu.Lock()
	b.scanners = records
	b.lastDiscovery = time.Now()
	if err := b.store.SaveScanners(records); err != nil {
		b.log.Warn("scanner cache update failed", "error", err.Error())
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	// Report to the server so users can pick a device for remote scans.
	if client := b.session.Client(); client != nil && b.session.Connected() {
		rctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := client.ReportScanners(rctx, records); err != nil {
			b.log.Warn("scanner report failed", "error", err.Error())
		}
		cancel()
	}

	b.hub.broadcast("status", snap)

	out := make([]bridge.ScannerRecord, len(records))
	copy(out, records)
	return out
}

// Pair exchanges a pairing code for a credential and starts the engines
// that need it.
func (b *Bridge) Pair(ctx context.Context, code, serverURL string) error {
	b.mu.Lock()
	if _, err := b.session.Pair(ctx, code, serverURL); err != nil {
		b.mu.Unlock()
		return err
	}
	b.poller.Start()
	b.startConfiguredSyncLocked()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.broadcast("status", snap)
	return nil
}

// Disconnect clears the credential and stops dependent engines. Idempotent.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	if err := b.session.Disconnect(); err != nil {
		b.mu.Unlock()
		return err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.broadcast("status", snap)
	return nil
}

// ConfigureSync applies a folder-sync configuration and starts the engine.
func (b *Bridge) ConfigureSync(watchPath string, postAction foldersync.PostAction) error {
	b.mu.Lock()
	if err := b.sync.Configure(foldersync.Config{
		WatchPath:  watchPath,
		PostAction: postAction,
	}); err != nil {
		b.mu.Unlock()
		return err
	}
	if err := b.sync.Start(); err != nil {
		b.mu.Unlock()
		return err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.broadcast("status", snap)
	return nil
}

// StopSync halts folder syncing.
func (b *Bridge) StopSync() {
	b.mu.Lock()
	b.sync.Stop()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.broadcast("status", snap)
}

// SyncStatus returns the folder-sync engine status.
func (b *Bridge) SyncStatus() foldersync.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sync.Status()
}

// Restore reconnects a persisted session and resumes background engines.
func (b *Bridge) Restore(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	restored, err := b.session.Restore(ctx)
	if err != nil {
		b.log.Warn("session restore failed", "error", err.Error())
		return
	}
	if !restored {
		b.log.Info("no stored credential, waiting for pairing")
		return
	}

	b.log.Info("session restored", "server", b.session.Info().ServerURL)
	b.poller.Start()
	b.startConfiguredSyncLocked()
}

// startConfiguredSyncLocked starts folder sync from the config file when it
// is enabled there and not already running.
func (b *Bridge) startConfiguredSyncLocked() {
	fs := b.cfg.FolderSync
	if !fs.Enabled || fs.WatchPath == "" || b.sync.Running() {
		return
	}
	if err := b.sync.Configure(foldersync.Config{
		WatchPath:  fs.WatchPath,
		PostAction: foldersync.PostAction(fs.PostAction),
	}); err != nil {
		b.log.Warn("configured folder sync rejected", "path", fs.WatchPath, "error", err.Error())
		return
	}
	if err := b.sync.Start(); err != nil {
		b.log.Warn("folder sync start failed", "error", err.Error())
	}
}

// Shutdown stops everything for process exit without touching the stored
// credential.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sync.Stop()
	b.poller.Stop()
	b.session.Close()
	b.hub.closeAll()
}
