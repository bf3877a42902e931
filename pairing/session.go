package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"scanbridge/bridge"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	// heartbeatFailLimit is how many consecutive heartbeat failures flip
	// the session to disconnected. The credential is kept; the next
	// successful heartbeat reconnects.
	heartbeatFailLimit = 3
)

// SessionInfo is a read-only view of the session for status snapshots.
type SessionInfo struct {
	Connected      bool
	ServerURL      string
	BridgeID       string
	TenantName     string
	UpdateRequired bool
}

// Manager owns the pairing credential and the connection lifecycle.
type Manager struct {
	mu sync.RWMutex

	store      Store
	version    string
	bridgeName string

	client         *bridge.Client
	cred           *Credential
	connected      bool
	updateRequired bool
	failCount      int

	heartbeatInterval time.Duration
	heartbeatCancel   context.CancelFunc
	heartbeatDone     chan struct{}

	// newClient is a test seam; defaults to bridge.NewClient.
	newClient func(serverURL, apiKey string) *bridge.Client
	// onDisconnect lets the owner stop dependent engines (folder sync,
	// scan poller) when the user disconnects.
	onDisconnect func()
}

// NewManager creates a session manager. version is the bridge's own semver
// string, bridgeName the default name offered during registration.
func NewManager(store Store, version, bridgeName string) *Manager {
	return &Manager{
		store:             store,
		version:           version,
		bridgeName:        bridgeName,
		heartbeatInterval: defaultHeartbeatInterval,
		newClient: func(serverURL, apiKey string) *bridge.Client {
			return bridge.NewClient(serverURL, apiKey, "", false)
		},
	}
}

// SetDisconnectHook registers a callback invoked after a user-initiated
// disconnect has cleared the credential.
func (m *Manager) SetDisconnectHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// Pair exchanges a pairing code for a credential and connects the session.
// serverURL is only consulted for manual codes; a structured code carries
// its own URL which always wins. Nothing is persisted on failure.
func (m *Manager) Pair(ctx context.Context, code, serverURL string) (*Credential, error) {
	payload, err := parseCode(code)
	if err != nil {
		return nil, err
	}

	var (
		token      string
		name       = m.bridgeName
		minVersion string
	)

	if payload != nil {
		serverURL = payload.ServerURL
		token = payload.Token
		if payload.BridgeName != "" {
			name = payload.BridgeName
		}
		minVersion = payload.MinBridgeVersion
	} else {
		if !validServerURL(serverURL) {
			return nil, fmt.Errorf("%w: manual codes require a server URL", ErrInvalidCodeFormat)
		}
		resolved, err := m.newClient(serverURL, "").ResolveCode(ctx, code)
		if err != nil {
			return nil, classifyServerError(err)
		}
		token = resolved.PairingToken
		if resolved.BridgeName != "" {
			name = resolved.BridgeName
		}
		// The user-supplied URL stays authoritative: the server may sit
		// behind a reverse proxy and report itself without the port.
	}

	client := m.newClient(serverURL, "")
	resp, err := client.Register(ctx, token, name, m.version)
	if err != nil {
		return nil, classifyServerError(err)
	}
	if resp.MinBridgeVersion != "" {
		minVersion = resp.MinBridgeVersion
	}

	cred := &Credential{
		APIKey:       resp.APIKey,
		RefreshToken: resp.RefreshToken,
		ServerURL:    serverURL,
		BridgeID:     resp.BridgeID,
		TenantName:   resp.TenantName,
		PairedAt:     time.Now(),
	}
	if err := m.store.Save(cred); err != nil {
		return nil, fmt.Errorf("pairing succeeded but credential could not be stored: %w", err)
	}

	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.client = client
	m.cred = cred
	m.connected = true
	m.failCount = 0
	m.updateRequired = versionTooOld(m.version, minVersion)
	m.startHeartbeatLocked()
	m.mu.Unlock()

	return cred, nil
}

// Restore loads a persisted credential and reconnects without user
// interaction. Returns false when no credential is stored. The session
// starts connected; the heartbeat demotes it if the credential turned
// stale while the bridge was down.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	cred, err := m.store.Load()
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}

	client := m.newClient(cred.ServerURL, cred.APIKey)

	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.client = client
	m.cred = cred
	m.connected = true
	m.failCount = 0
	m.startHeartbeatLocked()
	m.mu.Unlock()

	// Validate eagerly so status reflects reality soon after startup.
	if err := client.CheckStatus(ctx); err != nil {
		m.recordHeartbeat(false)
	} else {
		m.recordHeartbeat(true)
	}
	return true, nil
}

// Disconnect clears the credential and stops the heartbeat. Idempotent.
// In-flight uploads are unaffected; they captured the credential at task
// start and run to a definite outcome.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.client = nil
	m.cred = nil
	m.connected = false
	m.updateRequired = false
	m.failCount = 0
	hook := m.onDisconnect
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Close stops the heartbeat without touching the stored credential.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.mu.Unlock()
}

// Connected reports whether the session currently has a working credential.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Info returns a consistent view of the session.
func (m *Manager) Info() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := SessionInfo{
		Connected:      m.connected,
		UpdateRequired: m.updateRequired,
	}
	if m.cred != nil {
		info.ServerURL = m.cred.ServerURL
		info.BridgeID = m.cred.BridgeID
		info.TenantName = m.cred.TenantName
	}
	return info
}

// Client returns the server client for the current session, or nil when no
// credential is held. Callers must tolerate nil.
func (m *Manager) Client() *bridge.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) startHeartbeatLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.heartbeatCancel = cancel
	m.heartbeatDone = done

	client := m.client
	interval := m.heartbeatInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hctx, hcancel := context.WithTimeout(ctx, 10*time.Second)
				err := client.CheckStatus(hctx)
				hcancel()
				m.recordHeartbeat(err == nil)
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
		m.heartbeatCancel = nil
	}
	m.heartbeatDone = nil
}

// recordHeartbeat applies the 3-strike rule: consecutive failures demote
// the session to disconnected without dropping the credential, and any
// success restores it.
func (m *Manager) recordHeartbeat(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A disconnect may have raced the heartbeat; don't resurrect it.
	if m.cred == nil {
		return
	}

	if ok {
		m.failCount = 0
		m.connected = true
		return
	}
	m.failCount++
	if m.failCount >= heartbeatFailLimit && m.connected {
		m.connected = false
	}
}

// versionTooOld reports whether current is below the server's advertised
// minimum. Unparseable versions never block pairing.
func versionTooOld(current, minimum string) bool {
	if minimum == "" {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	min, err := semver.NewVersion(minimum)
	if err != nil {
		return false
	}
	return cur.LessThan(min)
}
