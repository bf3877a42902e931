package bridge

import (
	"context"
	"sync"
	"time"
)

// DiscoveryConfig holds settings for which discovery probes are enabled and
// how they behave.
type DiscoveryConfig struct {
	MDNSEnabled        bool
	WSDiscoveryEnabled bool
	SubnetScanEnabled  bool
	// SNMPEnabled allows the subnet scan to identify devices whose
	// capability XML lacks make/model.
	SNMPEnabled bool
	SNMP        SNMPSettings
	// SubnetWorkers bounds the active-scan pool (default 32).
	SubnetWorkers int
	// MDNSWindow and WSDiscoveryWindow are the per-probe listen windows.
	MDNSWindow        time.Duration
	WSDiscoveryWindow time.Duration

	// Test seams. When nil the real probes run.
	mdnsProbe   func(ctx context.Context, emit func(ScannerRecord))
	wsdProbe    func(ctx context.Context, emit func(ip string))
	subnetProbe func(ctx context.Context, cfg subnetScanConfig, emit func(ScannerRecord))
	capability  func(ctx context.Context, ip string, port int) (ScannerRecord, bool)
}

// DefaultDiscoveryConfig enables all probes with the usual windows.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MDNSEnabled:        true,
		WSDiscoveryEnabled: true,
		SubnetScanEnabled:  true,
		SNMPEnabled:        true,
		SNMP:               SNMPSettings{Community: "public", TimeoutMs: 2000, Retries: 1},
		SubnetWorkers:      32,
		MDNSWindow:         5 * time.Second,
		WSDiscoveryWindow:  3 * time.Second,
	}
}

// Discover runs the enabled probes concurrently under one bounding timeout
// and returns the deduplicated, name-sorted scanner list. Each probe has its
// own failure mode: a probe that errors or finds nothing contributes zero
// records and never fails the call. Partial results are returned when the
// bounding timeout elapses before all probes finish.
func Discover(ctx context.Context, cfg DiscoveryConfig, timeout time.Duration) []ScannerRecord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		records []ScannerRecord
	)
	emit := func(rec ScannerRecord) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}

	capability := cfg.capability
	if capability == nil {
		capability = queryESCLCapabilities
	}

	var wg sync.WaitGroup

	if cfg.MDNSEnabled {
		probe := cfg.mdnsProbe
		if probe == nil {
			probe = probeMDNS
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			window := cfg.MDNSWindow
			if window <= 0 || window > timeout {
				window = timeout
			}
			mctx, mcancel := context.WithTimeout(ctx, window)
			defer mcancel()
			probe(mctx, emit)
		}()
	}

	if cfg.WSDiscoveryEnabled {
		probe := cfg.wsdProbe
		if probe == nil {
			probe = probeWSDiscovery
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			window := cfg.WSDiscoveryWindow
			if window <= 0 || window > timeout {
				window = timeout
			}
			wctx, wcancel := context.WithTimeout(ctx, window)
			defer wcancel()
			runWSDiscoveryProbe(wctx, probe, capability, emit)
		}()
	}

	if cfg.SubnetScanEnabled {
		probe := cfg.subnetProbe
		if probe == nil {
			probe = probeSubnet
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanCfg := subnetScanConfig{
				Workers:        cfg.SubnetWorkers,
				CapabilityFunc: cfg.capability,
			}
			if cfg.SNMPEnabled {
				snmp := cfg.SNMP
				scanCfg.IdentifyFunc = func(ctx context.Context, rec ScannerRecord) ScannerRecord {
					return identifyViaSNMP(ctx, rec, snmp)
				}
			}
			probe(ctx, scanCfg, emit)
		}()
	}

	// Fan-in: wait for all probes or the bounding timeout, whichever first.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	out := make([]ScannerRecord, len(records))
	copy(out, records)
	mu.Unlock()

	deduped := dedupeRecords(out)
	logInfo("discovery finished", "raw", len(out), "scanners", len(deduped))
	return deduped
}

// runWSDiscoveryProbe wires the raw WS-Discovery candidate stream through
// the eSCL capability check. A device that only speaks WSD (no eSCL
// endpoint) is not usable for scanning and is dropped.
func runWSDiscoveryProbe(ctx context.Context, probe func(context.Context, func(string)), capability func(context.Context, string, int) (ScannerRecord, bool), emit func(ScannerRecord)) {
	candidates := make(chan string, 16)
	var verifiers sync.WaitGroup
	for i := 0; i < 4; i++ {
		verifiers.Add(1)
		go func() {
			defer verifiers.Done()
			for ip := range candidates {
				for _, port := range []int{80, 443, 8080} {
					rec, ok := capability(ctx, ip, port)
					if !ok {
						continue
					}
					rec.DiscoveryMethod = MethodWSDiscovery
					rec.Protocols = []string{ProtocolESCL, ProtocolWSD}
					emit(rec)
					break
				}
			}
		}()
	}

	probe(ctx, func(ip string) {
		select {
		case candidates <- ip:
		case <-ctx.Done():
		}
	})
	close(candidates)
	verifiers.Wait()
}
