package bridge

import (
	"context"
	"testing"
	"time"
)

func TestDiscoverFansInAndDedupes(t *testing.T) {
	cfg := DiscoveryConfig{
		MDNSEnabled:       true,
		SubnetScanEnabled: true,
		mdnsProbe: func(ctx context.Context, emit func(ScannerRecord)) {
			emit(ScannerRecord{
				ID:              "uuid-1",
				Name:            "Brother ADS-1700W",
				IP:              "192.168.1.50",
				Port:            443,
				UseTLS:          true,
				Protocols:       []string{ProtocolESCL},
				DiscoveryMethod: MethodMDNS,
			})
		},
		subnetProbe: func(ctx context.Context, scanCfg subnetScanConfig, emit func(ScannerRecord)) {
			// Same device seen again by the active scan, plus a second one.
			emit(ScannerRecord{
				ID:              "uuid-1",
				Name:            "Scanner at 192.168.1.50",
				IP:              "192.168.1.50",
				Port:            80,
				Protocols:       []string{ProtocolESCL},
				DiscoveryMethod: MethodSubnetScan,
			})
			emit(ScannerRecord{
				ID:              "uuid-2",
				Name:            "Epson ES-580W",
				IP:              "192.168.1.60",
				Port:            80,
				Protocols:       []string{ProtocolESCL},
				DiscoveryMethod: MethodSubnetScan,
			})
		},
	}

	records := Discover(context.Background(), cfg, 2*time.Second)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	// Name-sorted output.
	if records[0].ID != "uuid-1" || records[1].ID != "uuid-2" {
		t.Fatalf("unexpected order: %s, %s", records[0].ID, records[1].ID)
	}
	// The mDNS sighting wins the merge: real name, TLS endpoint, mdns method.
	if records[0].Name != "Brother ADS-1700W" {
		t.Errorf("merged name = %q", records[0].Name)
	}
	if !records[0].UseTLS || records[0].Port != 443 {
		t.Errorf("merged endpoint = %s:%d tls=%v", records[0].IP, records[0].Port, records[0].UseTLS)
	}
	if records[0].DiscoveryMethod != MethodMDNS {
		t.Errorf("merged method = %q", records[0].DiscoveryMethod)
	}
}

func TestDiscoverSkipsDisabledProbes(t *testing.T) {
	called := false
	cfg := DiscoveryConfig{
		MDNSEnabled: false,
		mdnsProbe: func(ctx context.Context, emit func(ScannerRecord)) {
			called = true
		},
	}

	records := Discover(context.Background(), cfg, 500*time.Millisecond)
	if called {
		t.Fatal("disabled mDNS probe was run")
	}
	if len(records) != 0 {
		t.Fatalf("got %d records from no probes", len(records))
	}
}

func TestDiscoverVerifiesWSDCandidates(t *testing.T) {
	cfg := DiscoveryConfig{
		WSDiscoveryEnabled: true,
		wsdProbe: func(ctx context.Context, emit func(ip string)) {
			emit("10.0.0.5") // has an eSCL endpoint on 443
			emit("10.0.0.6") // WSD-only device, no eSCL
		},
		capability: func(ctx context.Context, ip string, port int) (ScannerRecord, bool) {
			if ip == "10.0.0.5" && port == 443 {
				return ScannerRecord{
					ID:     "uuid-5",
					Name:   "Canon imageFORMULA R40",
					IP:     ip,
					Port:   port,
					UseTLS: true,
				}, true
			}
			return ScannerRecord{}, false
		},
	}

	records := Discover(context.Background(), cfg, 2*time.Second)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(records), records)
	}
	rec := records[0]
	if rec.DiscoveryMethod != MethodWSDiscovery {
		t.Errorf("method = %q", rec.DiscoveryMethod)
	}
	if !rec.HasProtocol(ProtocolESCL) || !rec.HasProtocol(ProtocolWSD) {
		t.Errorf("protocols = %v, want escl and wsd", rec.Protocols)
	}
}

func TestDiscoverHonorsBoundingTimeout(t *testing.T) {
	cfg := DiscoveryConfig{
		MDNSEnabled: true,
		mdnsProbe: func(ctx context.Context, emit func(ScannerRecord)) {
			emit(ScannerRecord{ID: "early", Name: "Early Scanner"})
			<-ctx.Done() // a probe that never returns on its own
		},
	}

	start := time.Now()
	records := Discover(context.Background(), cfg, 300*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Discover blocked for %v past the timeout", elapsed)
	}
	// Partial results from before the deadline are still returned.
	if len(records) != 1 || records[0].ID != "early" {
		t.Fatalf("records = %+v, want the early partial result", records)
	}
}
