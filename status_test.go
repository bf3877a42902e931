package main

import (
	"context"
	"testing"
	"time"

	"scanbridge/bridge"
)

func TestSnapshotNotBlockedByDiscovery(t *testing.T) {
	b, _ := newTestBridge(t)

	started := make(chan struct{})
	release := make(chan struct{})
	b.discover = func(ctx context.Context, cfg bridge.DiscoveryConfig, timeout time.Duration) []bridge.ScannerRecord {
		close(started)
		<-release
		return []bridge.ScannerRecord{{ID: "s1", Name: "Brother ADS-1700W"}}
	}

	done := make(chan []bridge.ScannerRecord, 1)
	go func() {
		done <- b.Discover(context.Background(), time.Minute)
	}()
	<-started

	// The probe window is still open; a status poll must not queue behind it.
	snapped := make(chan StatusSnapshot, 1)
	go func() { snapped <- b.Snapshot() }()
	select {
	case s := <-snapped:
		if s.ScannerCount != 0 {
			t.Fatalf("scanner count = %d before discovery committed", s.ScannerCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status blocked behind a running discovery")
	}

	close(release)
	records := <-done
	if len(records) != 1 || records[0].ID != "s1" {
		t.Fatalf("discovery result = %+v", records)
	}
	if got := b.Snapshot().ScannerCount; got != 1 {
		t.Fatalf("scanner count = %d after discovery committed", got)
	}
}
