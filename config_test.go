package main

import (
	"path/filepath"
	"testing"
	"time"

	"scanbridge/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Listen != "127.0.0.1:8532" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if !cfg.Discovery.MDNS || !cfg.Discovery.WSDiscovery || !cfg.Discovery.SubnetScan {
		t.Errorf("discovery probes disabled by default: %+v", cfg.Discovery)
	}
	if cfg.Discovery.SNMPCommunity != "public" {
		t.Errorf("snmp community = %q", cfg.Discovery.SNMPCommunity)
	}
	if cfg.FolderSync.Enabled {
		t.Error("folder sync should be opt-in")
	}
	if cfg.FolderSync.PostAction != "move" {
		t.Errorf("post action = %q", cfg.FolderSync.PostAction)
	}
}

func TestConfigTOMLRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)

	orig := defaultConfig()
	orig.Server.Listen = "127.0.0.1:9999"
	orig.Discovery.SubnetScan = false
	orig.FolderSync.Enabled = true
	orig.FolderSync.WatchPath = "/mnt/scans"
	if err := config.WriteDefaultTOML(path, orig); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded := defaultConfig()
	if err := config.LoadTOML(path, loaded); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %q", loaded.Server.Listen)
	}
	if loaded.Discovery.SubnetScan {
		t.Error("subnet_scan did not round-trip")
	}
	if !loaded.FolderSync.Enabled || loaded.FolderSync.WatchPath != "/mnt/scans" {
		t.Errorf("folder_sync did not round-trip: %+v", loaded.FolderSync)
	}
}

func TestDiscoveryConfigMapping(t *testing.T) {
	cfg := defaultConfig()
	cfg.Discovery.MDNS = false
	cfg.Discovery.SNMP = false
	cfg.Discovery.SNMPCommunity = "internal"

	dc := cfg.discoveryConfig()
	if dc.MDNSEnabled {
		t.Error("mdns should be disabled")
	}
	if !dc.WSDiscoveryEnabled || !dc.SubnetScanEnabled {
		t.Error("enabled probes lost in mapping")
	}
	if dc.SNMPEnabled {
		t.Error("snmp should be disabled")
	}
	if dc.SNMP.Community != "internal" {
		t.Errorf("snmp community = %q", dc.SNMP.Community)
	}
}

func TestDiscoveryTimeout(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.discoveryTimeout(); got != 10*time.Second {
		t.Errorf("default timeout = %v", got)
	}
	cfg.Discovery.TimeoutSeconds = 30
	if got := cfg.discoveryTimeout(); got != 30*time.Second {
		t.Errorf("timeout = %v", got)
	}
	cfg.Discovery.TimeoutSeconds = -1
	if got := cfg.discoveryTimeout(); got != 10*time.Second {
		t.Errorf("negative timeout should fall back to default, got %v", got)
	}
}

func TestLoadConfigListenEnvOverride(t *testing.T) {
	t.Setenv("SCANBRIDGE_LISTEN", "127.0.0.1:7777")

	cfg, path, err := loadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path == "" {
		t.Fatal("no config path returned")
	}
	if cfg.Server.Listen != "127.0.0.1:7777" {
		t.Errorf("listen = %q, env override not applied", cfg.Server.Listen)
	}
}
