package main

import (
	"os"
	"path/filepath"
	"time"

	"scanbridge/bridge"
	"scanbridge/config"
)

const configFileName = "scanbridge.toml"

// BridgeConfig is the on-disk configuration (TOML) plus env overrides.
type BridgeConfig struct {
	Server     ServerSettings        `toml:"server"`
	Logging    config.LoggingConfig  `toml:"logging"`
	Database   config.DatabaseConfig `toml:"database"`
	Discovery  DiscoverySettings     `toml:"discovery"`
	FolderSync FolderSyncSettings    `toml:"folder_sync"`
}

// ServerSettings configures the local HTTP API. The listener binds loopback
// only; the bridge is driven by a UI on the same machine.
type ServerSettings struct {
	Listen string `toml:"listen"`
}

// DiscoverySettings toggles the discovery probes.
type DiscoverySettings struct {
	MDNS           bool   `toml:"mdns"`
	WSDiscovery    bool   `toml:"ws_discovery"`
	SubnetScan     bool   `toml:"subnet_scan"`
	SNMP           bool   `toml:"snmp"`
	SNMPCommunity  string `toml:"snmp_community"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// FolderSyncSettings preconfigures folder sync so it resumes on restart.
type FolderSyncSettings struct {
	Enabled    bool   `toml:"enabled"`
	WatchPath  string `toml:"watch_path"`
	PostAction string `toml:"post_action"`
}

func defaultConfig() *BridgeConfig {
	return &BridgeConfig{
		Server: ServerSettings{
			Listen: "127.0.0.1:8532",
		},
		Logging: config.LoggingConfig{
			Level: "INFO",
		},
		Discovery: DiscoverySettings{
			MDNS:           true,
			WSDiscovery:    true,
			SubnetScan:     true,
			SNMP:           true,
			SNMPCommunity:  "public",
			TimeoutSeconds: 10,
		},
		FolderSync: FolderSyncSettings{
			PostAction: "move",
		},
	}
}

// loadConfig finds and parses the config file, creating a default one in
// the data directory when none exists. Env overrides come last.
func loadConfig(dataDir string) (*BridgeConfig, string, error) {
	cfg := defaultConfig()

	path, _, err := config.FindConfigFile(configFileName)
	if err != nil {
		// First run: persist the defaults so users have a file to edit.
		path = filepath.Join(dataDir, configFileName)
		if werr := config.WriteDefaultTOML(path, cfg); werr != nil {
			return nil, "", werr
		}
	} else {
		if lerr := config.LoadTOML(path, cfg); lerr != nil {
			return nil, "", lerr
		}
	}

	config.ApplyLoggingEnvOverrides(&cfg.Logging)
	config.ApplyDatabaseEnvOverrides(&cfg.Database)
	if val := os.Getenv("SCANBRIDGE_LISTEN"); val != "" {
		cfg.Server.Listen = val
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8532"
	}
	return cfg, path, nil
}

// discoveryConfig maps the file settings onto the probe configuration.
func (c *BridgeConfig) discoveryConfig() bridge.DiscoveryConfig {
	dc := bridge.DefaultDiscoveryConfig()
	dc.MDNSEnabled = c.Discovery.MDNS
	dc.WSDiscoveryEnabled = c.Discovery.WSDiscovery
	dc.SubnetScanEnabled = c.Discovery.SubnetScan
	dc.SNMPEnabled = c.Discovery.SNMP
	if c.Discovery.SNMPCommunity != "" {
		dc.SNMP.Community = c.Discovery.SNMPCommunity
	}
	return dc
}

// discoveryTimeout returns the configured overall discovery window.
func (c *BridgeConfig) discoveryTimeout() time.Duration {
	if c.Discovery.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Discovery.TimeoutSeconds) * time.Second
}
