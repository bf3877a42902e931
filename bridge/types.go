package bridge

import "strings"

// Protocol names advertised in ScannerRecord.Protocols.
const (
	ProtocolESCL = "escl"
	ProtocolWSD  = "wsd"
)

// Discovery method names, from most to least specific. When the same device
// is seen by several probes the record keeps the most specific method.
const (
	MethodMDNS        = "mdns"
	MethodWSDiscovery = "wsd"
	MethodSubnetScan  = "subnet_scan"
)

// methodRank orders discovery methods by specificity. Higher wins.
var methodRank = map[string]int{
	MethodMDNS:        3,
	MethodWSDiscovery: 2,
	MethodSubnetScan:  1,
}

// Capabilities describes what a scanner can do, as far as discovery can tell.
type Capabilities struct {
	Duplex        bool     `json:"duplex"`
	ADF           bool     `json:"adf"`
	Flatbed       bool     `json:"flatbed"`
	MaxResolution int      `json:"max_resolution"`
	ColorModes    []string `json:"color_modes"`
	Formats       []string `json:"formats"`
}

// ScannerRecord holds one discovered scanner. Records live for the duration
// of a discovery run; they are not persisted between runs (the storage layer
// keeps a best-effort cache for the UI, nothing more).
type ScannerRecord struct {
	// ID is a stable fingerprint for the physical device: the device UUID
	// from the mDNS TXT record when advertised, otherwise "ip:port".
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Manufacturer string       `json:"manufacturer"`
	Model        string       `json:"model"`
	IP           string       `json:"ip"`
	Port         int          `json:"port"`
	UseTLS       bool         `json:"use_tls"`
	Protocols    []string     `json:"protocols"`
	Capabilities Capabilities `json:"capabilities"`
	// DiscoveryMethod records which probe produced this record (mdns, wsd,
	// subnet_scan). After merging it reflects the most specific source.
	DiscoveryMethod string `json:"discovery_method"`
	// RSPath is the eSCL resource path from the mDNS "rs" TXT record
	// (e.g. "eSCL", "eSCL2"). Needed to build correct scan URLs.
	RSPath string `json:"rs_path"`
}

// HasProtocol reports whether the record advertises the given protocol.
func (r *ScannerRecord) HasProtocol(p string) bool {
	for _, proto := range r.Protocols {
		if proto == p {
			return true
		}
	}
	return false
}

// defaultCapabilities are assumed for eSCL endpoints that answered the
// capability query but did not advertise details over mDNS.
func defaultCapabilities() Capabilities {
	return Capabilities{
		Flatbed:       true,
		MaxResolution: 600,
		ColorModes:    []string{"RGB24", "Grayscale8"},
		Formats:       []string{"application/pdf", "image/jpeg"},
	}
}

var knownVendors = []struct {
	key  string
	name string
}{
	{"hp", "HP"},
	{"hewlett", "HP"},
	{"canon", "Canon"},
	{"brother", "Brother"},
	{"epson", "Epson"},
	{"samsung", "Samsung"},
	{"xerox", "Xerox"},
	{"lexmark", "Lexmark"},
	{"ricoh", "Ricoh"},
	{"kyocera", "Kyocera"},
	{"konica", "Konica Minolta"},
	{"fujitsu", "Fujitsu"},
}

// extractManufacturer derives a vendor name from a model string.
func extractManufacturer(model string) string {
	lower := strings.ToLower(model)
	for _, v := range knownVendors {
		if strings.Contains(lower, v.key) {
			return v.name
		}
	}
	return "Unknown"
}
