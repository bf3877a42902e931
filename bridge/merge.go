package bridge

import (
	"sort"
	"strings"
)

// MergeScannerRecords merges two records that share the same ID, preferring
// non-empty and more specific fields from `extra` while preserving `base` as
// the fallback. Protocol sets are unioned; the discovery method with the
// higher specificity rank wins; endpoint fields (ip/port/tls/rs_path) follow
// whichever record scores better as a scan target.
func MergeScannerRecords(base ScannerRecord, extra ScannerRecord) ScannerRecord {
	// strings: prefer extra if non-empty and base is a placeholder
	if extra.Name != "" && (base.Name == "" || isPlaceholderName(base.Name) && !isPlaceholderName(extra.Name)) {
		base.Name = extra.Name
	}
	if extra.Manufacturer != "" && (base.Manufacturer == "" || base.Manufacturer == "Unknown") {
		base.Manufacturer = extra.Manufacturer
	}
	if extra.Model != "" && (base.Model == "" || isPlaceholderName(base.Model) && !isPlaceholderName(extra.Model)) {
		base.Model = extra.Model
	}

	// protocols: union, stable order
	seen := map[string]bool{}
	protos := []string{}
	for _, p := range append(append([]string{}, base.Protocols...), extra.Protocols...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		protos = append(protos, p)
	}
	base.Protocols = protos

	// endpoint: keep whichever looks like the better scan target
	if endpointScore(extra) > endpointScore(base) {
		base.IP = extra.IP
		base.Port = extra.Port
		base.UseTLS = extra.UseTLS
		if extra.RSPath != "" {
			base.RSPath = extra.RSPath
		}
	} else if base.RSPath == "" && extra.RSPath != "" {
		base.RSPath = extra.RSPath
	}

	// capabilities: prefer true/non-zero extra values
	if extra.Capabilities.Duplex {
		base.Capabilities.Duplex = true
	}
	if extra.Capabilities.ADF {
		base.Capabilities.ADF = true
	}
	if extra.Capabilities.Flatbed {
		base.Capabilities.Flatbed = true
	}
	if extra.Capabilities.MaxResolution > base.Capabilities.MaxResolution {
		base.Capabilities.MaxResolution = extra.Capabilities.MaxResolution
	}
	if len(base.Capabilities.ColorModes) == 0 {
		base.Capabilities.ColorModes = extra.Capabilities.ColorModes
	}
	if len(base.Capabilities.Formats) == 0 {
		base.Capabilities.Formats = extra.Capabilities.Formats
	}

	// discovery method: higher specificity rank wins
	if methodRank[extra.DiscoveryMethod] > methodRank[base.DiscoveryMethod] {
		base.DiscoveryMethod = extra.DiscoveryMethod
	}

	return base
}

// endpointScore ranks scan endpoints: TLS and standard ports beat ephemeral
// ones, IPv4 beats link-local IPv6.
func endpointScore(r ScannerRecord) int {
	score := 0
	if r.UseTLS {
		score += 20
	}
	switch r.Port {
	case 443:
		score += 15
	case 80:
		score += 10
	case 8080:
		score += 5
	}
	if !strings.Contains(r.IP, ":") {
		score += 3
	} else if strings.HasPrefix(strings.ToLower(r.IP), "fe80:") {
		score -= 3
	}
	return score
}

// isPlaceholderName reports whether a name was synthesized by a probe that
// could not read the real model (e.g. "Scanner at 10.0.0.5").
func isPlaceholderName(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "scanner at ") || strings.HasPrefix(n, "escl scanner")
}

// dedupeRecords collapses records sharing an ID and returns them sorted by name.
func dedupeRecords(records []ScannerRecord) []ScannerRecord {
	byID := make(map[string]ScannerRecord)
	order := []string{}
	for _, rec := range records {
		if existing, ok := byID[rec.ID]; ok {
			byID[rec.ID] = MergeScannerRecords(existing, rec)
			continue
		}
		byID[rec.ID] = rec
		order = append(order, rec.ID)
	}

	out := make([]ScannerRecord, 0, len(byID))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
