package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// mDNS service types for scanner discovery, most preferred first:
// eSCL over HTTPS, eSCL over HTTP, then generic scanner announcements.
var mdnsServiceTypes = []string{
	"_uscans._tcp",
	"_uscan._tcp",
	"_scanner._tcp",
}

// probeMDNS browses the scanner service types concurrently and emits one
// ScannerRecord per resolved service. It returns when ctx is done. Callers
// deduplicate; the same device commonly announces several service types.
func probeMDNS(ctx context.Context, emit func(ScannerRecord)) {
	var wg sync.WaitGroup
	for _, svcType := range mdnsServiceTypes {
		svcType := svcType
		wg.Add(1)
		go func() {
			defer wg.Done()
			browseServiceType(ctx, svcType, emit)
		}()
	}
	wg.Wait()
}

func browseServiceType(ctx context.Context, svcType string, emit func(ScannerRecord)) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logWarn("mDNS resolver error", "error", err.Error())
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e == nil {
				continue
			}
			if rec, ok := parseServiceEntry(e, svcType); ok {
				emit(rec)
			}
		}
	}()

	logDebug("mDNS browse start", "service", svcType)
	// Browse runs until ctx is done and closes the entries channel.
	if err := resolver.Browse(ctx, svcType, "local.", entries); err != nil {
		logWarn("mDNS browse error", "service", svcType, "error", err.Error())
	}
	<-done
}

// parseServiceEntry converts a resolved mDNS entry into a ScannerRecord.
// TXT keys follow the eSCL/AirScan convention: ty/product (model), uuid,
// duplex, is (input sources), rs (resource path).
func parseServiceEntry(e *zeroconf.ServiceEntry, svcType string) (ScannerRecord, bool) {
	if len(e.AddrIPv4) == 0 {
		return ScannerRecord{}, false
	}
	ip := e.AddrIPv4[0].String()
	port := e.Port

	txt := parseTXT(e.Text)

	model := txt["ty"]
	if model == "" {
		model = txt["product"]
	}
	if model == "" {
		model = strings.TrimSuffix(e.Instance, ".")
	}
	if model == "" {
		model = fmt.Sprintf("Scanner at %s", ip)
	}

	id := txt["uuid"]
	if id == "" {
		id = fmt.Sprintf("%s:%d", ip, port)
	}

	inputSources := strings.ToLower(txt["is"])
	caps := Capabilities{
		Duplex:        isTruthy(txt["duplex"]),
		ADF:           strings.Contains(inputSources, "adf") || strings.Contains(inputSources, "feeder"),
		Flatbed:       strings.Contains(inputSources, "platen") || inputSources == "",
		MaxResolution: 600,
		ColorModes:    []string{"RGB24", "Grayscale8"},
		Formats:       []string{"application/pdf", "image/jpeg"},
	}

	rsPath := strings.TrimLeft(txt["rs"], "/")
	if rsPath == "" {
		rsPath = "eSCL"
	}

	rec := ScannerRecord{
		ID:              id,
		Name:            model,
		Manufacturer:    extractManufacturer(model),
		Model:           model,
		IP:              ip,
		Port:            port,
		UseTLS:          svcType == "_uscans._tcp",
		Protocols:       []string{ProtocolESCL},
		Capabilities:    caps,
		DiscoveryMethod: MethodMDNS,
		RSPath:          rsPath,
	}

	logDebug("mDNS scanner resolved", "model", model, "ip", ip, "port", port, "rs", rsPath)
	return rec, true
}

// parseTXT splits "key=value" TXT records into a map with lowercase keys.
func parseTXT(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		if kv == "" {
			continue
		}
		if idx := strings.Index(kv, "="); idx > 0 {
			out[strings.ToLower(kv[:idx])] = kv[idx+1:]
		} else {
			out[strings.ToLower(kv)] = ""
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "t", "true", "1", "yes":
		return true
	}
	return false
}
