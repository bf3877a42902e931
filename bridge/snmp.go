package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// OIDs used for compact device identification. The subnet scan only needs
// enough to name a device the capability XML could not.
const (
	oidSysDescr      = "1.3.6.1.2.1.1.1.0"
	oidSysName       = "1.3.6.1.2.1.1.5.0"
	oidHrDeviceDescr = "1.3.6.1.2.1.25.3.2.1.3.1"
)

// SNMPSettings holds SNMP client parameters for identification queries.
type SNMPSettings struct {
	Community string
	TimeoutMs int
	Retries   int
}

// snmpGetFunc performs an SNMP GET for the given OIDs against target.
// Replaceable for tests.
var snmpGetFunc = snmpGet

func snmpGet(target string, settings SNMPSettings, oids []string) (map[string]string, error) {
	timeout := time.Duration(settings.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	community := settings.Community
	if community == "" {
		community = "public"
	}

	conn := &gosnmp.GoSNMP{
		Target:    target,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   settings.Retries,
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target, err)
	}
	defer conn.Conn.Close()

	packet, err := conn.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("snmp get %s: %w", target, err)
	}

	out := make(map[string]string, len(packet.Variables))
	for _, pdu := range packet.Variables {
		switch v := pdu.Value.(type) {
		case []byte:
			out[strings.TrimPrefix(pdu.Name, ".")] = strings.TrimSpace(string(v))
		case string:
			out[strings.TrimPrefix(pdu.Name, ".")] = strings.TrimSpace(v)
		}
	}
	return out, nil
}

// identifyViaSNMP fills manufacturer/model/name on a subnet-scan record from
// the device's SNMP system group. Best effort: any failure returns the
// record unchanged.
func identifyViaSNMP(ctx context.Context, rec ScannerRecord, settings SNMPSettings) ScannerRecord {
	if ctx.Err() != nil {
		return rec
	}

	values, err := snmpGetFunc(rec.IP, settings, []string{oidSysDescr, oidSysName, oidHrDeviceDescr})
	if err != nil {
		logDebug("SNMP identify failed", "ip", rec.IP, "error", err.Error())
		return rec
	}

	model := values[oidHrDeviceDescr]
	if model == "" {
		model = firstLine(values[oidSysDescr])
	}
	if model != "" {
		rec.Model = model
		rec.Manufacturer = extractManufacturer(model)
		if isPlaceholderName(rec.Name) {
			rec.Name = model
		}
	}
	if name := values[oidSysName]; name != "" && isPlaceholderName(rec.Name) {
		rec.Name = name
	}
	return rec
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
