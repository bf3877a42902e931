package bridge

import (
	"context"
	"encoding/xml"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

const wsDiscoveryMulticastAddr = "239.255.255.250:3702"

// WS-Discovery SOAP envelope structures (probe/match exchange).
type wsDiscoveryEnvelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Body    wsDiscoveryBody
}

type wsDiscoveryBody struct {
	Hello      *wsAnnouncement `xml:"http://schemas.xmlsoap.org/ws/2005/04/discovery Hello,omitempty"`
	ProbeMatch *wsProbeMatches `xml:"http://schemas.xmlsoap.org/ws/2005/04/discovery ProbeMatches,omitempty"`
}

type wsAnnouncement struct {
	Types  string `xml:"Types"`
	XAddrs string `xml:"XAddrs"`
}

type wsProbeMatches struct {
	Match []wsAnnouncement `xml:"http://schemas.xmlsoap.org/ws/2005/04/discovery ProbeMatch"`
}

// probeWSDiscovery sends a WS-Discovery Probe to the multicast group and
// collects ProbeMatch/Hello responses until ctx is done, invoking emit for
// each distinct IPv4 address found. Devices that answer here still need an
// eSCL capability check before they count as scanners.
func probeWSDiscovery(ctx context.Context, emit func(ip string)) {
	addr, err := net.ResolveUDPAddr("udp4", wsDiscoveryMulticastAddr)
	if err != nil {
		logWarn("WS-Discovery: failed to resolve multicast address", "error", err.Error())
		return
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		logWarn("WS-Discovery: failed to join multicast group", "error", err.Error())
		return
	}
	defer conn.Close()

	conn.SetReadBuffer(65536)

	// Brief delay so the listener is ready before responses arrive.
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(200 * time.Millisecond):
			sendProbe()
		}
	}()

	seen := map[string]bool{}
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read deadline allows periodic context checks.
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			logDebug("WS-Discovery: read error", "error", err.Error())
			continue
		}

		var envelope wsDiscoveryEnvelope
		if err := xml.Unmarshal(buf[:n], &envelope); err != nil {
			// Not all multicast traffic is WS-Discovery; ignore parse errors.
			continue
		}

		var xaddrs []string
		if envelope.Body.Hello != nil {
			xaddrs = append(xaddrs, envelope.Body.Hello.XAddrs)
		}
		if envelope.Body.ProbeMatch != nil {
			for _, m := range envelope.Body.ProbeMatch.Match {
				xaddrs = append(xaddrs, m.XAddrs)
			}
		}

		for _, xa := range xaddrs {
			for _, ip := range extractIPsFromXAddrs(xa) {
				if seen[ip] {
					continue
				}
				seen[ip] = true
				logDebug("WS-Discovery: device", "ip", ip)
				emit(ip)
			}
		}
	}
}

// sendProbe sends a WS-Discovery Probe message to discover existing devices
func sendProbe() {
	probeXML := `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing" xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <soap:Header>
    <wsa:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</wsa:Action>
    <wsa:MessageID>urn:uuid:` + uuid.NewString() + `</wsa:MessageID>
    <wsa:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</wsa:To>
  </soap:Header>
  <soap:Body>
    <wsd:Probe>
      <wsd:Types>wsdp:Device</wsd:Types>
    </wsd:Probe>
  </soap:Body>
</soap:Envelope>`

	addr, err := net.ResolveUDPAddr("udp4", wsDiscoveryMulticastAddr)
	if err != nil {
		logWarn("WS-Discovery probe: failed to resolve address", "error", err.Error())
		return
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		logWarn("WS-Discovery probe: failed to dial", "error", err.Error())
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(probeXML)); err != nil {
		logWarn("WS-Discovery probe: failed to send", "error", err.Error())
		return
	}

	logDebug("WS-Discovery: probe sent")
}

// extractIPsFromXAddrs parses an XAddrs field (space-separated URLs) and
// extracts the IPv4 addresses.
func extractIPsFromXAddrs(xaddrs string) []string {
	var ips []string
	for _, url := range strings.Fields(xaddrs) {
		url = strings.TrimPrefix(url, "http://")
		url = strings.TrimPrefix(url, "https://")
		if idx := strings.Index(url, ":"); idx > 0 {
			url = url[:idx]
		}
		if idx := strings.Index(url, "/"); idx > 0 {
			url = url[:idx]
		}
		if ip := net.ParseIP(url); ip != nil && ip.To4() != nil {
			ips = append(ips, ip.To4().String())
		}
	}
	return ips
}
