package bridge

import (
	"encoding/xml"
	"reflect"
	"testing"
)

func TestExtractIPsFromXAddrs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"http://192.168.1.42:80/StableWSDiscoveryEndpoint/schemas-xmlsoap-org_ws_2005_04_discovery", []string{"192.168.1.42"}},
		{"http://10.0.0.5:3911/ https://10.0.0.5:3912/", []string{"10.0.0.5", "10.0.0.5"}},
		{"http://[fe80::1]:80/", nil},
		{"not-a-url", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := extractIPsFromXAddrs(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractIPsFromXAddrs(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseProbeMatchEnvelope(t *testing.T) {
	payload := `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
               xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <soap:Body>
    <wsd:ProbeMatches>
      <wsd:ProbeMatch>
        <wsd:Types>wsdp:Device</wsd:Types>
        <wsd:XAddrs>http://192.168.1.77:5357/device</wsd:XAddrs>
      </wsd:ProbeMatch>
    </wsd:ProbeMatches>
  </soap:Body>
</soap:Envelope>`

	var envelope wsDiscoveryEnvelope
	if err := xml.Unmarshal([]byte(payload), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Body.ProbeMatch == nil || len(envelope.Body.ProbeMatch.Match) != 1 {
		t.Fatalf("probe matches not parsed: %+v", envelope.Body)
	}
	ips := extractIPsFromXAddrs(envelope.Body.ProbeMatch.Match[0].XAddrs)
	if len(ips) != 1 || ips[0] != "192.168.1.77" {
		t.Fatalf("ips = %v, want [192.168.1.77]", ips)
	}
}

func TestParseHelloEnvelope(t *testing.T) {
	payload := `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
               xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <soap:Body>
    <wsd:Hello>
      <wsd:Types>wsdp:Device</wsd:Types>
      <wsd:XAddrs>http://10.1.2.3:80/</wsd:XAddrs>
    </wsd:Hello>
  </soap:Body>
</soap:Envelope>`

	var envelope wsDiscoveryEnvelope
	if err := xml.Unmarshal([]byte(payload), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Body.Hello == nil {
		t.Fatal("hello not parsed")
	}
	ips := extractIPsFromXAddrs(envelope.Body.Hello.XAddrs)
	if len(ips) != 1 || ips[0] != "10.1.2.3" {
		t.Fatalf("ips = %v, want [10.1.2.3]", ips)
	}
}
