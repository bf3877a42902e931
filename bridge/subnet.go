package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// subnetScanConfig controls the active subnet scan worker pool.
type subnetScanConfig struct {
	Workers      int
	ProbeTimeout time.Duration
	Ports        []int
	// ProbeFunc is an optional override used by liveness workers (useful
	// for tests). If nil, the default TCP probe is used.
	ProbeFunc func(ip string, ports []int, timeout time.Duration) ([]int, error)
	// CapabilityFunc is an optional override for the eSCL capability query.
	CapabilityFunc func(ctx context.Context, ip string, port int) (ScannerRecord, bool)
	// IdentifyFunc optionally enriches a record with device identity
	// (SNMP). If nil, records are emitted as the capability query built them.
	IdentifyFunc func(ctx context.Context, rec ScannerRecord) ScannerRecord
	// Hosts overrides local subnet enumeration (tests).
	Hosts []string
}

// probeSubnet scans the local /24 with a bounded worker pool: a cheap TCP
// liveness probe first, then an eSCL capability query on responsive hosts.
// Emits a ScannerRecord per host that answered the capability query.
func probeSubnet(ctx context.Context, cfg subnetScanConfig, emit func(ScannerRecord)) {
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = []int{80, 443, 8080, 9100}
	}
	probe := cfg.ProbeFunc
	if probe == nil {
		probe = tcpProbe
	}
	capability := cfg.CapabilityFunc
	if capability == nil {
		capability = queryESCLCapabilities
	}

	hosts := cfg.Hosts
	if hosts == nil {
		var err error
		hosts, err = localSubnetHosts()
		if err != nil {
			logWarn("subnet scan: cannot determine local subnet", "error", err.Error())
			return
		}
	}

	jobs := make(chan string)
	go func() {
		defer close(jobs)
		for _, h := range hosts {
			select {
			case <-ctx.Done():
				return
			case jobs <- h:
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ip, ok := <-jobs:
					if !ok {
						return
					}
					open, err := probe(ip, cfg.Ports, cfg.ProbeTimeout)
					if err != nil || len(open) == 0 {
						continue
					}
					for _, port := range open {
						rec, ok := capability(ctx, ip, port)
						if !ok {
							continue
						}
						if cfg.IdentifyFunc != nil {
							rec = cfg.IdentifyFunc(ctx, rec)
						}
						emit(rec)
						break // one record per host is enough
					}
				}
			}
		}()
	}
	wg.Wait()
}

// tcpProbe tries to connect to the provided ports on the IP with the given
// timeout. Returns the slice of ports that accepted a TCP connection.
func tcpProbe(ip string, ports []int, timeout time.Duration) ([]int, error) {
	open := []int{}
	for _, p := range ports {
		addr := net.JoinHostPort(ip, strconv.Itoa(p))
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			// treat as closed/filtered
			continue
		}
		conn.Close()
		open = append(open, p)
	}
	return open, nil
}

var esclProbeClient = &http.Client{
	Timeout: 2 * time.Second,
	Transport: &http.Transport{
		// Scanners almost universally present self-signed certificates.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

// queryESCLCapabilities checks whether ip:port serves an eSCL endpoint by
// fetching /eSCL/ScannerCapabilities. Returns a minimal record on success;
// identity details are filled in later (mDNS merge or SNMP).
func queryESCLCapabilities(ctx context.Context, ip string, port int) (ScannerRecord, bool) {
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/eSCL/ScannerCapabilities", scheme, net.JoinHostPort(ip, strconv.Itoa(port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ScannerRecord{}, false
	}
	resp, err := esclProbeClient.Do(req)
	if err != nil {
		return ScannerRecord{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ScannerRecord{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil || !strings.Contains(string(body), "ScannerCapabilities") {
		return ScannerRecord{}, false
	}

	rec := ScannerRecord{
		ID:              fmt.Sprintf("%s:%d", ip, port),
		Name:            fmt.Sprintf("Scanner at %s", ip),
		Manufacturer:    "Unknown",
		Model:           fmt.Sprintf("eSCL Scanner (%s)", ip),
		IP:              ip,
		Port:            port,
		UseTLS:          port == 443,
		Protocols:       []string{ProtocolESCL},
		Capabilities:    defaultCapabilities(),
		DiscoveryMethod: MethodSubnetScan,
		RSPath:          "eSCL",
	}
	return rec, true
}

// localSubnetHosts enumerates the host addresses of the local IPv4 /24.
func localSubnetHosts() ([]string, error) {
	local, err := localIPv4()
	if err != nil {
		return nil, err
	}
	prefix := local.Mask(net.CIDRMask(24, 32))

	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, fmt.Sprintf("%d.%d.%d.%d", prefix[0], prefix[1], prefix[2], i))
	}
	return hosts, nil
}

// localIPv4 returns the first non-loopback IPv4 address of this host.
func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no non-loopback IPv4 interface found")
}
