package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"
)

// ErrRateLimited is returned when the server answers 429. Upload workers use
// it to extend their backoff instead of burning retries.
var ErrRateLimited = fmt.Errorf("server rate limit exceeded")

// StatusError carries a non-2xx response so callers can tell a server
// decline apart from a transport failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// Client handles all HTTP communication with the DocFlow server: bridge
// registration, heartbeat, scanner reporting and the two upload paths
// (remote scan jobs and folder sync).
type Client struct {
	BaseURL            string
	InsecureSkipVerify bool
	HTTPClient         *http.Client

	mu            sync.RWMutex
	apiKey        string
	lastHeartbeat time.Time
}

// NewClient creates a server client for the given DocFlow base URL.
// If caCertPath is provided it is used to validate the server certificate
// (self-signed deployments); otherwise the system CA pool is used.
func NewClient(baseURL, apiKey, caCertPath string, insecureSkipVerify bool) *Client {
	var tlsConfig *tls.Config

	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(caCert) {
				tlsConfig = &tls.Config{
					RootCAs:            pool,
					MinVersion:         tls.VersionTLS12,
					InsecureSkipVerify: insecureSkipVerify,
				}
			}
		}
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify,
		}
	}

	return &Client{
		BaseURL:            trimTrailingSlash(baseURL),
		InsecureSkipVerify: insecureSkipVerify,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		apiKey: apiKey,
	}
}

// SetAPIKey updates the credential used for authenticated requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the current credential.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// RegisterRequest is the payload sent when exchanging a pairing token for a
// bridge credential.
type RegisterRequest struct {
	PairingToken  string `json:"pairing_token"`
	BridgeName    string `json:"bridge_name"`
	BridgeVersion string `json:"bridge_version"`
	OS            string `json:"os"`
	Hostname      string `json:"hostname"`
}

// RegisterResponse is the server's answer to a successful registration.
type RegisterResponse struct {
	BridgeID         string `json:"bridge_id"`
	APIKey           string `json:"api_key"`
	RefreshToken     string `json:"refresh_token"`
	DocflowURL       string `json:"docflow_url"`
	TenantName       string `json:"tenant_name"`
	MinBridgeVersion string `json:"min_bridge_version,omitempty"`
}

// Register exchanges a pairing token for a bridge credential. The credential
// is stored on the client for subsequent authenticated requests.
func (c *Client) Register(ctx context.Context, pairingToken, bridgeName, version string) (*RegisterResponse, error) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	if bridgeName == "" {
		bridgeName = fmt.Sprintf("Bridge on %s", hostname)
	}

	req := RegisterRequest{
		PairingToken:  pairingToken,
		BridgeName:    bridgeName,
		BridgeVersion: version,
		OS:            runtime.GOOS,
		Hostname:      hostname,
	}

	var resp RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/scanner/bridge/register", req, &resp, false); err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	if resp.APIKey != "" {
		c.SetAPIKey(resp.APIKey)
	}
	return &resp, nil
}

// ResolvedCode is the structured payload a short manual code resolves to.
type ResolvedCode struct {
	DocflowURL   string `json:"docflow_url"`
	TenantID     *int64 `json:"tenant_id"`
	PairingToken string `json:"pairing_token"`
	BridgeName   string `json:"bridge_name,omitempty"`
}

// ResolveCode exchanges a short manual pairing code (XXXX-XXXX-XXXX) for the
// full pairing payload. Runs unauthenticated against the user-supplied URL.
func (c *Client) ResolveCode(ctx context.Context, code string) (*ResolvedCode, error) {
	req := map[string]string{"code": code}
	var resp ResolvedCode
	if err := c.doRequest(ctx, http.MethodPost, "/api/scanner/bridge/resolve-code", req, &resp, false); err != nil {
		return nil, fmt.Errorf("code resolution failed: %w", err)
	}
	return &resp, nil
}

// CheckStatus validates the stored credential against the server. Used both
// for session restore at startup and as the periodic heartbeat.
func (c *Client) CheckStatus(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodGet, "/api/scanner/bridge/status", nil, nil, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
	return nil
}

// LastHeartbeat returns the time of the last successful status check.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// ReportScanners pushes the current discovery result to the server so users
// can pick a device when creating a scan job.
func (c *Client) ReportScanners(ctx context.Context, scanners []ScannerRecord) error {
	if scanners == nil {
		scanners = []ScannerRecord{}
	}
	req := map[string]interface{}{"scanners": scanners}
	if err := c.doRequest(ctx, http.MethodPost, "/api/scanner/bridge/scanners", req, nil, true); err != nil {
		return fmt.Errorf("scanner report failed: %w", err)
	}
	return nil
}

// PendingScanJob is a remote scan request queued on the server.
type PendingScanJob struct {
	JobID      string `json:"job_id"`
	ScannerID  string `json:"scanner_id"`
	Resolution int    `json:"resolution"`
	ColorMode  string `json:"color_mode"`
	Source     string `json:"source"`
	Duplex     bool   `json:"duplex"`
	Format     string `json:"format"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
}

// PendingScans fetches the queued scan jobs for this bridge.
func (c *Client) PendingScans(ctx context.Context) ([]PendingScanJob, error) {
	var resp struct {
		Jobs []PendingScanJob `json:"jobs"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/scanner/bridge/pending-scans", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("pending scan poll failed: %w", err)
	}
	return resp.Jobs, nil
}

// UploadScanResult sends the scanned document for a job. contentType should
// match the job's requested format (application/pdf or image/jpeg).
func (c *Client) UploadScanResult(ctx context.Context, jobID string, data []byte, filename, contentType string) error {
	path := "/api/scanner/bridge/scan-upload/" + jobID
	return c.doMultipart(ctx, path, data, filename, contentType, nil)
}

// ReportScanError tells the server a scan job failed. The body carries an
// empty file part plus the error message so the job can surface the failure.
func (c *Client) ReportScanError(ctx context.Context, jobID, message string) error {
	path := "/api/scanner/bridge/scan-upload/" + jobID
	return c.doMultipart(ctx, path, []byte{}, "error.txt", "text/plain", map[string]string{
		"error": message,
	})
}

// FolderUploadResponse is the server's answer to a folder-sync file upload.
type FolderUploadResponse struct {
	Success    bool    `json:"success"`
	JobID      int64   `json:"job_id"`
	Filename   string  `json:"filename"`
	FileSizeMB float64 `json:"file_size_mb"`
	Duplicate  bool    `json:"duplicate"`
	Message    string  `json:"message"`
}

// FolderUpload sends one watched-folder file to the server. A Duplicate
// response still counts as success: the server already holds the content.
func (c *Client) FolderUpload(ctx context.Context, data []byte, filename, contentType string) (*FolderUploadResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := createFilePart(writer, "file", filename, contentType)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize upload body: %w", err)
	}

	url := c.BaseURL + "/api/scanner/bridge/folder-upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey())
	httpReq.Header.Set("User-Agent", userAgent)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer httpResp.Body.Close()

	respData, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{Code: httpResp.StatusCode, Body: string(respData)}
	}

	var resp FolderUploadResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// FolderSyncReport is the periodic folder-sync status pushed to the server.
type FolderSyncReport struct {
	FolderSyncEnabled bool   `json:"folder_sync_enabled"`
	WatchedFolder     string `json:"watched_folder"`
	FilesUploaded     uint64 `json:"files_uploaded"`
	Errors            uint64 `json:"errors"`
	LastSyncAt        string `json:"last_sync_at,omitempty"`
}

// ReportFolderSyncStatus informs the server about the folder-sync state.
// Best effort: callers treat a failure as non-fatal.
func (c *Client) ReportFolderSyncStatus(ctx context.Context, report FolderSyncReport) error {
	return c.doRequest(ctx, http.MethodPost, "/api/scanner/bridge/folder-sync-status", report, nil, true)
}

const userAgent = "ScanBridge/1.0"

// doRequest performs a JSON request against the server with optional bearer
// authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody interface{}, requireAuth bool) error {
	url := c.BaseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	if requireAuth {
		key := c.APIKey()
		if key == "" {
			return fmt.Errorf("authentication required but no credential available")
		}
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	logDebug("HTTP request", "method", method, "url", url, "auth", fmt.Sprintf("%v", requireAuth))

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		logDebug("HTTP request failed", "url", url, "error", err.Error())
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respData, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		logWarn("server returned non-2xx status", "status", fmt.Sprintf("%d", httpResp.StatusCode), "path", path)
		return &StatusError{Code: httpResp.StatusCode, Body: string(respData)}
	}

	if respBody != nil {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// doMultipart posts a single file part, plus optional extra form fields.
func (c *Client) doMultipart(ctx context.Context, path string, data []byte, filename, contentType string, fields map[string]string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := createFilePart(writer, "file", filename, contentType)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write upload body: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload body: %w", err)
	}

	url := c.BaseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey())
	httpReq.Header.Set("User-Agent", userAgent)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer httpResp.Body.Close()

	respData, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &StatusError{Code: httpResp.StatusCode, Body: string(respData)}
	}
	return nil
}

// createFilePart adds a file part with an explicit Content-Type. The stock
// CreateFormFile helper hardcodes application/octet-stream.
func createFilePart(w *multipart.Writer, fieldName, filename, contentType string) (io.Writer, error) {
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fieldName, filename)}
	h["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	return part, nil
}

func trimTrailingSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
