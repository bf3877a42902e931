// Package pairing exchanges a pairing code for a durable bridge credential
// and owns the session lifecycle: connect, heartbeat, disconnect, restore.
package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"scanbridge/bridge"
)

var (
	// ErrInvalidCodeFormat means the pairing code is neither a valid
	// structured payload nor a usable manual code.
	ErrInvalidCodeFormat = errors.New("invalid pairing code format")
	// ErrUnreachableServer means the server could not be reached or failed
	// internally. The code may still be valid.
	ErrUnreachableServer = errors.New("server unreachable")
	// ErrRejectedCode means the server declined the code (expired, already
	// used, or unknown).
	ErrRejectedCode = errors.New("pairing code rejected")
)

// codePayload is the structured pairing payload carried by a QR code.
// A code that parses as a JSON object must satisfy this schema; there is no
// fallthrough to manual-code handling for malformed JSON.
type codePayload struct {
	V                int    `json:"v"`
	ServerURL        string `json:"server_url"`
	Token            string `json:"token"`
	BridgeName       string `json:"bridge_name,omitempty"`
	MinBridgeVersion string `json:"min_bridge_version,omitempty"`
}

// parseCode classifies a pairing code. Returns the payload for structured
// codes, or nil for manual codes (opaque non-JSON strings).
func parseCode(code string) (*codePayload, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidCodeFormat)
	}

	if !strings.HasPrefix(code, "{") {
		return nil, nil
	}

	var payload codePayload
	if err := json.Unmarshal([]byte(code), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCodeFormat, err)
	}
	if payload.V != 1 {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrInvalidCodeFormat, payload.V)
	}
	if payload.Token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidCodeFormat)
	}
	if !validServerURL(payload.ServerURL) {
		return nil, fmt.Errorf("%w: missing or invalid server_url", ErrInvalidCodeFormat)
	}
	return &payload, nil
}

func validServerURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// classifyServerError maps a client error onto the pairing error taxonomy:
// a 4xx decline is ErrRejectedCode, everything else (transport failure,
// timeout, 5xx) is ErrUnreachableServer.
func classifyServerError(err error) error {
	var se *bridge.StatusError
	if errors.As(err, &se) {
		if se.Code >= 400 && se.Code < 500 {
			return fmt.Errorf("%w: %s", ErrRejectedCode, strings.TrimSpace(se.Body))
		}
		return fmt.Errorf("%w: server error %d", ErrUnreachableServer, se.Code)
	}
	return fmt.Errorf("%w: %v", ErrUnreachableServer, err)
}
