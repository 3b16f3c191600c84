package coordhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/coordkernel/internal/entry"
)

// EntryView is the wire representation of an entry record (§3.3, §6.1):
// everything a caller is entitled to see, with the storage-internal
// StorageVersion counter and lock-holder bookkeeping left out.
type EntryView struct {
	CreationTime  time.Time `json:"creation_time"`
	LastWriteTime time.Time `json:"last_write_time"`
	Path          string    `json:"path"`
	Value         []byte    `json:"value,omitempty"`
	Children      []string  `json:"children,omitempty"`
	Version       int64     `json:"version"`
	Ephemeral     bool      `json:"ephemeral"`
}

// newEntryView projects a stored entry onto its wire view. Returns the
// zero value if e is nil, so callers can encode "absent" as an empty
// JSON object rather than null when that reads better on the wire; see
// EntryResponse for the case that actually needs a null.
func newEntryView(e *entry.StoredEntry) EntryView {
	if e == nil {
		return EntryView{}
	}
	return EntryView{
		Path:          e.Path.Escaped(),
		Value:         e.Value,
		Version:       e.Version,
		CreationTime:  e.CreationTime,
		LastWriteTime: e.LastWriteTime,
		Ephemeral:     e.Ephemeral,
		Children:      e.Children,
	}
}

// CreateRequest is the body of POST /v1/entries/{path}.
type CreateRequest struct {
	Value     []byte `json:"value,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// EntryResponse wraps a single entry, used by create, get_or_create, and
// get. Entry is nil when get found nothing at the path.
type EntryResponse struct {
	Entry *EntryView `json:"entry"`
}

// SetValueRequest is the body of PUT /v1/entries/{path}.
type SetValueRequest struct {
	Value           []byte `json:"value,omitempty"`
	ExpectedVersion int64  `json:"expected_version"`
}

// VersionResponse is the body returned by set_value and delete, both of
// which report only a version (§6.1): set_value the new version, delete
// the version the entry had when it was deleted (0 if it was absent).
type VersionResponse struct {
	Version int64 `json:"version"`
}

// DeleteRequest is the body of DELETE /v1/entries/{path}.
type DeleteRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
	Recursive       bool  `json:"recursive,omitempty"`
}

// SessionResponse is the body of GET /v1/session.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ErrorResponse is the body of any non-2xx response. Code is the wire
// code server.go's errMappings assigns to a coord sentinel error (e.g.
// "entry_not_found"), letting a client branch on Code instead of
// string-matching Message; it is empty for unmapped errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// httpClient is the shared client used for all coordhttp requests,
// timeout-bounded so a stalled peer never hangs a caller indefinitely.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// doJSON sends a JSON-encoded request with the given method and decodes
// a JSON response into out (skipped if out is nil). body may be nil for
// requests with no payload (get).
func doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("coordhttp: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("coordhttp: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordhttp: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Code != "" {
			return &RemoteError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Message}
		}
		return &RemoteError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("http %s: %d", url, resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON sends a JSON-encoded POST request and decodes the JSON
// response into out (nil to discard it).
func PostJSON(ctx context.Context, url string, body, out any) error {
	return doJSON(ctx, http.MethodPost, url, body, out)
}

// GetJSON sends a GET request and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, http.MethodGet, url, nil, out)
}

// RemoteError is returned by Client methods when the server responded
// with a non-2xx status, carrying the server's ErrorResponse code and
// message alongside the HTTP status.
type RemoteError struct {
	Message    string
	Code       string
	StatusCode int
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("coordhttp: %s (%s)", e.Message, e.Code)
	}
	return "coordhttp: " + e.Message
}
