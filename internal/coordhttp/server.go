package coordhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/coordkernel/internal/coord"
	"github.com/dreamware/coordkernel/internal/path"
)

const entriesPrefix = "/v1/entries/"

// Server adapts a *coord.Manager to HTTP/JSON, implementing the §6.1
// external operation set. It holds no coordination state of its own.
type Server struct {
	mgr *coord.Manager
	log *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the Server's logger, which otherwise discards log
// output (mirroring every other package's zap.NewNop default).
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer builds a Server around an already-started coord.Manager.
func NewServer(mgr *coord.Manager, opts ...Option) *Server {
	s := &Server{mgr: mgr, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler, ready to pass to an
// *http.Server or httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(entriesPrefix, s.handleEntry)
	mux.HandleFunc("/v1/session", s.handleSession)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleEntry dispatches on HTTP method to the entry operation it
// represents; every entry operation is addressed by the escaped path
// trailing /v1/entries/.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	escaped := strings.TrimPrefix(r.URL.Path, entriesPrefix)
	if escaped == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	p, err := path.FromEscaped(escaped)
	if err != nil {
		writeError(w, &coordError{http.StatusBadRequest, "malformed_path", err.Error()})
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleCreate(w, r, p)
	case http.MethodGet:
		s.handleGet(w, r, p)
	case http.MethodPut:
		s.handleSetValue(w, r, p)
	case http.MethodDelete:
		s.handleDelete(w, r, p)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, p path.Path) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	mode := coord.Default
	if req.Ephemeral {
		mode = coord.Ephemeral
	}

	create := s.mgr.Create
	if r.URL.Query().Get("get_or_create") == "true" {
		create = s.mgr.GetOrCreate
	}

	rec, err := create(r.Context(), p, req.Value, mode)
	if err != nil {
		writeError(w, mapErr(err))
		return
	}
	view := newEntryView(rec)
	writeJSON(w, s.log, http.StatusOK, EntryResponse{Entry: &view})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, p path.Path) {
	rec, err := s.mgr.Get(r.Context(), p)
	if err != nil {
		writeError(w, mapErr(err))
		return
	}
	if rec == nil {
		writeJSON(w, s.log, http.StatusOK, EntryResponse{Entry: nil})
		return
	}
	view := newEntryView(rec)
	writeJSON(w, s.log, http.StatusOK, EntryResponse{Entry: &view})
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request, p path.Path) {
	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	version, err := s.mgr.SetValue(r.Context(), p, req.Value, req.ExpectedVersion)
	if err != nil {
		writeError(w, mapErr(err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, VersionResponse{Version: version})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, p path.Path) {
	var req DeleteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}
	version, err := s.mgr.Delete(r.Context(), p, req.ExpectedVersion, req.Recursive)
	if err != nil {
		writeError(w, mapErr(err))
		return
	}
	writeJSON(w, s.log, http.StatusOK, VersionResponse{Version: version})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sid := s.mgr.GetSession()
	writeJSON(w, s.log, http.StatusOK, SessionResponse{SessionID: sid.Compact()})
}

// coordError is the internal shape writeError renders as an
// ErrorResponse; mapErr produces it from a coord error.
type coordError struct {
	status  int
	code    string
	message string
}

// mapErr translates a coord package error into the HTTP status and wire
// code a client can act on (§7's caller-facing taxonomy). Anything not
// in the table — including the internal-only errors that must never
// leak through this boundary — becomes a 500 with no code, so a client
// can't mistake an internal bug for a recognized, retriable condition.
func mapErr(err error) *coordError {
	for _, m := range errMappings {
		if errors.Is(err, m.err) {
			return &coordError{status: m.status, code: m.code, message: err.Error()}
		}
	}
	return &coordError{status: http.StatusInternalServerError, message: "internal error"}
}

var errMappings = []struct {
	err    error
	code   string
	status int
}{
	{coord.ErrEntryAlreadyExists, "entry_already_exists", http.StatusConflict},
	{coord.ErrEntryNotFound, "entry_not_found", http.StatusNotFound},
	{coord.ErrEntryNotEmpty, "entry_not_empty", http.StatusConflict},
	{coord.ErrVersionMismatch, "version_mismatch", http.StatusPreconditionFailed},
	{coord.ErrMalformedPath, "malformed_path", http.StatusBadRequest},
	{coord.ErrSessionTerminated, "session_terminated", http.StatusGone},
	{coord.ErrCancelled, "cancelled", 499},
}

func writeError(w http.ResponseWriter, ce *coordError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ce.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Message: ce.message, Code: ce.code})
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("encode response failed", zap.Error(err))
	}
}
