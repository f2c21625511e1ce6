// Package server handles the HTTP API for the JSON document store.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ASHISH26940/jsondb/internal/conflict"
	"github.com/ASHISH26940/jsondb/internal/store"
)

// Response headers carrying the metadata of the entry returned by /get.
const (
	HeaderVersion   = "X-Entry-Version"
	HeaderTimestamp = "X-Entry-Timestamp"
)

// DataStore is the interface our server needs to interact with the storage layer.
// By depending on an interface, we can easily mock the store in our tests.
type DataStore interface {
	Lookup(key string) (store.Entry, error)
	Set(key string, value json.RawMessage, hint conflict.Hint) error
	Delete(key string) (bool, error)
	Keys() []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodySize caps the number of bytes read from a /set body.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// Server is the HTTP server for our key-value store.
type Server struct {
	store   DataStore
	router  *mux.Router
	handler http.Handler
	logger  zerolog.Logger
	maxBody int64
}

// New creates a new Server instance.
func New(st DataStore, opts ...Option) *Server {
	s := &Server{
		store:   st,
		router:  mux.NewRouter(),
		logger:  zerolog.Nop(),
		maxBody: 10 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	s.handler = s.recoverPanics(s.withRequestID(s.accessLog(s.router)))
	return s
}

// ServeHTTP makes our Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// registerRoutes sets up the HTTP routing for the server. Routes match on
// path only; the method is not checked.
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/get", s.handleGet)
	s.router.HandleFunc("/set", s.handleSet)
	s.router.HandleFunc("/delete", s.handleDelete)
	s.router.HandleFunc("/keys", s.handleKeys)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully, waiting at most grace for in-flight requests.
func (s *Server) Serve(ctx context.Context, l net.Listener, grace time.Duration) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	s.logger.Info().Msg("server shut down")
	return nil
}

// keyParam extracts and validates the key query parameter, writing the 400
// response itself when it is unusable.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "Missing key parameter")
		return "", false
	}
	if err := store.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

// handleGet returns the raw JSON value stored under key.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	e, err := s.store.Lookup(key)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.Header().Set(HeaderVersion, strconv.FormatUint(e.Version, 10))
	w.Header().Set(HeaderTimestamp, strconv.FormatInt(e.Timestamp, 10))
	writeRaw(w, http.StatusOK, e.Value)
}

// handleSet stores the request body under key. A body of the form
// {"value": ..., "version": n, "timestamp": ms} carries conflict hints;
// any other JSON document is stored as is.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	zerolog.Ctx(r.Context()).Debug().Str("key", key).Bytes("body", body).Msg("request body")

	value, hint, err := parseSetBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Set(key, value, hint); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Data set successfully"})
}

// handleDelete removes key.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	deleted, err := s.store.Delete(key)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Data delete successfully"})
}

// handleKeys lists every known key.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// writeStoreError maps store errors onto status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *conflict.ConflictError
	switch {
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Key not found")
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, store.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

var errInvalidJSON = errors.New("Invalid JSON body")

// parseSetBody splits a /set body into the value to store and its hints.
func parseSetBody(body []byte) (json.RawMessage, conflict.Hint, error) {
	if !json.Valid(body) {
		return nil, conflict.Hint{}, errInvalidJSON
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, conflict.Hint{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, conflict.Hint{}, errInvalidJSON
	}
	value, ok := fields["value"]
	if !ok {
		return trimmed, conflict.Hint{}, nil
	}

	var hint conflict.Hint
	var err error
	if hint.Version, err = parseHint(fields["version"]); err != nil {
		return nil, conflict.Hint{}, errors.New("Invalid version: must be an integer")
	}
	if hint.Timestamp, err = parseHint(fields["timestamp"]); err != nil {
		return nil, conflict.Hint{}, errors.New("Invalid timestamp: must be an integer")
	}
	return value, hint, nil
}

// parseHint decodes an optional integer field. Absent and null both mean
// "not supplied".
func parseHint(raw json.RawMessage) (*int64, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"Internal Server Error"}`))
		return
	}
	writeRaw(w, status, data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
