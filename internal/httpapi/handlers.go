package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"metastore/internal/logging"
	"metastore/internal/metadata"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
)

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeJSON)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	io.WriteString(w, "ok\n")
}

func (s *Server) listIDs(w http.ResponseWriter, r *http.Request) {
	ids := s.store.IDs()
	if wantsJSON(r) {
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, r, http.StatusOK, ids)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)
	for _, id := range ids {
		fmt.Fprintf(w, "<a href=\"/metadata/%s\">%s</a><br/>", url.PathEscape(id), html.EscapeString(id))
	}
}

func (s *Server) getID(w http.ResponseWriter, r *http.Request) {
	id, _, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bucket, err := s.store.Bucket(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, r, http.StatusOK, bucket)
		return
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)
	for _, k := range keys {
		fmt.Fprintf(w, "%s = %s\n", k, bucket[k])
	}
}

func (s *Server) createID(w http.ResponseWriter, r *http.Request) {
	id, _, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.CreateID(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, "ID Added\n")
}

func (s *Server) deleteID(w http.ResponseWriter, r *http.Request) {
	id, _, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.store.DeleteID(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getValue(w http.ResponseWriter, r *http.Request) {
	id, key, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.store.Value(id, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, v)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	id, key, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := s.readValue(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.CreateKey(id, key, value); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request) {
	id, key, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := s.readValue(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.store.Upsert(id, key, value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	id, key, err := pathVars(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.store.DeleteKey(id, key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serialize(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Serialize()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Load(body); err != nil {
		writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context(), logger).Info("store replaced from snapshot upload", "ids", s.store.Len())
	w.WriteHeader(http.StatusNoContent)
}

// pathVars returns the unescaped id and key route variables. Both must be
// valid UTF-8 so the store stays serializable.
func pathVars(r *http.Request) (id, key string, err error) {
	vars := mux.Vars(r)
	if id, err = url.PathUnescape(vars["id"]); err != nil {
		return "", "", fmt.Errorf("id: %w: %w", metadata.ErrMalformedInput, err)
	}
	if key, err = url.PathUnescape(vars["key"]); err != nil {
		return "", "", fmt.Errorf("key: %w: %w", metadata.ErrMalformedInput, err)
	}
	if !utf8.ValidString(id) || !utf8.ValidString(key) {
		return "", "", fmt.Errorf("path is not valid UTF-8: %w", metadata.ErrMalformedInput)
	}
	return id, key, nil
}

// readValue reads a request body holding a value.
func (s *Server) readValue(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("value is not valid UTF-8: %w", metadata.ErrMalformedInput)
	}
	return string(body), nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, metadata.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context(), logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	w.Write(data)
}
