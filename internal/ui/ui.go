// Package ui serves a static front-end whose routing table lives in a
// metadata.Store.
//
// Instrumenting a directory records two kinds of entries:
//
//	routes/<route>          -> absolute directory
//	<route without "/">/<route>/<file> -> absolute file path
//
// Requests are resolved purely through those entries, so the table can be
// inspected (or changed) through the metadata API like any other data.
package ui

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"metastore/internal/logging"
	"metastore/internal/metadata"
)

// RoutesID is the store ID holding route -> directory entries.
const RoutesID = "routes"

var logger = logging.For("ui")

type Helper struct {
	store *metadata.Store
}

// New returns a Helper recording its routes in st. A nil st gets a
// private store.
func New(st *metadata.Store) *Helper {
	if st == nil {
		st = metadata.New()
	}
	return &Helper{store: st}
}

// InstrumentDirectory makes every regular, non-hidden file directly inside
// dir available under route. Names that are not valid UTF-8 are skipped.
// Instrumenting the same route or file twice fails with
// metadata.ErrAlreadyExists.
func (h *Helper) InstrumentDirectory(dir, route string) error {
	if !strings.HasPrefix(route, "/") || route == "/" || strings.HasSuffix(route, "/") {
		return fmt.Errorf("ui: invalid route %q", route)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("ui: resolving %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("ui: reading %s: %w", abs, err)
	}

	if err := h.store.CreateKey(RoutesID, route, abs); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	id := strings.TrimPrefix(route, "/")
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !utf8.ValidString(e.Name()) {
			continue
		}
		key := route + "/" + e.Name()
		if err := h.store.CreateKey(id, key, filepath.Join(abs, e.Name())); err != nil {
			return fmt.Errorf("ui: %w", err)
		}
	}
	logger.Debug("instrumented directory", "route", route, "dir", abs)
	return nil
}

// InstrumentTree instruments root under mount and every directory below
// root under "/<directory name>", the layout produced by front-end
// bundlers (dist/index.html, dist/assets/...).
func (h *Helper) InstrumentTree(root, mount string) error {
	if err := h.InstrumentDirectory(root, mount); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return h.InstrumentDirectory(p, "/"+d.Name())
	})
}

// Routes returns the instrumented route prefixes.
func (h *Helper) Routes() []string {
	routes, err := h.store.Keys(RoutesID)
	if err != nil {
		return nil
	}
	return routes
}

// Reset drops every entry recorded by earlier instrumentation, such as a
// route table restored from a snapshot taken by a previous run.
func (h *Helper) Reset() {
	for _, route := range h.Routes() {
		h.store.DeleteID(strings.TrimPrefix(route, "/"))
	}
	h.store.DeleteID(RoutesID)
}

// Resolve maps a request path to the file recorded for it.
func (h *Helper) Resolve(requestPath string) (string, error) {
	clean := path.Clean("/" + requestPath)
	id := strings.TrimPrefix(path.Dir(clean), "/")
	return h.store.Value(id, clean)
}

func (h *Helper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	file, err := h.Resolve(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		logger.Error("opening static file", "file", file, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// ServeContent picks the Content-Type from the extension and falls
	// back to sniffing the first 512 bytes.
	logger.Debug("serving static file", "path", r.URL.Path, "file", file)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
