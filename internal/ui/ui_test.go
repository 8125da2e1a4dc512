package ui

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"metastore/internal/metadata"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// distTree builds dist/{index.html,.hidden,assets/app.js,assets/style.css}.
func distTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "dist")
	writeFile(t, filepath.Join(root, "index.html"), "<html><body>hi</body></html>")
	writeFile(t, filepath.Join(root, ".hidden"), "secret")
	writeFile(t, filepath.Join(root, "assets", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(root, "assets", "style.css"), "body{}")
	return root
}

func TestInstrumentDirectoryRecordsRoutes(t *testing.T) {
	root := distTree(t)
	st := metadata.New()
	h := New(st)

	if err := h.InstrumentDirectory(root, "/ui"); err != nil {
		t.Fatal(err)
	}

	dir, err := st.Value(RoutesID, "/ui")
	if err != nil {
		t.Fatal(err)
	}
	if dir != root {
		t.Fatalf("routes entry = %q, want %q", dir, root)
	}
	keys, err := st.Keys("ui")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(keys, []string{"/ui/index.html"}) {
		t.Fatalf("ui keys = %v, want only index.html (no dirs, no dotfiles)", keys)
	}
	if f, _ := st.Value("ui", "/ui/index.html"); f != filepath.Join(root, "index.html") {
		t.Fatalf("file entry = %q", f)
	}
}

func TestInstrumentDirectoryTwiceFails(t *testing.T) {
	root := distTree(t)
	h := New(nil)
	if err := h.InstrumentDirectory(root, "/ui"); err != nil {
		t.Fatal(err)
	}
	if err := h.InstrumentDirectory(root, "/ui"); !errors.Is(err, metadata.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestInstrumentDirectoryInvalid(t *testing.T) {
	h := New(nil)
	for _, route := range []string{"ui", "/", "/ui/"} {
		if err := h.InstrumentDirectory(t.TempDir(), route); err == nil {
			t.Errorf("route %q should be rejected", route)
		}
	}
	if err := h.InstrumentDirectory(filepath.Join(t.TempDir(), "missing"), "/x"); err == nil {
		t.Error("missing directory should fail")
	}
	if len(h.Routes()) != 0 {
		t.Errorf("failed instrumentation left routes %v", h.Routes())
	}
}

func TestInstrumentTree(t *testing.T) {
	root := distTree(t)
	h := New(nil)
	if err := h.InstrumentTree(root, "/ui"); err != nil {
		t.Fatal(err)
	}
	if routes := h.Routes(); !slices.Equal(routes, []string{"/assets", "/ui"}) {
		t.Fatalf("Routes = %v", routes)
	}
	f, err := h.Resolve("/assets/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if f != filepath.Join(root, "assets", "app.js") {
		t.Fatalf("Resolve = %q", f)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := distTree(t)
	h := New(nil)
	h.InstrumentTree(root, "/ui")

	for _, p := range []string{"/ui/../etc/passwd", "/ui/.hidden", "/ui/", "/nope/index.html"} {
		if _, err := h.Resolve(p); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("Resolve(%q): err = %v, want ErrNotFound", p, err)
		}
	}
}

func TestServeHTTP(t *testing.T) {
	root := distTree(t)
	h := New(nil)
	if err := h.InstrumentTree(root, "/ui"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path       string
		wantStatus int
		wantType   string
		wantBody   string
	}{
		{"/ui/index.html", http.StatusOK, "text/html", "hi"},
		{"/assets/app.js", http.StatusOK, "javascript", "console.log"},
		{"/assets/style.css", http.StatusOK, "text/css", "body{}"},
		{"/ui/.hidden", http.StatusNotFound, "", ""},
		{"/ui/missing.html", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, tt.wantType) {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestServeHTTPSniffsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "page.unknownext"), "<!DOCTYPE html><html></html>")
	h := New(nil)
	if err := h.InstrumentDirectory(dir, "/x"); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x/page.unknownext", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want sniffed text/html", ct)
	}
}

func TestServeHTTPFileRemovedAfterInstrumenting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gone.txt"), "x")
	h := New(nil)
	h.InstrumentDirectory(dir, "/x")
	os.Remove(filepath.Join(dir, "gone.txt"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x/gone.txt", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResetAllowsReinstrumenting(t *testing.T) {
	root := distTree(t)
	st := metadata.New()
	st.Upsert("other", "k", "v")
	h := New(st)
	if err := h.InstrumentTree(root, "/ui"); err != nil {
		t.Fatal(err)
	}

	h.Reset()
	if routes := h.Routes(); len(routes) != 0 {
		t.Fatalf("Routes after Reset = %v", routes)
	}
	if st.Exists("ui") || st.Exists("assets") {
		t.Fatal("file entries survived Reset")
	}
	if !st.KeyExists("other", "k") {
		t.Fatal("Reset removed unrelated data")
	}
	if err := h.InstrumentTree(root, "/ui"); err != nil {
		t.Fatalf("re-instrumenting after Reset: %v", err)
	}
}
