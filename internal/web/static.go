package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var contentTypes = map[string]string{
	".js":   "text/javascript",
	".css":  "text/css",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpg",
	".svg":  "image/svg+xml",
}

const defaultContentType = "text/html"

// staticHandler serves the SPA build. Unknown paths get index.html so the
// client-side router can resolve them.
type staticHandler struct {
	root string
}

func newStaticHandler(root string) http.Handler {
	return &staticHandler{root: root}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}

	f, info, ok := h.open(name)
	if !ok {
		name = "/index.html"
		if f, info, ok = h.open(name); !ok {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *staticHandler) open(name string) (*os.File, os.FileInfo, bool) {
	f, err := os.Open(filepath.Join(h.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, nil, false
	}
	return f, info, true
}

func contentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}
