// internal/server/spa.go
package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// spa serves the built frontend: /assets from the assets directory, an
// existing file by path, otherwise index.html for client-side routing.
func (s *Server) spa() http.Handler {
	root := s.config.StaticDir
	assets := http.StripPrefix("/assets/", http.FileServer(http.Dir(filepath.Join(root, "assets"))))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "Method Not Allowed"})
			return
		}

		if strings.HasPrefix(r.URL.Path, "/assets/") {
			assets.ServeHTTP(w, r)
			return
		}

		rel := path.Clean("/" + r.URL.Path)
		if rel != "/" {
			candidate := filepath.Join(root, filepath.FromSlash(rel))
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				http.ServeFile(w, r, candidate)
				return
			}
		}

		index := filepath.Join(root, "index.html")
		if _, err := os.Stat(index); err != nil {
			s.notFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		serveIndex(w, r, index)
	})
}

// serveIndex writes index.html without ServeFile's redirect for paths
// ending in /index.html.
func serveIndex(w http.ResponseWriter, r *http.Request, index string) {
	f, err := os.Open(index)
	if err != nil {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}
