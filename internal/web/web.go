package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed static/*
var content embed.FS

const indexFile = "index.html"

// Handler returns an http.Handler serving the operator page.
//
// When dir names an existing directory, assets are read from it so the page
// can be edited without a rebuild; otherwise the embedded copy is served.
// Extensionless paths that match no asset get index.html, while a missing
// asset such as /foo.js is a 404.
func Handler(dir string) http.Handler {
	assets := assetFS(dir)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = indexFile
		}
		if info, err := fs.Stat(assets, name); err != nil || info.IsDir() {
			if path.Ext(name) != "" {
				http.NotFound(w, r)
				return
			}
			name = indexFile
		}
		http.ServeFileFS(w, r, assets, name)
	})
}

// assetFS picks the on-disk directory when usable, else the embedded assets.
// Panics if the embedded assets are missing, which is a build error.
func assetFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	sub, err := fs.Sub(content, "static")
	if err != nil {
		panic(fmt.Sprintf("web: embedded assets: %v", err))
	}
	return sub
}
