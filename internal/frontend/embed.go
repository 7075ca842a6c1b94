//go:build embed

// Package frontend serves the bundled web UI. Built with -tags embed the
// static assets ship inside the binary; otherwise Handler returns nil and
// the caller falls back to filesystem serving.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
