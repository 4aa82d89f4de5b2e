package api

import (
	"embed"
	"io/fs"
)

//go:embed static/dashboard.html
var staticFS embed.FS

// dashboardFS serves the clinician dashboard page from static/.
var dashboardFS fs.FS = func() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return staticFS
	}
	return sub
}()
