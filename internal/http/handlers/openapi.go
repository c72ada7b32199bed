package handlers

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
	"sync"
)

//go:embed openapi.json
var openAPISpec []byte

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} {{.Version}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

// apiDocument is the embedded description stamped with the running version,
// rendered once per App.
type apiDocument struct {
	once  sync.Once
	body  []byte
	etag  string
	title string
	err   error
}

func (d *apiDocument) load(version string) {
	d.once.Do(func() {
		var doc map[string]any
		if d.err = json.Unmarshal(openAPISpec, &doc); d.err != nil {
			return
		}
		info, _ := doc["info"].(map[string]any)
		if info == nil {
			info = map[string]any{}
			doc["info"] = info
		}
		if version != "" {
			info["version"] = version
		}
		d.title, _ = info["title"].(string)
		if d.body, d.err = json.MarshalIndent(doc, "", "  "); d.err != nil {
			return
		}
		sum := sha256.Sum256(d.body)
		d.etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	})
}

// OpenAPIJSON serves the API description. Clients holding the current ETag
// get a 304.
func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	a.docs.load(a.Version)
	if a.docs.err != nil {
		a.Logger.Error().Err(a.docs.err).Msg("openapi document unreadable")
		a.error(w, http.StatusInternalServerError, "internal", "api description unavailable")
		return
	}
	w.Header().Set("ETag", a.docs.etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == a.docs.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.docs.body)
}

// OpenAPIDocs renders the Redoc viewer for /openapi.json.
func (a *App) OpenAPIDocs(w http.ResponseWriter, r *http.Request) {
	a.docs.load(a.Version)
	title := a.docs.title
	if title == "" {
		title = "API"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := docsPage.Execute(w, map[string]string{
		"Title":   title,
		"Version": a.Version,
		"SpecURL": "/openapi.json",
	}); err != nil {
		a.Logger.Error().Err(err).Msg("render docs page")
	}
}
