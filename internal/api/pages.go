package api

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// index serves the chat page. The Google client ID is injected for the
// sign-in button; an empty ID renders the page without it.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ ClientID string }{ClientID: s.clientID}); err != nil {
		s.logger.Error("rendering index page", "error", err)
	}
}
