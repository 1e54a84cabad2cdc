package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var views = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type errorView struct {
	Message     string
	Diagnostics string
}

// render executes a template into a buffer first so a template failure
// never produces a half-written page
func render(w http.ResponseWriter, logger *slog.Logger, status int, name string, data any) {
	var buf bytes.Buffer
	if err := views.ExecuteTemplate(&buf, name, data); err != nil {
		logger.Error("failed to render template", slog.String("template", name), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func renderError(w http.ResponseWriter, logger *slog.Logger, status int, event, message, diagnostics string) {
	render(w, logger, status, "error.html", errorView{
		Message:     "[" + event + "] " + message,
		Diagnostics: diagnostics,
	})
}
