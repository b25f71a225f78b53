package web

import (
	"embed"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	"timelock.mini/tlm/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"ago": func(ts types.Timestamp) string {
		if ts == 0 {
			return "never"
		}
		return humanize.Time(ts.Time())
	},
	"when": func(ts types.Timestamp) string {
		return ts.Time().UTC().Format(time.RFC3339)
	},
}

// parseTemplates parses the embedded page templates.
func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}
