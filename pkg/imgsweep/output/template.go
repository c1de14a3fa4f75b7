package output

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter formats output using a custom Go text/template.
type TemplateFormatter struct {
	templateStr string
	template    *template.Template
	mu          sync.Mutex
}

// NewTemplateFormatter creates a new template formatter with the given template string.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{
		templateStr: templateStr,
	}
}

// SetTemplate sets or updates the template string.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// Usage: {{date .StartedAt "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},

		// Usage: {{bytes .Totals.BytesSaved}}
		"bytes": func(size int64) string {
			if size < 0 {
				return "-" + humanize.IBytes(uint64(-size))
			}
			return humanize.IBytes(uint64(size))
		},

		// Usage: {{pct .Percent}}
		"pct": func(p float64) string {
			return humanize.FtoaWithDigits(p, 1) + "%"
		},
	}
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}

	return f.template.Execute(w, r)
}

// defaultTemplate is the template used when no custom template is provided.
const defaultTemplate = `{{range .Files}}{{.Outcome}}	{{bytes .SizeBefore}}	{{bytes .SizeAfter}}	{{.Path}}
{{end}}saved {{bytes .Totals.BytesSaved}} ({{pct .Totals.PercentSaved}})
`

func init() {
	Register("template", func() Formatter {
		return NewTemplateFormatter(defaultTemplate)
	})
}

// Ensure TemplateFormatter implements Formatter.
var _ Formatter = (*TemplateFormatter)(nil)
