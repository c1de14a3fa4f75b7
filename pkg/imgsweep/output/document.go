package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// document is the machine-readable run summary written by the json and
// yaml formatters.
type document struct {
	Run    runMeta      `json:"run" yaml:"run"`
	Totals Totals       `json:"totals" yaml:"totals"`
	Files  []FileResult `json:"files" yaml:"files"`
}

type runMeta struct {
	ID          string `json:"id" yaml:"id"`
	Operation   string `json:"operation" yaml:"operation"`
	Target      string `json:"target" yaml:"target"`
	Mode        string `json:"mode" yaml:"mode"`
	StartedAt   string `json:"started_at" yaml:"started_at"`
	Elapsed     string `json:"elapsed" yaml:"elapsed"`
	Interrupted bool   `json:"interrupted" yaml:"interrupted"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

func buildDocument(r *Result) document {
	files := r.Files
	if files == nil {
		files = []FileResult{}
	}

	meta := runMeta{
		ID:          r.ID,
		Operation:   r.Operation,
		Target:      r.Target,
		Mode:        r.Mode,
		Elapsed:     r.Elapsed.String(),
		Interrupted: r.Interrupted(),
		Error:       r.Error,
	}
	if !r.StartedAt.IsZero() {
		meta.StartedAt = r.StartedAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	return document{Run: meta, Totals: r.Totals, Files: files}
}

// JSONFormatter formats output as a single indented JSON object with run,
// totals and files sections.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildDocument(r))
}

// JSONLFormatter writes one compact JSON object per file, suitable for
// streaming into jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

// YAMLFormatter writes the JSONFormatter document as YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(buildDocument(r)); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
