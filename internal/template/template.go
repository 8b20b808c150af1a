package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/stackvity/localsave/internal/document"
	"github.com/stackvity/localsave/internal/filesystem"
)

// Context is the value a template is executed against.
type Context struct {
	Directory string
	File      string
	Path      string // where the document was loaded from
	Data      map[string]interface{}
}

// Executor renders loaded documents through a user supplied Go template.
type Executor struct {
	template *template.Template
	filePath string // for error messages
}

// funcs are available to every template.
var funcs = template.FuncMap{
	"toYAML": func(v interface{}) (string, error) {
		out, err := yaml.Marshal(v)
		return strings.TrimSuffix(string(out), "\n"), err
	},
	"toJSON": func(v interface{}) (string, error) {
		out, err := json.MarshalIndent(v, "", "  ")
		return string(out), err
	},
	// A Caser keeps state between calls, so each call gets its own.
	"upper": func(s string) string { return cases.Upper(language.Und).String(s) },
	"lower": func(s string) string { return cases.Lower(language.Und).String(s) },
	"title": func(s string) string { return cases.Title(language.Und).String(s) },
}

// NewExecutor parses the template at templateFilePath.
// Returns nil, nil if templateFilePath is empty; the caller then prints the
// document as YAML.
func NewExecutor(templateFilePath string, fs filesystem.FileSystem) (*Executor, error) {
	if templateFilePath == "" {
		return nil, nil
	}

	templateContent, err := fs.ReadFile(templateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file '%s': %w", templateFilePath, err)
	}

	// Named after the file for better parse error messages.
	tmpl, err := template.New(templateFilePath).Funcs(funcs).Option("missingkey=error").Parse(string(templateContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template file '%s': %w", templateFilePath, err)
	}

	return &Executor{
		template: tmpl,
		filePath: templateFilePath,
	}, nil
}

// Execute renders doc, loaded from path.
func (e *Executor) Execute(doc document.Document, path string) (string, error) {
	data := doc.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	ctx := Context{
		Directory: doc.Directory,
		File:      doc.File,
		Path:      path,
		Data:      data,
	}

	var rendered bytes.Buffer
	if err := e.template.Execute(&rendered, ctx); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", e.filePath, err)
	}
	return rendered.String(), nil
}

// Default renders doc as YAML, the output used when no template is set.
func Default(doc document.Document) (string, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render document '%s/%s': %w", doc.Directory, doc.File, err)
	}
	return string(out), nil
}
