package source

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
)

// TemplateEngine renders resource and model prepare expressions with Sprig functions
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates a new template engine with Sprig functions
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: sprig.TxtFuncMap(),
	}
}

// Render renders a template with the given variables
func (t *TemplateEngine) Render(content string, variables map[string]any) (string, error) {
	tmpl, err := template.New("prepare").Funcs(t.funcMap).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// BuildVariables builds the variables a prepare template sees
func (t *TemplateEngine) BuildVariables(model *manifest.Model) map[string]any {
	cols := Columns(model)

	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, col.Name)
	}

	return map[string]any{
		"table":   model.ExternalSource,
		"columns": names,
		"model":   model.Name,
		"dataset": model.Namespace(),
	}
}
