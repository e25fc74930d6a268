// Package templates fills {{name}} placeholders in WhatsApp messages and
// contract documents.
package templates

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

type Result struct {
	Rendered         string   `json:"rendered"`
	VariablesUsed    []string `json:"variablesUsed"`
	MissingVariables []string `json:"missingVariables"`
}

// ListTemplateVariables returns unique placeholder names in order of first appearance.
func ListTemplateVariables(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// RenderTemplateContent substitutes every placeholder that has a non-nil value.
// Unresolved tokens are left verbatim and reported in MissingVariables.
func RenderTemplateContent(template string, variables map[string]any) Result {
	res := Result{
		Rendered:         template,
		VariablesUsed:    []string{},
		MissingVariables: []string{},
	}

	names := ListTemplateVariables(template)
	if len(names) == 0 {
		return res
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		v, ok := variables[name]
		if !ok || v == nil {
			res.MissingVariables = append(res.MissingVariables, name)
			continue
		}
		values[name] = stringify(v)
		res.VariablesUsed = append(res.VariablesUsed, name)
	}

	res.Rendered = placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		name := placeholderRe.FindStringSubmatch(token)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
	return res
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		// JSON numbers decode as float64; keep integers free of a trailing ".0".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
