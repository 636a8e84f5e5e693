// Package formatter renders the FSM's prescribed response template into
// the final outbound reply, then audits that reply before it leaves the
// process. Rendering is deterministic text/template execution over
// flattened tool results, never an LLM call — the model is only ever
// allowed to restyle the rendered text, never to invent the facts inside
// it.
package formatter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"inc2": func(i int) int { return i + 2 },
	"join": func(parts []string, sep string) string { return strings.Join(parts, sep) },
}

// Render executes tmpl against vars, the flattened tool-call results
// merged over the FSM's TemplateVars. A malformed template is a
// programmer error in one of the fsm package's action builders, so it is
// returned rather than silently swallowed.
func Render(tmpl string, vars map[string]any) (string, error) {
	t, err := template.New("reply").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("formatter: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("formatter: execute template: %w", err)
	}
	return buf.String(), nil
}

// MergeVars layers a tool result (already flattened to a map by the tool
// executor) over the FSM's template_vars, tool result values winning on
// key collision since they reflect what actually happened this turn.
func MergeVars(templateVars, toolResult map[string]any) map[string]any {
	out := make(map[string]any, len(templateVars)+len(toolResult))
	for k, v := range templateVars {
		out[k] = v
	}
	for k, v := range toolResult {
		out[k] = v
	}
	return out
}
