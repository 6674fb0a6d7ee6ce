package component

import (
	"fmt"
	"sort"
	"strings"

	"github.com/uicp/coreadapter/sanitize"
)

func defaultBuilders() map[string]Builder {
	return map[string]Builder{
		"button": buildButton,
		"form":   buildForm,
		"table":  buildTable,
		"modal":  buildModal,
		"cell":   buildCell,
		"grid":   buildGrid,
	}
}

func esc(v any) string {
	return sanitize.EscapeHTML(fmt.Sprintf("%v", v))
}

func propStr(props Props, key string) string {
	if v, ok := props[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// buildButton renders props {label, command}. command is attached as a
// data-command attribute, never executed at render time (§4.7).
func buildButton(id string, props Props) string {
	label := esc(propStr(props, "label"))
	command := esc(propStr(props, "command"))
	return fmt.Sprintf(`<button id=%q class="uicp-button" data-command=%q>%s</button>`, id, command, label)
}

// buildForm renders props {fields: [{name,label,type}], submitLabel,
// submitCommand}.
func buildForm(id string, props Props) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<form id=%q class="uicp-form">`, id)
	if fields, ok := props["fields"].([]any); ok {
		for _, f := range fields {
			field, _ := f.(map[string]any)
			name := esc(propStr(field, "name"))
			label := esc(propStr(field, "label"))
			inputType := propStr(field, "type")
			if inputType == "" {
				inputType = "text"
			}
			fmt.Fprintf(&sb, `<label>%s<input name=%q type=%q></label>`, label, name, esc(inputType))
		}
	}
	submitLabel := propStr(props, "submitLabel")
	if submitLabel == "" {
		submitLabel = "Submit"
	}
	submitCommand := esc(propStr(props, "submitCommand"))
	fmt.Fprintf(&sb, `<button type="submit" data-command=%q>%s</button>`, submitCommand, esc(submitLabel))
	sb.WriteString(`</form>`)
	return sb.String()
}

// buildTable renders props {headers: [string], rows: [[string]]}.
func buildTable(id string, props Props) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<table id=%q class="uicp-table"><thead><tr>`, id)
	if headers, ok := props["headers"].([]any); ok {
		for _, h := range headers {
			fmt.Fprintf(&sb, `<th>%s</th>`, esc(h))
		}
	}
	sb.WriteString(`</tr></thead><tbody>`)
	if rows, ok := props["rows"].([]any); ok {
		for _, row := range rows {
			sb.WriteString(`<tr>`)
			if cells, ok := row.([]any); ok {
				for _, c := range cells {
					fmt.Fprintf(&sb, `<td>%s</td>`, esc(c))
				}
			}
			sb.WriteString(`</tr>`)
		}
	}
	sb.WriteString(`</tbody></table>`)
	return sb.String()
}

// buildModal renders props {title, textPrompt, fields: [{name,label,required}],
// submit, submitCommand, cancelCommand}. Used directly by the
// clarifier form (§4.9 / S6) as well as generic component.render calls.
func buildModal(id string, props Props) string {
	var sb strings.Builder
	title := esc(propStr(props, "title"))
	fmt.Fprintf(&sb, `<div id=%q class="uicp-modal"><h2>%s</h2>`, id, title)
	if prompt := propStr(props, "textPrompt"); prompt != "" {
		fmt.Fprintf(&sb, `<p>%s</p>`, esc(prompt))
	}
	fmt.Fprintf(&sb, `<form class="uicp-modal-form">`)
	if fields, ok := props["fields"].([]any); ok {
		for _, f := range fields {
			field, _ := f.(map[string]any)
			name := esc(propStr(field, "name"))
			label := esc(propStr(field, "label"))
			required := ""
			if b, _ := field["required"].(bool); b {
				required = " required"
			}
			fmt.Fprintf(&sb, `<label>%s<input name=%q%s></label>`, label, name, required)
		}
	}
	submitLabel := propStr(props, "submit")
	if submitLabel == "" {
		submitLabel = "Submit"
	}
	submitCommand := esc(propStr(props, "submitCommand"))
	cancelCommand := esc(propStr(props, "cancelCommand"))
	fmt.Fprintf(&sb, `<button type="submit" data-command=%q>%s</button>`, submitCommand, esc(submitLabel))
	if cancelCommand != "" {
		fmt.Fprintf(&sb, `<button type="button" data-command=%q>Cancel</button>`, cancelCommand)
	}
	sb.WriteString(`</form></div>`)
	return sb.String()
}

// buildCell renders props {value}: a single escaped scalar in a span, the
// smallest unit grid composes.
func buildCell(id string, props Props) string {
	return fmt.Sprintf(`<span id=%q class="uicp-cell">%s</span>`, id, esc(propStr(props, "value")))
}

// buildGrid renders props {items: [any]} as a CSS-grid wrapper of cells.
func buildGrid(id string, props Props) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<div id=%q class="uicp-grid">`, id)
	if items, ok := props["items"].([]any); ok {
		for i, item := range items {
			fmt.Fprintf(&sb, `<span class="uicp-grid-item">%s</span>`, escAny(i, item))
		}
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

func escAny(_ int, v any) string {
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, esc(k)+"="+esc(m[k]))
		}
		return strings.Join(parts, ", ")
	}
	return esc(v)
}
