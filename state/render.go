package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/uicp/coreadapter/domapply"
	"github.com/uicp/coreadapter/sanitize"
)

// render turns value into HTML and forwards it through DomSink at w's
// target, slot-aware when the probe reports any `data-slot` children
// (§4.8: "toggle exactly one visible slot instead of replacing the whole
// subtree"). Without a probe, or when it reports no slots, the whole target
// is set/appended per w.Mode.
func (s *Store) render(ctx context.Context, w *watcherEntry, value any) error {
	if s.dom == nil {
		return nil
	}

	if s.probe != nil {
		slots, err := s.probe.Slots(ctx, w.WindowID, w.Selector)
		if err == nil && len(slots) > 0 {
			return s.renderSlotted(ctx, w, value, slots)
		}
	}

	html := toHtml(value)
	mode := domapply.ModeReplace
	if w.Mode == "append" {
		mode = domapply.ModeAppend
	}
	_, _, err := s.dom.Apply(ctx, w.WindowID, w.Selector, html, mode)
	return err
}

// renderSlotted picks one of four well-known slot names based on value's
// shape — "error" when value carries an error marker, "loading" when its
// status is "loading", "empty" for nil/zero-length, "data" otherwise (or
// the first reported slot when none of those exist) — and replaces only
// that slot's content, leaving
// sibling slots (and their visibility toggling) to the host's CSS.
func (s *Store) renderSlotted(ctx context.Context, w *watcherEntry, value any, slots []string) error {
	active := activeSlot(value, slots)
	for _, slot := range slots {
		target := w.Selector + ` [data-slot="` + slot + `"]`
		if slot != active {
			continue
		}
		html := toHtml(slotValue(value, slot))
		if _, _, err := s.dom.Apply(ctx, w.WindowID, target, html, domapply.ModeReplace); err != nil {
			return err
		}
	}
	return nil
}

func activeSlot(value any, slots []string) string {
	has := func(name string) bool {
		for _, s := range slots {
			if s == name {
				return true
			}
		}
		return false
	}

	if m, ok := value.(map[string]any); ok {
		if errVal, ok := m["error"]; ok && errVal != nil && has("error") {
			return "error"
		}
		if status, ok := m["status"].(string); ok && status == "loading" && has("loading") {
			return "loading"
		}
	}
	if isEmptyValue(value) && has("empty") {
		return "empty"
	}
	if has("data") {
		return "data"
	}
	if len(slots) > 0 {
		return slots[0]
	}
	return ""
}

func slotValue(value any, slot string) any {
	if m, ok := value.(map[string]any); ok {
		if v, ok := m[slot]; ok {
			return v
		}
	}
	return value
}

func isEmptyValue(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case []any:
		return len(vv) == 0
	case map[string]any:
		return len(vv) == 0
	case string:
		return vv == ""
	default:
		return false
	}
}

// toHtml renders a JSON-shaped value per §4.8's formatting table:
// array-of-objects becomes a table with the sorted union of all row keys as
// columns, array-of-scalars becomes a list, an object becomes
// pretty-printed monospaced JSON, and a scalar becomes escaped text.
func toHtml(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []any:
		if len(v) == 0 {
			return ""
		}
		if allObjects(v) {
			return renderTable(v)
		}
		return renderList(v)
	case map[string]any:
		return renderJSON(v)
	default:
		return sanitize.EscapeHTML(fmt.Sprint(v))
	}
}

func allObjects(items []any) bool {
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func renderTable(rows []any) string {
	colSet := make(map[string]struct{})
	for _, row := range rows {
		obj := row.(map[string]any)
		for k := range obj {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString(`<table class="uicp-table"><thead><tr>`)
	for _, c := range cols {
		b.WriteString("<th>")
		b.WriteString(sanitize.EscapeHTML(c))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range rows {
		obj := row.(map[string]any)
		b.WriteString("<tr>")
		for _, c := range cols {
			b.WriteString("<td>")
			if cell, ok := obj[c]; ok {
				b.WriteString(sanitize.EscapeHTML(fmt.Sprint(cell)))
			}
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func renderList(items []any) string {
	var b strings.Builder
	b.WriteString(`<ul class="uicp-list">`)
	for _, it := range items {
		b.WriteString("<li>")
		b.WriteString(sanitize.EscapeHTML(fmt.Sprint(it)))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

func renderJSON(v map[string]any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sanitize.EscapeHTML(fmt.Sprint(v))
	}
	return `<pre class="uicp-json">` + sanitize.EscapeHTML(string(out)) + `</pre>`
}
