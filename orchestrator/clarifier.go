package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uicp/coreadapter/apirouter"
	"github.com/uicp/coreadapter/component"
	"github.com/uicp/coreadapter/idgen"
	"github.com/uicp/coreadapter/windowmgr"
)

// renderClarifier turns a detected ClarifierForm into the window+modal
// sequence §4.9/S6 requires: a window.create with id `clarifier-*`, a
// component.render of type modal hosting the form, and submit/cancel
// buttons wired to a data-command batch — the submit batch re-issues
// uicp://intent with the filled-in field values, then closes the clarifier
// window; cancel just closes it.
func (c *AdapterContext) renderClarifier(ctx context.Context, form apirouter.ClarifierForm) error {
	id := "clarifier-" + idgen.New()
	if _, err := c.Windows.Create(ctx, id, form.Title, windowmgr.Geometry{Width: 420, Height: 320}); err != nil {
		return wrapWindowErr("api.call", err)
	}

	if c.Components == nil {
		return nil
	}

	props := component.Props{
		"title":         form.Title,
		"textPrompt":    form.TextPrompt,
		"fields":        clarifierFieldProps(form.Fields),
		"submit":        clarifierSubmitLabel(form),
		"submitCommand": clarifierSubmitCommand(id, form),
		"cancelCommand": clarifierCancelCommand(id),
	}
	_, err := c.Components.Render(ctx, id+"-modal", id, "#root", "modal", props)
	return wrapComponentErr("api.call", err)
}

// clarifierFieldProps returns []any rather than []map[string]any because
// buildModal's field loop does a props["fields"].([]any) type assertion —
// the same shape component.render callers pass through JSON decoding.
func clarifierFieldProps(fields []apirouter.ClarifierField) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"name":     f.Name,
			"label":    f.Label,
			"required": f.Required,
		})
	}
	return out
}

func clarifierSubmitLabel(form apirouter.ClarifierForm) string {
	if form.Submit != "" {
		return form.Submit
	}
	return "Submit"
}

// clarifierSubmitCommand builds the data-command batch a clarifier's submit
// button carries: re-issue uicp://intent with the form's fields folded into
// a text prompt the host shell fills in from the submitted values, then
// close the clarifier window.
func clarifierSubmitCommand(windowID string, form apirouter.ClarifierForm) string {
	text := ""
	for i, f := range form.Fields {
		if i > 0 {
			text += ", "
		}
		text += fmt.Sprintf("%s: {{form.%s}}", f.Label, f.Name)
	}
	body, _ := json.Marshal(map[string]string{"text": text})

	op := form.SubmitOp
	if op == "" {
		op = "api.call"
	}
	batch := []map[string]any{
		{"op": op, "params": map[string]any{"url": "uicp://intent", "method": "POST", "body": json.RawMessage(body)}},
		{"op": "window.close", "params": map[string]any{"id": windowID}},
	}
	out, _ := json.Marshal(batch)
	return string(out)
}

// clarifierCancelCommand builds the data-command batch a clarifier's cancel
// button carries: just close the clarifier window.
func clarifierCancelCommand(windowID string) string {
	batch := []map[string]any{{"op": "window.close", "params": map[string]any{"id": windowID}}}
	out, _ := json.Marshal(batch)
	return string(out)
}
