package orchestrator

import (
	"encoding/json"

	"github.com/uicp/coreadapter/component"
	"github.com/uicp/coreadapter/domapply"
	"github.com/uicp/coreadapter/windowmgr"
)

type windowGeometryParams struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ZIndex int     `json:"zIndex"`
}

func (p windowGeometryParams) geometry() windowmgr.Geometry {
	return windowmgr.Geometry{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height, ZIndex: p.ZIndex}
}

type windowUpdateParams struct {
	ID     string   `json:"id"`
	Title  *string  `json:"title,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

type windowMoveParams struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type windowResizeParams struct {
	ID     string  `json:"id"`
	Handle string  `json:"handle"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p windowResizeParams) resizeHandle() windowmgr.ResizeHandle {
	switch p.Handle {
	case "south":
		return windowmgr.HandleSouth
	case "southeast", "south-east":
		return windowmgr.HandleSouthEast
	default:
		return windowmgr.HandleEast
	}
}

type windowIDParams struct {
	ID string `json:"id"`
}

type domParams struct {
	Target   string `json:"target"`
	HTML     string `json:"html"`
	Sanitize *bool  `json:"sanitize,omitempty"`
}

func (p domParams) domMode(op string) domapply.Mode {
	switch op {
	case "dom.replace":
		return domapply.ModeReplace
	case "dom.append":
		return domapply.ModeAppend
	default:
		return domapply.ModeSet
	}
}

type componentRenderParams struct {
	ID       string          `json:"id"`
	WindowID string          `json:"windowId"`
	Target   string          `json:"target"`
	Type     string          `json:"type"`
	Props    json.RawMessage `json:"props"`
}

func (p componentRenderParams) props() component.Props {
	props := component.Props{}
	if len(p.Props) > 0 {
		_ = json.Unmarshal(p.Props, &props)
	}
	return props
}

type componentUpdateParams struct {
	ID    string          `json:"id"`
	Props json.RawMessage `json:"props"`
}

type componentIDParams struct {
	ID string `json:"id"`
}

type stateSetParams struct {
	Scope    string          `json:"scope"`
	Key      string          `json:"key"`
	WindowID string          `json:"windowId,omitempty"`
	Value    json.RawMessage `json:"value"`
}

type statePatchParams struct {
	Scope    string          `json:"scope"`
	Key      string          `json:"key"`
	WindowID string          `json:"windowId,omitempty"`
	Op       string          `json:"op"`
	Path     string          `json:"path,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type stateGetParams struct {
	Scope    string `json:"scope"`
	Key      string `json:"key"`
	WindowID string `json:"windowId,omitempty"`
}

type stateWatchParams struct {
	Scope    string `json:"scope"`
	Key      string `json:"key"`
	WindowID string `json:"windowId,omitempty"`
	Selector string `json:"selector"`
	Mode     string `json:"mode,omitempty"`
}

type stateUnwatchParams struct {
	WindowID string `json:"windowId,omitempty"`
	Selector string `json:"selector"`
}

type apiCallParams struct {
	URL      string          `json:"url"`
	Method   string          `json:"method,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Into     string          `json:"into,omitempty"`
	Path     string          `json:"path,omitempty"`
	Contents string          `json:"contents,omitempty"`
	Token    string          `json:"directoryToken,omitempty"`
}

func decodeAny(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
