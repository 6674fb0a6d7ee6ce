package telemetry

import "fmt"

// stringify renders an attribute value of a type toOtelAttr doesn't handle
// natively (slices, structs, nil) as a string, since otel attributes have
// no generic "any" kind.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
