// Package value wraps the raw remote values returned by the recording
// service. Values are kept as raw JSON and inspected lazily; a Front is
// a cheap local handle that never round-trips to the service.
package value

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/retrace/internal/protocol"
)

// Front is a local handle on a remote value.
//
// Remote values are JSON documents of the form {"value": 3},
// {"unserializableNumber": "NaN"}, {"undefined": true} or
// {"object": "<id>", "className": "Array"}.
type Front struct {
	raw       gjson.Result
	exception bool
}

// NewFront wraps an evaluation result. A thrown exception produces a
// front wrapping the thrown value with IsException reporting true;
// evaluation never surfaces the throw as an error.
func NewFront(result *protocol.EvalResult) *Front {
	if result == nil {
		return &Front{}
	}
	if result.Exception != nil {
		return &Front{raw: gjson.ParseBytes(result.Exception), exception: true}
	}
	return &Front{raw: gjson.ParseBytes(result.Returned)}
}

// FromRaw wraps a raw remote value, such as a scope binding.
func FromRaw(raw []byte) *Front {
	return &Front{raw: gjson.ParseBytes(raw)}
}

// IsException reports whether this front wraps a thrown value.
func (f *Front) IsException() bool {
	return f.exception
}

// IsUndefined reports whether the remote value is undefined.
func (f *Front) IsUndefined() bool {
	return f.raw.Get("undefined").Bool()
}

// IsObject reports whether the remote value is an object reference.
func (f *Front) IsObject() bool {
	return f.raw.Get("object").Exists()
}

// ObjectID returns the remote object id, or "" for non-objects.
func (f *Front) ObjectID() string {
	return f.raw.Get("object").String()
}

// ClassName returns the object's class name, or "" for non-objects.
func (f *Front) ClassName() string {
	return f.raw.Get("className").String()
}

// Get returns a child of the raw value by gjson path.
func (f *Front) Get(path string) *Front {
	return &Front{raw: f.raw.Get(path)}
}

// Raw returns the raw JSON of the value.
func (f *Front) Raw() string {
	return f.raw.Raw
}

// Preview renders a one-line display form of the value.
func (f *Front) Preview() string {
	switch {
	case !f.raw.Exists():
		return "<no value>"
	case f.IsUndefined():
		return "undefined"
	case f.raw.Get("unserializableNumber").Exists():
		return f.raw.Get("unserializableNumber").String()
	case f.IsObject():
		name := f.ClassName()
		if name == "" {
			name = "Object"
		}
		return fmt.Sprintf("%s(%s)", name, f.ObjectID())
	case f.raw.Get("value").Exists():
		return f.raw.Get("value").Raw
	default:
		return f.raw.Raw
	}
}

// String renders the value, marking exceptions.
func (f *Front) String() string {
	if f.exception {
		return "threw " + f.Preview()
	}
	return f.Preview()
}
