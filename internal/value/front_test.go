package value

import (
	"encoding/json"
	"testing"

	"github.com/dshills/retrace/internal/protocol"
)

func TestFront_Preview(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"number", `{"value": 42}`, "42"},
		{"string", `{"value": "hello"}`, `"hello"`},
		{"boolean", `{"value": true}`, "true"},
		{"null", `{"value": null}`, "null"},
		{"undefined", `{"undefined": true}`, "undefined"},
		{"nan", `{"unserializableNumber": "NaN"}`, "NaN"},
		{"infinity", `{"unserializableNumber": "Infinity"}`, "Infinity"},
		{"object", `{"object": "obj-3", "className": "Array"}`, "Array(obj-3)"},
		{"anonymous object", `{"object": "obj-4"}`, "Object(obj-4)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FromRaw([]byte(tt.raw))
			if got := f.Preview(); got != tt.expected {
				t.Errorf("Preview() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestFront_Exception(t *testing.T) {
	result := &protocol.EvalResult{
		Exception: json.RawMessage(`{"object": "obj-9", "className": "TypeError"}`),
	}

	f := NewFront(result)
	if !f.IsException() {
		t.Error("expected IsException true")
	}
	if f.String() != "threw TypeError(obj-9)" {
		t.Errorf("unexpected String(): %q", f.String())
	}
}

func TestFront_Returned(t *testing.T) {
	result := &protocol.EvalResult{
		Returned: json.RawMessage(`{"value": 7}`),
	}

	f := NewFront(result)
	if f.IsException() {
		t.Error("expected IsException false")
	}
	if f.String() != "7" {
		t.Errorf("unexpected String(): %q", f.String())
	}
}

func TestFront_NilResult(t *testing.T) {
	f := NewFront(nil)
	if f.IsException() {
		t.Error("expected IsException false for nil result")
	}
	if f.Preview() != "<no value>" {
		t.Errorf("unexpected Preview(): %q", f.Preview())
	}
}

func TestFront_Get(t *testing.T) {
	f := FromRaw([]byte(`{"object": "obj-1", "className": "Point", "preview": {"x": {"value": 3}, "y": {"value": 4}}}`))

	x := f.Get("preview.x")
	if x.Preview() != "3" {
		t.Errorf("expected preview.x 3, got %q", x.Preview())
	}

	missing := f.Get("preview.z")
	if missing.Preview() != "<no value>" {
		t.Errorf("expected missing path preview, got %q", missing.Preview())
	}
}

func TestFront_ObjectAccessors(t *testing.T) {
	f := FromRaw([]byte(`{"object": "obj-2", "className": "Map"}`))

	if !f.IsObject() {
		t.Fatal("expected IsObject true")
	}
	if f.ObjectID() != "obj-2" {
		t.Errorf("expected object id obj-2, got %q", f.ObjectID())
	}
	if f.ClassName() != "Map" {
		t.Errorf("expected class Map, got %q", f.ClassName())
	}
}
