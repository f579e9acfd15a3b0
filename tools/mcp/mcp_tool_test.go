package mcp

import (
	"reflect"
	"testing"

	"github.com/m4xw311/codoc/tools"
)

func TestParametersFromSchema(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search text."},
			"limit": map[string]interface{}{"type": "integer"},
			"any":   map[string]interface{}{"type": []string{"string", "null"}},
		},
		"required": []string{"query"},
	}
	got := parametersFromSchema(schema)
	want := []tools.Parameter{
		{Name: "any", Type: "string"},
		{Name: "limit", Type: "integer"},
		{Name: "query", Type: "string", Description: "Search text.", Required: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParametersFromNilSchema(t *testing.T) {
	if got := parametersFromSchema(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
