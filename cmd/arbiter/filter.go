package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqFilter keeps values for which every compiled expression is truthy.
type jqFilter struct {
	codes []*gojq.Code
}

func newJQFilter(exprs []string) (*jqFilter, error) {
	f := &jqFilter{codes: make([]*gojq.Code, len(exprs))}
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		f.codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return f, nil
}

// Match reports whether v passes every filter. v is converted to its JSON
// form first, so struct tags decide the field names.
func (f *jqFilter) Match(v interface{}) bool {
	if len(f.codes) == 0 {
		return true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return f.MatchJSON(data)
}

// MatchJSON is Match for an already encoded value.
func (f *jqFilter) MatchJSON(data []byte) bool {
	if len(f.codes) == 0 {
		return true
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for _, code := range f.codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
