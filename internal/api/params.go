package api

import (
	"bytes"
	"encoding/json"
)

// stringList accepts either a single string or a list of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// field records whether a JSON key was present and whether it was null, so
// updates can tell "leave unchanged" from "clear".
type field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (f *field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(b, []byte("null")) {
		f.Null = true
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

// clearable maps an absent key to nil, null to "" and a value to itself,
// matching the registries' partial update convention.
func clearable(f field[string]) *string {
	switch {
	case !f.Set:
		return nil
	case f.Null:
		return ptr("")
	default:
		return ptr(f.Value)
	}
}

// optional maps an absent or null key to nil.
func optional[T any](f field[T]) *T {
	if !f.Set || f.Null {
		return nil
	}
	return ptr(f.Value)
}

// list maps an absent key to nil and null to an empty list.
func list(f field[[]string]) *[]string {
	switch {
	case !f.Set:
		return nil
	case f.Null || f.Value == nil:
		return ptr([]string{})
	default:
		return ptr(f.Value)
	}
}

func ptr[T any](v T) *T { return &v }
