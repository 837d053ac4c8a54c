// Package jsonutil holds small helpers for poking at JSON documents without
// declaring a struct for them.
package jsonutil

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Get returns the value at path (gjson syntax, e.g. "user.name" or
// "items.#.id").
func Get(raw []byte, path string) gjson.Result {
	return gjson.GetBytes(raw, path)
}

// GetString returns the string at path, or fallback when it is missing.
func GetString(raw []byte, path, fallback string) string {
	v := gjson.GetBytes(raw, path)
	if !v.Exists() {
		return fallback
	}
	return v.String()
}

// Valid reports whether raw is well-formed JSON.
func Valid(raw []byte) bool {
	return gjson.ValidBytes(raw)
}

// Pretty indents raw for display.
func Pretty(raw []byte) []byte {
	return pretty.Pretty(raw)
}

// Compact strips insignificant whitespace from raw.
func Compact(raw []byte) []byte {
	return pretty.Ugly(raw)
}

// Stringify marshals v, returning "{}" when it cannot be encoded.
func Stringify(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
