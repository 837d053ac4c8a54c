package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var doc = []byte(`{"user":{"name":"Ada","tags":["a","b"]},"items":[{"id":1},{"id":2}]}`)

func TestGet(t *testing.T) {
	assert.Equal(t, "Ada", Get(doc, "user.name").String())
	assert.Equal(t, int64(2), Get(doc, "user.tags.#").Int())
	assert.Equal(t, "[1,2]", Get(doc, "items.#.id").Raw)
	assert.False(t, Get(doc, "user.email").Exists())
}

func TestGetString(t *testing.T) {
	assert.Equal(t, "Ada", GetString(doc, "user.name", "anon"))
	assert.Equal(t, "anon", GetString(doc, "user.email", "anon"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(doc))
	assert.False(t, Valid([]byte(`{"a":`)))
}

func TestPrettyAndCompact(t *testing.T) {
	pretty := Pretty([]byte(`{"a":1}`))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(pretty))
	assert.Equal(t, `{"a":1}`, string(Compact(pretty)))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, `{"a":1}`, Stringify(map[string]int{"a": 1}))
	assert.Equal(t, "{}", Stringify(make(chan int)))
}
