package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"int64", int64(-100), "-100"},
		{"float", 12.5, "12.5"},
		{"whole float", 3.0, "3"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"persisted id", NewID(7), "7"},
		{"transient id", NewRef(3), `"new:3"`},
		{"aligned id", Aligned(9), `"new_9"`},
		{"ids", IDs{NewID(1), NewRef(2)}, `[1,"new:2"]`},
		{"pair", Pair{ID: NewID(7), Label: "Parent 7"}, `[7,"Parent 7"]`},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"no html escape", "<b>&</b>", `"<b>&</b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"b": 1, "a": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	result, err := MarshalCanonical("e\u0301")
	result, err = MarshalCanonical("é")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestSortedKeysUTF16(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 byte order but after it in UTF-16.
	keys := SortedKeys(map[string]int{"\U0001F600": 1, "｡": 2, "a": 3})
	assert.Equal(t, []string{"a", "\U0001F600", "｡"}, keys)
}
