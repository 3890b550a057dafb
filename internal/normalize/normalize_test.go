package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"0", "Cantrip"},
		{" 3 ", "Level 3"},
		{"9", "Level 9"},
		{"", ""},
		{"Level 3", "Level 3"},
		{"Cantrip", "Cantrip"},
		{" ? ", "?"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Level(tc.in), "Level(%q)", tc.in)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No", Presence(""))
	assert.Equal(t, "No", Presence("   "))
	assert.Equal(t, "Yes", Presence("x"))
	assert.Equal(t, "Yes", Presence(" ✓ "))
	assert.Equal(t, "Yes", Presence("Yes"))
	assert.Equal(t, "No", Presence("No"))
}

// TestIdempotent checks T(T(x)) == T(x) for every registered transform.
func TestIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"", " ", "0", "3", " 12 ", "x", "Yes", "No", "  Hello   World ", "Café", "Level 2", "Cantrip"}
	for _, name := range Builtin.Names() {
		for _, in := range inputs {
			once := Builtin.Apply(name, in)
			assert.Equal(t, once, Builtin.Apply(name, once), "%s(%q)", name, in)
		}
	}
}

func TestApply_DefaultsAndUnknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a  b", Builtin.Apply("", "  a  b "))
	assert.Equal(t, "a  b", Builtin.Apply("no-such-transform", " a  b"))
	assert.Equal(t, "a b", Builtin.Apply("collapse", " a \n\t b "))
	assert.Equal(t, "abc", Builtin.Apply("lower", " ABC "))
	assert.Equal(t, "ABC", Builtin.Apply("upper", "abc"))
	assert.Equal(t, "Caf\u00e9", Builtin.Apply("nfc", "Cafe\u0301"))
}

func TestApplyAll(t *testing.T) {
	t.Parallel()

	got := Builtin.ApplyAll("upper", []string{" a", "b "})
	assert.Equal(t, []string{"A", "B"}, got)
	assert.Empty(t, Builtin.ApplyAll("trim", nil))
}

func TestHas(t *testing.T) {
	t.Parallel()

	assert.True(t, Builtin.Has(""))
	assert.True(t, Builtin.Has("presence"))
	assert.False(t, Builtin.Has("Presence"))
}
