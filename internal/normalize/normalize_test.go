package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := New("")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Red-Black Trees", "red-black trees"},
		{"collapses whitespace", "red-black\t trees ", "red-black trees"},
		{"strips disallowed punctuation", "red-black trees!!!", "red-black trees"},
		{"keeps allowed punctuation", "C++ and C# and node.js", "c++ and c# and node.js"},
		{"keeps apostrophes and slashes", "bayes' theorem a/b", "bayes' theorem a/b"},
		{"unicode letters survive", "Schrödinger Equation", "schrödinger equation"},
		{"digits survive", "TCP port 443", "tcp port 443"},
		{"all stripped yields empty", "!!! ???", ""},
		{"whitespace only yields empty", " \t\n ", ""},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New("")
	inputs := []string{
		"Red-Black   Trees!",
		"  C++ templates  ",
		"schrödinger equation",
		"a/b testing",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		assert.Equal(t, once, n.Normalize(once), "input %q", in)
	}
}

func TestNormalize_EquivalentVariantsCollide(t *testing.T) {
	n := New("")
	key := n.Normalize("red-black trees")
	for _, v := range []string{"Red-Black Trees", "RED-BLACK   TREES", " red-black trees! "} {
		assert.Equal(t, key, n.Normalize(v), "variant %q", v)
	}
}

func TestNormalize_CustomAllowedPunct(t *testing.T) {
	n := New("_")
	assert.Equal(t, "snake_case", n.Normalize("Snake_Case"))
	// The default allow-set no longer applies.
	assert.Equal(t, "cd", n.Normalize("c.d"))
}
