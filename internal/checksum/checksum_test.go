package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key([]byte("archive bytes"), "explain the layout")
	b := Key([]byte("archive bytes"), "explain the layout")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKeyVariesWithEitherInput(t *testing.T) {
	base := Key([]byte("archive"), "question")
	assert.NotEqual(t, base, Key([]byte("archive2"), "question"))
	assert.NotEqual(t, base, Key([]byte("archive"), "question2"))
}

func TestKeyEmptyInputs(t *testing.T) {
	// sha256 of zero bytes
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Key(nil, ""))
}
