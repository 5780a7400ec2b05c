package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	got, ok := Email("  Alice@Secondhand.Test ")
	assert.True(t, ok)
	assert.Equal(t, "alice@secondhand.test", got)

	for _, bad := range []string{"", "alice", "alice@host", "Alice <alice@secondhand.test>", "a b@secondhand.test"} {
		_, ok := Email(bad)
		assert.False(t, ok, bad)
	}
}

func TestID(t *testing.T) {
	for _, good := range []string{"p-camera", "9f1c2a7e-1b2c-4d5e-8f90-123456789abc", "x_1"} {
		_, ok := ID(good)
		assert.True(t, ok, good)
	}
	for _, bad := range []string{"", " ", "bad id", "bad$id", "../etc", strings.Repeat("a", 65)} {
		_, ok := ID(bad)
		assert.False(t, ok, bad)
	}
}

func TestTitleCountsRunes(t *testing.T) {
	_, ok := Title(strings.Repeat("é", 120))
	assert.True(t, ok)
	_, ok = Title(strings.Repeat("é", 121))
	assert.False(t, ok)
	_, ok = Title("two\nlines")
	assert.False(t, ok)
	got, ok := Title("  Olympus OM-1  ")
	assert.True(t, ok)
	assert.Equal(t, "Olympus OM-1", got)
}

func TestPassword(t *testing.T) {
	assert.True(t, Password("Passw0rd!"))
	assert.True(t, Password("hunter22"))
	assert.False(t, Password("short1"))
	assert.False(t, Password("lettersonly"))
	assert.False(t, Password("12345678"))
	assert.False(t, Password(strings.Repeat("a1", 33)))
}
