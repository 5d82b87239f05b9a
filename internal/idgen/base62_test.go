package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBase62(t *testing.T) {
	tests := []struct {
		name     string
		input    uint64
		expected string
	}{
		{"zero", 0, "0"},
		{"last digit", 9, "9"},
		{"first lowercase", 10, "a"},
		{"first uppercase", 36, "A"},
		{"single char max", 61, "Z"},
		{"two chars", 62, "10"},
		{"max uint64", 18446744073709551615, "lYGhA16ahyf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodeBase62(tt.input))
		})
	}
}

func TestDecodeBase62(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		for _, num := range []uint64{0, 1, 61, 62, 3843, 123456789, 18446744073709551615} {
			decoded, err := DecodeBase62(EncodeBase62(num))
			require.NoError(t, err)
			assert.Equal(t, num, decoded)
		}
	})

	t.Run("rejects invalid characters", func(t *testing.T) {
		_, err := DecodeBase62("abc-def")
		assert.ErrorIs(t, err, ErrInvalidBase62)
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := DecodeBase62("")
		assert.ErrorIs(t, err, ErrInvalidBase62)
	})
}
