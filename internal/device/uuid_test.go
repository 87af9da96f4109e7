package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID", input: "2902", expected: "2902"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "SIG base UUID with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base UUID uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "vendor service UUID", input: "FE25C237-0ECE-443C-B0AA-E02033E7029D", expected: "fe25c2370ece443cb0aae02033e7029d"},
		{name: "vendor characteristic UUID", input: "27b7570b-359e-45a3-91bb-cf7e70049bd2", expected: "27b7570b359e45a391bbcf7e70049bd2"},
		{name: "SIG-like prefix with custom suffix", input: "00002902-1234-5678-9abc-def012345678", expected: "00002902123456789abcdef012345678"},
		{name: "too long to shorten", input: "0000290200001000800000805f9b34fb00", expected: "0000290200001000800000805f9b34fb00"},
		{name: "surrounding whitespace", input: "  2a19 ", expected: "2a19"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	result := NormalizeUUIDs([]string{"0x180d", "00002a37-0000-1000-8000-00805f9b34fb", "6e400001-b5a3-f393-e0a9-e50e24dcca9e"})
	assert.Equal(t, []string{"180d", "2a37", "6e400001b5a3f393e0a9e50e24dcca9e"}, result)
}

func TestEqualUUID(t *testing.T) {
	assert.True(t, EqualUUID("FE25C237-0ECE-443C-B0AA-E02033E7029D", "fe25c2370ece443cb0aae02033e7029d"))
	assert.True(t, EqualUUID("0x2902", "00002902-0000-1000-8000-00805f9b34fb"))
	assert.False(t, EqualUUID("2902", "2903"))
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes valid UUIDs", func(t *testing.T) {
		got, err := ValidateUUID("0x2A19", "27b7570b-359e-45a3-91bb-cf7e70049bd2")
		require.NoError(t, err)
		assert.Equal(t, []string{"2a19", "27b7570b359e45a391bbcf7e70049bd2"}, got)
	})

	t.Run("rejects missing input", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.EqualError(t, err, "at least one UUID is required")
	})

	t.Run("rejects empty entry", func(t *testing.T) {
		_, err := ValidateUUID("2a19", "")
		assert.EqualError(t, err, "UUID at index 1 cannot be empty")
	})

	t.Run("rejects malformed entry", func(t *testing.T) {
		_, err := ValidateUUID("zz19")
		assert.EqualError(t, err, "invalid UUID format at index 0: zz19")

		_, err = ValidateUUID("12345")
		assert.EqualError(t, err, "invalid UUID format at index 0: 12345")
	})
}
