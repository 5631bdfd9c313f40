package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"kilobytes", "64KB", 64 * 1024, false},
		{"kibibytes", "64KiB", 64 * 1024, false},
		{"megabytes", "1MB", 1024 * 1024, false},
		{"with space", "256 KB", 256 * 1024, false},
		{"lowercase", "1mb", 1024 * 1024, false},
		{"float", "0.5MB", 512 * 1024, false},
		{"zero", "0", 0, false},
		{"unknown unit", "5XB", 0, true},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected ByteSize
	}{
		{"string format", `"256KB"`, 256 * 1024},
		{"bytes int", `65536`, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			require.NoError(t, json.Unmarshal([]byte(tt.json), &b))
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "0B", ByteSize(0).String())
	assert.Equal(t, "1MB", ByteSize(1024*1024).String())
	assert.Equal(t, "256KB", ByteSize(256*1024).String())
	assert.Equal(t, "100B", ByteSize(100).String())
}
