package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"identity-1/1700000000000-mix.wav", false},
		{"a/b/c.wav", false},
		{"", true},
		{"/abs.wav", true},
		{"a/../b.wav", true},
		{"a//b.wav", true},
		{"a\\b.wav", true},
		{"./a.wav", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBucket(t *testing.T) {
	assert.NoError(t, ValidateBucket(AudioBucket))
	assert.NoError(t, ValidateBucket("audio-2"))
	assert.Error(t, ValidateBucket(""))
	assert.Error(t, ValidateBucket("../etc"))
	assert.Error(t, ValidateBucket("Audio"))
}
