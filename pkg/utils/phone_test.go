package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "bare ten digits gets us prefix", input: "3035551234", expected: "+13035551234"},
		{name: "formatted us number", input: "(303) 555-1234", expected: "+13035551234"},
		{name: "eleven digits with leading one", input: "13035551234", expected: "+13035551234"},
		{name: "already e164", input: "+13035551234", expected: "+13035551234"},
		{name: "international with plus", input: "+442071838750", expected: "+442071838750"},
		{name: "dots and spaces stripped", input: "303.555.1234", expected: "+13035551234"},
		{name: "too short", input: "555-1234", wantErr: true},
		{name: "too long", input: "+1234567890123456", wantErr: true},
		{name: "letters rejected", input: "303-555-CALL", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
