package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", "hello", "hello", false},
		{"trims whitespace", "  hello \n", "hello", false},
		{"empty", "", "", true},
		{"whitespace only", "  \t\n ", "", true},
		{"at limit", strings.Repeat("x", 2000), strings.Repeat("x", 2000), false},
		{"over limit", strings.Repeat("x", 2001), "", true},
		// Runes, not bytes: 2000 three-byte runes are within the limit.
		{"multibyte at limit", strings.Repeat("語", 2000), strings.Repeat("語", 2000), false},
		{"multibyte over limit", strings.Repeat("語", 2001), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeContent(tt.content, 2000)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidContent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
