package checkout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+880.1712345678": "01712345678",
		"+1.5551234567":   "15551234567",
		"+880.171-234 56": "017123456",
		"01712-345678":    "01712345678",
		"+8801712345678":  "8801712345678",
		"  (555) 123  ":   "555123",
		"":                "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizePhone(in), in)
	}
}
