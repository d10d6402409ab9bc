package shortcode

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[a-z]+-[a-z]+-\d{2}$`)

func TestGenerateMatchesShape(t *testing.T) {
	code, err := Generate(nil)
	require.NoError(t, err)
	require.Regexp(t, codePattern, code)
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	seen := map[string]bool{}
	first, err := Generate(nil)
	require.NoError(t, err)
	seen[first] = true

	second, err := Generate(func(candidate string) bool { return candidate == first })
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	_, err := Generate(func(string) bool { return true })
	require.Error(t, err)
}
