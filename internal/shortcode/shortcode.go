// Package shortcode generates human-friendly session aliases of the form
// {adjective}-{noun}-{NN}, retrying on collision.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"brave", "calm", "clever", "eager", "fuzzy", "gentle", "happy", "jolly",
	"keen", "lively", "mellow", "nimble", "plucky", "quiet", "rapid", "sunny",
	"tidy", "upbeat", "vivid", "witty",
}

var nouns = []string{
	"otter", "river", "falcon", "maple", "ember", "harbor", "meadow", "comet",
	"cobra", "willow", "canyon", "lantern", "glacier", "thistle", "sparrow",
	"boulder", "orchid", "tundra", "coral", "quarry",
}

const maxAttempts = 64

// Taken reports whether a candidate code is already in use. Generate retries
// until it finds one for which Taken returns false.
type Taken func(candidate string) bool

// Generate produces a random "{adjective}-{noun}-{NN}" code, retrying on
// collision up to maxAttempts times.
func Generate(taken Taken) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		adj, err := pick(adjectives)
		if err != nil {
			return "", err
		}
		noun, err := pick(nouns)
		if err != nil {
			return "", err
		}
		n, err := randInt(100)
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%s-%s-%02d", adj, noun, n)
		if taken == nil || !taken(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("shortcode: exhausted %d attempts without a free code", maxAttempts)
}

func pick(words []string) (string, error) {
	i, err := randInt(len(words))
	if err != nil {
		return "", err
	}
	return words[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("shortcode: random source failed: %w", err)
	}
	return int(v.Int64()), nil
}
