// Package code generates and normalizes shareable session join codes.
package code

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Length is the fixed length of every join code.
	Length = 6

	// Alphabet excludes 0, 1, O and I, which are easy to confuse when a
	// code is shared verbally or copied from a screen.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generate returns a new random join code.
func Generate() (string, error) {
	c, err := gonanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate session code: %w", err)
	}
	return c, nil
}

// Normalize canonicalizes user input to the stored form. Codes are
// case-insensitive on input and stored uppercase.
func Normalize(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Valid reports whether c is a well-formed join code after normalization.
func Valid(c string) bool {
	if len(c) != Length {
		return false
	}
	for _, r := range c {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
