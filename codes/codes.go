// Package codes issues the single-use join codes handed to players and
// verifies them against their stored one-way hashes.
package codes

import (
	"crypto/rand"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Length is the number of characters in a join code.
	Length = 8

	// Alphabet excludes characters that are easy to confuse when typed (0/O, 1/I).
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generate returns a random join code.
func Generate() (string, error) {
	code := make([]byte, Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}

// GenerateSet returns n distinct join codes.
func GenerateSet(n int) ([]string, error) {
	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for len(out) < n {
		code, err := Generate()
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out, nil
}

// Normalize upper-cases a typed code and drops whitespace and dashes.
func Normalize(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == ' ' || r == '-' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Hasher hashes codes with bcrypt. The zero value uses bcrypt.DefaultCost.
type Hasher struct {
	Cost int
}

func (h Hasher) cost() int {
	if h.Cost < bcrypt.MinCost || h.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Hash returns the one-way hash stored for a player.
func (h Hasher) Hash(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(Normalize(code)), h.cost())
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether code matches hash.
func (h Hasher) Verify(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(Normalize(code))) == nil
}
