// Package layout decides which card positions hold the hidden prizes.
//
// A layout is a set of positions in [0, totalCards). It only leaves this
// package in its encoded form (see Encode) so that read paths can carry it
// around without ever exposing it to clients.
package layout

import (
	crand "crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

var ErrInvalidConfiguration = errors.New("prize count must be at least 1 and less than total cards")

// Shuffler produces initial layouts and reshuffles them. It is safe for
// concurrent use.
type Shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffler returns a Shuffler driven by a deterministic source. Tests use
// this to get reproducible reshuffles.
func NewShuffler(seed int64) *Shuffler {
	return &Shuffler{rng: rand.New(rand.NewSource(seed))}
}

// NewRandomShuffler returns a Shuffler seeded from crypto/rand.
func NewRandomShuffler() *Shuffler {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("layout: reading random seed: %v", err))
	}
	return NewShuffler(int64(binary.LittleEndian.Uint64(b[:])))
}

// Initial chooses prizeCount distinct positions out of totalCards. With a
// seed the result is a pure function of (totalCards, prizeCount, seed).
func (s *Shuffler) Initial(totalCards, prizeCount int, seed *Seed) ([]int, error) {
	if prizeCount < 1 || prizeCount >= totalCards {
		return nil, ErrInvalidConfiguration
	}

	positions := make([]int, totalCards)
	for i := range positions {
		positions[i] = i
	}

	if seed != nil {
		rng := newXorshift32(seed.Value())
		for i := len(positions) - 1; i > 0; i-- {
			j := int(rng.Float64() * float64(i+1))
			positions[i], positions[j] = positions[j], positions[i]
		}
	} else {
		s.shuffle(positions)
	}

	out := make([]int, prizeCount)
	copy(out, positions[:prizeCount])
	return out, nil
}

// Reshuffle redistributes the current prizes over the positions that have
// not been revealed yet. The prize count is preserved and revealed positions
// never receive a prize.
func (s *Shuffler) Reshuffle(current []int, totalCards int, revealed map[int]bool) []int {
	pool := make([]int, 0, totalCards)
	for i := 0; i < totalCards; i++ {
		if !revealed[i] {
			pool = append(pool, i)
		}
	}

	s.shuffle(pool)

	n := len(current)
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]int, n)
	copy(out, pool[:n])
	sort.Ints(out)
	return out
}

// Fisher-Yates over the shared source.
func (s *Shuffler) shuffle(xs []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(xs) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// Membership expands a layout into one prize flag per card position.
func Membership(positions []int, totalCards int) []bool {
	flags := make([]bool, totalCards)
	for _, p := range positions {
		if p >= 0 && p < totalCards {
			flags[p] = true
		}
	}
	return flags
}

// Encode serializes a layout into the opaque blob kept on the game record.
func Encode(positions []int) (string, error) {
	data, err := json.Marshal(positions)
	if err != nil {
		return "", fmt.Errorf("failed to encode layout: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode.
func Decode(blob string) ([]int, error) {
	if blob == "" {
		return nil, errors.New("layout is empty")
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}
	var positions []int
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}
	return positions, nil
}
