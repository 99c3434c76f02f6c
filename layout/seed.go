package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode"
	"unicode/utf16"
)

const defaultSeed uint32 = 123456789

// Seed makes Initial deterministic. It accepts either a number or a string.
type Seed struct {
	value uint32
	raw   string
}

// NumericSeed builds a seed from a number. Values wrap modulo 2^32.
func NumericSeed(n int64) *Seed {
	return &Seed{value: normalize(uint32(n)), raw: strconv.FormatInt(n, 10)}
}

// StringSeed folds a string into a seed. Each character contributes its
// first UTF-16 code unit; the sum is kept as a float64 and only reduced
// modulo 2^32 at the end, so long strings overflow to the default seed.
func StringSeed(s string) *Seed {
	var acc float64
	for _, r := range s {
		unit := r
		if r1, _ := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
			unit = r1
		}
		acc = float64(acc*31) + float64(unit)
	}
	return &Seed{value: normalize(toUint32(acc)), raw: s}
}

func toUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(f), 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m)
}

func normalize(v uint32) uint32 {
	if v == 0 {
		return defaultSeed
	}
	return v
}

// Value is the xorshift32 starting state.
func (s *Seed) Value() uint32 {
	return s.value
}

func (s *Seed) String() string {
	return s.raw
}

func (s *Seed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty seed")
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = *StringSeed(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("seed must be a number or a string: %w", err)
	}
	n, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid numeric seed %s", num)
		}
		n = int64(f)
	}
	*s = *NumericSeed(n)
	return nil
}

// xorshift32 is the seeded generator used for reproducible layouts.
type xorshift32 struct {
	state uint32
}

func newXorshift32(seed uint32) *xorshift32 {
	return &xorshift32{state: normalize(seed)}
}

func (x *xorshift32) next() uint32 {
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

// Float64 returns a value in [0, 1).
func (x *xorshift32) Float64() float64 {
	return float64(x.next()) / 4294967296.0
}
