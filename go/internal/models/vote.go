package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VoteKind distinguishes numeric estimates from special tokens.
type VoteKind uint8

const (
	VoteKindNumeric VoteKind = iota + 1
	VoteKindSpecial
)

// Special is a non-numeric estimate token.
type Special string

const (
	SpecialUnknown    Special = "?"
	SpecialTooComplex Special = "∞"
	SpecialCoffee     Special = "☕"
)

// specialAliases maps accepted raw tokens to their canonical special kind.
var specialAliases = map[string]Special{
	"?":           SpecialUnknown,
	"∞":           SpecialTooComplex,
	"too complex": SpecialTooComplex,
	"☕":           SpecialCoffee,
}

// specialRank orders specials among themselves when picking the highest voter.
var specialRank = map[Special]int{
	SpecialCoffee:     1,
	SpecialUnknown:    2,
	SpecialTooComplex: 3,
}

// Name returns the human readable name of the token.
func (s Special) Name() string {
	switch s {
	case SpecialUnknown:
		return "Unknown"
	case SpecialTooComplex:
		return "TooComplex"
	case SpecialCoffee:
		return "Coffee"
	default:
		return "Special"
	}
}

// Rank orders special tokens; higher means a stronger escalation signal.
func (s Special) Rank() int {
	return specialRank[s]
}

// Vote is a single participant's choice for a round. The zero value is not a
// valid vote; players without a vote carry a nil *Vote.
type Vote struct {
	kind    VoteKind
	number  float64
	special Special
}

// NumericVote builds a numeric vote. Negative, NaN and infinite values are rejected.
func NumericVote(v float64) (Vote, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Vote{}, fmt.Errorf("%w: %v is not a non-negative finite number", ErrInvalidVote, v)
	}
	return Vote{kind: VoteKindNumeric, number: v}, nil
}

// SpecialVote builds a special vote.
func SpecialVote(s Special) (Vote, error) {
	if _, ok := specialRank[s]; !ok {
		return Vote{}, fmt.Errorf("%w: unknown special token %q", ErrInvalidVote, string(s))
	}
	return Vote{kind: VoteKindSpecial, special: s}, nil
}

// ParseVote classifies a raw card token as numeric or special.
func ParseVote(raw string) (Vote, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return Vote{}, fmt.Errorf("%w: empty token", ErrInvalidVote)
	}

	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return NumericVote(n)
	}

	if s, ok := specialAliases[strings.ToLower(token)]; ok {
		return Vote{kind: VoteKindSpecial, special: s}, nil
	}

	return Vote{}, fmt.Errorf("%w: %q", ErrInvalidVote, raw)
}

// Kind reports which branch of the union the vote holds.
func (v Vote) Kind() VoteKind { return v.kind }

// IsNumeric reports whether the vote is a numeric estimate.
func (v Vote) IsNumeric() bool { return v.kind == VoteKindNumeric }

// IsSpecial reports whether the vote is a special token.
func (v Vote) IsSpecial() bool { return v.kind == VoteKindSpecial }

// Number returns the numeric value; ok is false for special votes.
func (v Vote) Number() (float64, bool) {
	return v.number, v.kind == VoteKindNumeric
}

// Special returns the special token; ok is false for numeric votes.
func (v Vote) Special() (Special, bool) {
	return v.special, v.kind == VoteKindSpecial
}

// Equal compares two votes within the same branch. Cross-branch votes are never equal.
func (v Vote) Equal(o Vote) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == VoteKindNumeric {
		return v.number == o.number
	}
	return v.special == o.special
}

// String renders the vote as its card token.
func (v Vote) String() string {
	switch v.kind {
	case VoteKindNumeric:
		return FormatNumber(v.number)
	case VoteKindSpecial:
		return string(v.special)
	default:
		return ""
	}
}

// MarshalJSON encodes the vote as its card token.
func (v Vote) MarshalJSON() ([]byte, error) {
	if v.kind == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts either a token string or a bare JSON number.
func (v *Vote) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		var n float64
		if nerr := json.Unmarshal(data, &n); nerr != nil {
			return fmt.Errorf("decode vote: %w", err)
		}
		token = strconv.FormatFloat(n, 'f', -1, 64)
	}

	parsed, err := ParseVote(token)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FormatNumber renders a numeric estimate without trailing zeros.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
