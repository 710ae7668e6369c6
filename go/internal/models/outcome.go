package models

import (
	"encoding/json"
	"strings"
)

// Classification is the verdict of a revealed round.
type Classification string

const (
	ClassificationInconclusive        Classification = "Inconclusive"
	ClassificationUnanimousAgreement  Classification = "UnanimousAgreement"
	ClassificationUnanimousEscalation Classification = "UnanimousEscalation"
	ClassificationDivergent           Classification = "Divergent"
)

// NotApplicable is shown wherever a statistic or voter does not exist.
const NotApplicable = "N/A"

// Voter pairs a player with the vote they revealed.
type Voter struct {
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name"`
	Vote     Vote   `json:"vote"`
}

// PlaceholderVoter stands in for the lowest voter when nobody voted a number.
func PlaceholderVoter() Voter {
	return Voter{Name: NotApplicable, Vote: Vote{kind: VoteKindNumeric}}
}

// Outcome is computed once per reveal and cleared on reset.
type Outcome struct {
	Classification Classification `json:"classification"`
	VoterCount     int            `json:"voter_count"`

	// Value is set for UnanimousAgreement.
	Value *Vote `json:"value,omitempty"`
	// Token is set for UnanimousEscalation.
	Token Special `json:"token,omitempty"`

	// Lowest, Highest and Significant are set for Divergent.
	Lowest      *Voter `json:"lowest,omitempty"`
	Highest     *Voter `json:"highest,omitempty"`
	Significant bool   `json:"significant"`

	Stats Stats `json:"stats"`
}

func (o Outcome) clone() Outcome {
	cp := o
	if o.Value != nil {
		v := *o.Value
		cp.Value = &v
	}
	if o.Lowest != nil {
		l := *o.Lowest
		cp.Lowest = &l
	}
	if o.Highest != nil {
		h := *o.Highest
		cp.Highest = &h
	}
	cp.Stats.Mode = append([]float64(nil), o.Stats.Mode...)
	return cp
}

// Stats summarises the numeric votes of a round. Nil fields are undefined,
// which happens when every voter chose a special token.
type Stats struct {
	NumericCount int       `json:"numeric_count"`
	Mean         *float64  `json:"mean"`
	Median       *float64  `json:"median"`
	Mode         []float64 `json:"mode"`
}

// Defined reports whether at least one numeric vote was cast.
func (s Stats) Defined() bool {
	return s.NumericCount > 0
}

// MeanText renders the mean with one decimal, or N/A.
func (s Stats) MeanText() string {
	if s.Mean == nil {
		return NotApplicable
	}
	return FormatNumber(*s.Mean)
}

// MedianText renders the median, or N/A.
func (s Stats) MedianText() string {
	if s.Median == nil {
		return NotApplicable
	}
	return FormatNumber(*s.Median)
}

// ModeText joins all tied modes, or N/A.
func (s Stats) ModeText() string {
	if len(s.Mode) == 0 {
		return NotApplicable
	}
	parts := make([]string, len(s.Mode))
	for i, m := range s.Mode {
		parts[i] = FormatNumber(m)
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON adds display strings next to the raw values.
func (s Stats) MarshalJSON() ([]byte, error) {
	type raw Stats
	return json.Marshal(struct {
		raw
		MeanText   string `json:"mean_text"`
		MedianText string `json:"median_text"`
		ModeText   string `json:"mode_text"`
	}{
		raw:        raw(s),
		MeanText:   s.MeanText(),
		MedianText: s.MedianText(),
		ModeText:   s.ModeText(),
	})
}
