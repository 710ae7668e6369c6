package voting

import "github.com/mcdev12/planningpoker/go/internal/models"

// Classify turns the revealed voters into a verdict. Voters are expected in
// tenure order; ties between extreme voters go to the earlier joiner.
func Classify(voters []models.Voter) models.Outcome {
	out := models.Outcome{
		Classification: models.ClassificationInconclusive,
		VoterCount:     len(voters),
		Stats:          ComputeStats(voters),
	}
	if len(voters) <= 1 {
		return out
	}

	numeric, special := partition(voters)

	if len(numeric) == 0 && sameSpecial(special) {
		token, _ := special[0].Vote.Special()
		out.Classification = models.ClassificationUnanimousEscalation
		out.Token = token
		return out
	}

	if len(special) == 0 && sameNumber(numeric) {
		v := numeric[0].Vote
		out.Classification = models.ClassificationUnanimousAgreement
		out.Value = &v
		return out
	}

	lowest, highest := extremes(numeric, special)
	out.Classification = models.ClassificationDivergent
	out.Lowest = &lowest
	out.Highest = &highest
	out.Significant = significant(lowest, highest, len(special) > 0)
	return out
}

func partition(voters []models.Voter) (numeric, special []models.Voter) {
	for _, v := range voters {
		switch v.Vote.Kind() {
		case models.VoteKindNumeric:
			numeric = append(numeric, v)
		case models.VoteKindSpecial:
			special = append(special, v)
		}
	}
	return numeric, special
}

func sameSpecial(special []models.Voter) bool {
	if len(special) == 0 {
		return false
	}
	for _, v := range special[1:] {
		if !v.Vote.Equal(special[0].Vote) {
			return false
		}
	}
	return true
}

func sameNumber(numeric []models.Voter) bool {
	if len(numeric) == 0 {
		return false
	}
	for _, v := range numeric[1:] {
		if !v.Vote.Equal(numeric[0].Vote) {
			return false
		}
	}
	return true
}

// extremes picks the lowest and highest voters. Any special vote outranks
// every number and is always reported as the highest.
func extremes(numeric, special []models.Voter) (lowest, highest models.Voter) {
	lowest = models.PlaceholderVoter()
	if len(numeric) > 0 {
		lowest = numeric[0]
		highest = numeric[0]
		for _, v := range numeric[1:] {
			n, _ := v.Vote.Number()
			if lo, _ := lowest.Vote.Number(); n < lo {
				lowest = v
			}
			if hi, _ := highest.Vote.Number(); n > hi {
				highest = v
			}
		}
	}

	if len(special) > 0 {
		highest = special[0]
		for _, v := range special[1:] {
			s, _ := v.Vote.Special()
			if cur, _ := highest.Vote.Special(); s.Rank() > cur.Rank() {
				highest = v
			}
		}
	}
	return lowest, highest
}

// significant flags spreads worth a warning rather than a cosmetic difference.
func significant(lowest, highest models.Voter, hasSpecial bool) bool {
	if hasSpecial {
		return true
	}
	lo, _ := lowest.Vote.Number()
	hi, _ := highest.Vote.Number()
	if lo > 0 && hi/lo >= 2 {
		return true
	}
	return hi-lo >= 5
}
