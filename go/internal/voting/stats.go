package voting

import (
	"math"
	"sort"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// ComputeStats derives mean, median and mode over the numeric votes only.
// With no numeric votes every statistic is left undefined.
func ComputeStats(voters []models.Voter) models.Stats {
	var values []float64
	for _, v := range voters {
		if n, ok := v.Vote.Number(); ok {
			values = append(values, n)
		}
	}

	stats := models.Stats{NumericCount: len(values)}
	if len(values) == 0 {
		return stats
	}
	sort.Float64s(values)

	var sum float64
	for _, n := range values {
		sum += n
	}
	mean := roundOneDecimal(sum / float64(len(values)))
	stats.Mean = &mean

	mid := len(values) / 2
	median := values[mid]
	if len(values)%2 == 0 {
		median = roundOneDecimal((values[mid-1] + values[mid]) / 2)
	}
	stats.Median = &median

	stats.Mode = modes(values)
	return stats
}

// modes returns every value sharing the highest frequency, ascending.
// values must be sorted.
func modes(values []float64) []float64 {
	var (
		result []float64
		best   int
	)
	for i := 0; i < len(values); {
		j := i
		for j < len(values) && values[j] == values[i] {
			j++
		}
		switch count := j - i; {
		case count > best:
			best = count
			result = []float64{values[i]}
		case count == best:
			result = append(result, values[i])
		}
		i = j
	}
	return result
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
