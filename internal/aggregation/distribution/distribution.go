// Package distribution summarises a multiset of canonical field values into
// counts, integer percentages and a mode.
package distribution

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyDistribution is returned when a field has no observations.
var ErrEmptyDistribution = errors.New("distribution: no values to summarise")

// Value is one bucket of a distribution.
type Value struct {
	Value      string `json:"value"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Data is the summary of one structured field.
//
// Values are ordered by descending count with ties kept in first-seen order,
// Mode is Values[0].Value and the percentages always add up to exactly 100.
type Data struct {
	Mode         string  `json:"mode"`
	Values       []Value `json:"values"`
	TotalReports int     `json:"totalReports"`
}

// Build counts values by exact string equality.
func Build(values []string) (Data, error) {
	if len(values) == 0 {
		return Data{}, ErrEmptyDistribution
	}

	index := make(map[string]int, len(values))
	buckets := make([]Value, 0, len(values))
	for _, v := range values {
		if i, ok := index[v]; ok {
			buckets[i].Count++
			continue
		}
		index[v] = len(buckets)
		buckets = append(buckets, Value{Value: v, Count: 1})
	}

	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Count > buckets[j].Count
	})

	total := len(values)
	sum := 0
	for i := range buckets {
		buckets[i].Percentage = roundPercent(buckets[i].Count, total)
		sum += buckets[i].Percentage
	}
	applyResidual(buckets, 100-sum)

	return Data{
		Mode:         buckets[0].Value,
		Values:       buckets,
		TotalReports: total,
	}, nil
}

func roundPercent(count, total int) int {
	return int(math.Round(100 * float64(count) / float64(total)))
}

// applyResidual corrects rounding drift. The whole residual lands on the
// largest bucket (index 0) unless that would push it below zero, which only
// happens with very many half-rounded singleton buckets.
func applyResidual(buckets []Value, residual int) {
	if residual == 0 {
		return
	}
	if buckets[0].Percentage+residual >= 0 {
		buckets[0].Percentage += residual
		return
	}
	for i := 0; residual < 0; i = (i + 1) % len(buckets) {
		if buckets[i].Percentage > 0 {
			buckets[i].Percentage--
			residual++
		}
	}
}
