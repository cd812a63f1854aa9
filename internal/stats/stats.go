// Package stats turns raw yes/no counts into the percentages shown next to a
// question.
package stats

import (
	"math"
	"strconv"
)

const (
	controversialLow  = 40.0
	controversialHigh = 60.0
)

type VoteStats struct {
	YesPercentage   float64 `json:"yesPercentage"`
	NoPercentage    float64 `json:"noPercentage"`
	TotalVotes      int     `json:"totalVotes"`
	IsControversial bool    `json:"isControversial"`
}

// Compute derives VoteStats from the two counts. Both percentages are
// rounded to one decimal on their own, so they may not add up to exactly 100.
// IsControversial is decided on the unrounded yes share.
// Negative counts are a caller bug.
func Compute(yes, no int) VoteStats {
	total := yes + no
	if total == 0 {
		return VoteStats{}
	}

	raw := float64(yes) / float64(total) * 100

	return VoteStats{
		YesPercentage: round1(raw),
		NoPercentage:  round1(float64(no) / float64(total) * 100),
		TotalVotes:    total,
		IsControversial: raw >= controversialLow && raw <= controversialHigh,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatCount renders a vote count compactly: 999, 1.2K, 3.4M.
func FormatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(float64(n)/1_000, 'f', 1, 64) + "K"
	default:
		return strconv.Itoa(n)
	}
}
