// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scoring derives the behavioural sub-scores, trend, volatility,
// risk and confidence that accompany a trust score in a certificate.
//
// All functions are pure. Every score is clamped to 0..100 and rounded to two
// decimals.
package scoring

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/stacklok/trustfed/pkg/directory"
)

// Trend is the direction of recent score movement.
type Trend string

// Trend values.
const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Level buckets volatility and risk.
type Level string

// Level values.
const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Tier is the coarse band a trust score falls into.
type Tier string

// Tier values.
const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
)

const (
	minConsistencyTimestamps = 5
	defaultConsistency       = 50.0

	minTrendSamples = 6
	trendWindow     = 5
	trendDelta      = 5.0

	lowVolatilityBelow   = 8.0
	highVolatilityAbove  = 15.0
	confidenceSampleSize = 30.0

	newAccountAge         = 30 * 24 * time.Hour
	establishedAccountAge = 365 * 24 * time.Hour
)

// Analysis is the full set of derived values for one profile.
type Analysis struct {
	Consistency        float64
	InteractionQuality float64
	Collaboration      float64
	Innovation         float64
	RiskScore          float64
	RiskLevel          Level
	Trend              Trend
	Volatility         Level
	StdDev             float64
	Confidence         float64
}

// Analyze derives every sub-score from a directory profile as of now.
func Analyze(profile *directory.TrustProfile, now time.Time) Analysis {
	history := chronologicalScores(profile.History)
	stddev, volatility := Volatility(history)
	risk, riskLevel := Risk(profile.Behavior, volatility, now)

	return Analysis{
		Consistency:        Consistency(profile.Behavior.InteractionTimestamps),
		InteractionQuality: InteractionQuality(profile.Behavior),
		Collaboration:      Collaboration(profile.Behavior),
		Innovation:         Innovation(profile.Behavior),
		RiskScore:          risk,
		RiskLevel:          riskLevel,
		Trend:              TrendOf(history),
		Volatility:         volatility,
		StdDev:             Round(stddev),
		Confidence:         Confidence(len(history)),
	}
}

// TierOf returns the tier for a score: premium from 70, standard from 50.
func TierOf(score float64) Tier {
	switch {
	case score >= 70:
		return TierPremium
	case score >= 50:
		return TierStandard
	default:
		return TierBasic
	}
}

// Consistency scores how regular the gaps between interactions are as
// 100 / (1 + variance/mean²). Fewer than five timestamps, or timestamps
// that all coincide, yield the neutral default of 50.
func Consistency(timestamps []time.Time) float64 {
	if len(timestamps) < minConsistencyTimestamps {
		return defaultConsistency
	}

	ts := slices.Clone(timestamps)
	slices.SortFunc(ts, func(a, b time.Time) int { return a.Compare(b) })

	gaps := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		gaps = append(gaps, ts[i].Sub(ts[i-1]).Seconds())
	}

	mean, variance := meanVariance(gaps)
	if mean == 0 {
		return defaultConsistency
	}
	return clampRound(100 / (1 + variance/(mean*mean)))
}

// InteractionQuality weighs positive engagement signals against penalties.
func InteractionQuality(b directory.BehaviorInputs) float64 {
	score := 2*float64(b.HighRatings) +
		float64(b.HelpfulVotes) +
		float64(b.FastResponses) +
		1.5*float64(b.FollowUps) -
		3*float64(b.LowRatings) -
		5*float64(b.Reports) -
		float64(b.SlowResponses)
	return clampRound(score)
}

// Collaboration rewards contributions to other users' work.
func Collaboration(b directory.BehaviorInputs) float64 {
	score := 3*float64(b.Remixes) +
		2*float64(b.CommunityHelp) +
		5*float64(b.Mentorships) +
		float64(b.FeedbackGiven)
	if b.IsModerator {
		score += 15
	}
	if b.IsExpert {
		score += 10
	}
	return clampRound(score)
}

// Innovation rewards original work and its adoption.
func Innovation(b directory.BehaviorInputs) float64 {
	score := 4*float64(b.OriginalWorks) +
		6*float64(b.NovelFeatures) +
		30*b.AdoptionRate +
		2*b.Complexity +
		5*float64(b.Awards)
	if b.Featured {
		score += 10
	}
	return clampRound(score)
}

// TrendOf compares the mean of the last five samples with the mean of up to
// five samples before them. At least six samples are needed.
func TrendOf(history []float64) Trend {
	if len(history) < minTrendSamples {
		return TrendStable
	}

	recent := history[len(history)-trendWindow:]
	earlier := history[max(0, len(history)-2*trendWindow) : len(history)-trendWindow]

	recentMean, _ := meanVariance(recent)
	earlierMean, _ := meanVariance(earlier)

	switch delta := recentMean - earlierMean; {
	case delta > trendDelta:
		return TrendRising
	case delta < -trendDelta:
		return TrendFalling
	default:
		return TrendStable
	}
}

// Volatility returns the population standard deviation of the history and
// its classification.
func Volatility(history []float64) (float64, Level) {
	if len(history) < 2 {
		return 0, LevelLow
	}
	_, variance := meanVariance(history)
	stddev := math.Sqrt(variance)

	switch {
	case stddev < lowVolatilityBelow:
		return stddev, LevelLow
	case stddev > highVolatilityAbove:
		return stddev, LevelHigh
	default:
		return stddev, LevelMedium
	}
}

// Risk adds risk factors and subtracts protective ones. A zero account
// creation time counts as unknown age and contributes nothing.
func Risk(b directory.BehaviorInputs, volatility Level, now time.Time) (float64, Level) {
	var score float64

	if !b.AccountCreatedAt.IsZero() {
		age := now.Sub(b.AccountCreatedAt)
		if age < newAccountAge {
			score += 25
		}
		if age > establishedAccountAge {
			score -= 15
		}
	}
	score += 10 * float64(b.Reports)
	if b.PaymentIssues {
		score += 20
	}
	if volatility == LevelHigh {
		score += 15
	}
	if b.EmailVerified {
		score -= 10
	}
	if b.PhoneVerified {
		score -= 10
	}
	if b.LinkedAccounts >= 2 {
		score -= 10
	}

	score = clampRound(score)
	switch {
	case score < 30:
		return score, LevelLow
	case score < 60:
		return score, LevelMedium
	default:
		return score, LevelHigh
	}
}

// Confidence grows linearly with the number of history samples and saturates
// at thirty.
func Confidence(samples int) float64 {
	return Round(math.Min(1, float64(samples)/confidenceSampleSize))
}

// Round rounds to two decimals.
func Round(x float64) float64 {
	return math.Round(x*100) / 100
}

func clampRound(x float64) float64 {
	return Round(math.Max(0, math.Min(100, x)))
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, variance
}

func chronologicalScores(samples []directory.ScoreSample) []float64 {
	sorted := slices.Clone(samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordedAt.Before(sorted[j].RecordedAt) })
	out := make([]float64, len(sorted))
	for i, s := range sorted {
		out[i] = s.Score
	}
	return out
}
