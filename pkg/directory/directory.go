// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package directory provides read-only access to the user directory that
// owns trust scores, score history, achievements and the raw behavioural
// inputs the certificate engine derives sub-scores from.
package directory

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=directory.go Provider

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Provider looks up trust profiles.
type Provider interface {
	// TrustProfile returns the profile of userID. Unknown users yield an
	// error matching errors.ErrNotFound.
	TrustProfile(ctx context.Context, userID string) (*TrustProfile, error)
}

// TrustProfile is everything the directory knows about a user's reputation.
type TrustProfile struct {
	UserID       string         `json:"user_id" yaml:"user_id"`
	Score        float64        `json:"score" yaml:"score"`
	Percentile   float64        `json:"percentile" yaml:"percentile"`
	History      []ScoreSample  `json:"history,omitempty" yaml:"history,omitempty"`
	Achievements []Achievement  `json:"achievements,omitempty" yaml:"achievements,omitempty"`
	Behavior     BehaviorInputs `json:"behavior" yaml:"behavior"`
}

// ScoreSample is one historical trust score observation.
type ScoreSample struct {
	Score      float64   `json:"score" yaml:"score"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Achievement is a recognition awarded to the user.
type Achievement struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	AwardedAt time.Time `json:"awarded_at" yaml:"awarded_at"`
}

// BehaviorInputs are raw counters and flags describing the user's activity.
type BehaviorInputs struct {
	InteractionTimestamps []time.Time `json:"interaction_timestamps,omitempty" yaml:"interaction_timestamps,omitempty"`

	HighRatings    int  `json:"high_ratings" yaml:"high_ratings"`
	HelpfulVotes   int  `json:"helpful_votes" yaml:"helpful_votes"`
	FastResponses  int  `json:"fast_responses" yaml:"fast_responses"`
	FollowUps      int  `json:"follow_ups" yaml:"follow_ups"`
	LowRatings     int  `json:"low_ratings" yaml:"low_ratings"`
	Reports        int  `json:"reports" yaml:"reports"`
	SlowResponses  int  `json:"slow_responses" yaml:"slow_responses"`
	Remixes        int  `json:"remixes" yaml:"remixes"`
	CommunityHelp  int  `json:"community_help" yaml:"community_help"`
	Mentorships    int  `json:"mentorships" yaml:"mentorships"`
	FeedbackGiven  int  `json:"feedback_given" yaml:"feedback_given"`
	OriginalWorks  int  `json:"original_works" yaml:"original_works"`
	NovelFeatures  int  `json:"novel_features" yaml:"novel_features"`
	Awards         int  `json:"awards" yaml:"awards"`
	LinkedAccounts int  `json:"linked_accounts" yaml:"linked_accounts"`
	IsModerator    bool `json:"is_moderator" yaml:"is_moderator"`
	IsExpert       bool `json:"is_expert" yaml:"is_expert"`
	Featured       bool `json:"featured" yaml:"featured"`
	PaymentIssues  bool `json:"payment_issues" yaml:"payment_issues"`
	EmailVerified  bool `json:"email_verified" yaml:"email_verified"`
	PhoneVerified  bool `json:"phone_verified" yaml:"phone_verified"`

	// AdoptionRate is the share (0..1) of the user's work adopted by others.
	AdoptionRate float64 `json:"adoption_rate" yaml:"adoption_rate"`
	// Complexity is an average complexity rating of the user's work.
	Complexity float64 `json:"complexity" yaml:"complexity"`

	AccountCreatedAt time.Time `json:"account_created_at" yaml:"account_created_at"`
}

// Validate rejects profiles whose numeric fields cannot be scored: every
// float must be finite and scores and percentiles must lie in 0-100.
func (p *TrustProfile) Validate() error {
	if err := checkPercent("score", p.Score); err != nil {
		return err
	}
	if err := checkPercent("percentile", p.Percentile); err != nil {
		return err
	}
	for i, sample := range p.History {
		if err := checkPercent(fmt.Sprintf("history[%d].score", i), sample.Score); err != nil {
			return err
		}
	}
	if err := checkFinite("behavior.adoption_rate", p.Behavior.AdoptionRate); err != nil {
		return err
	}
	return checkFinite("behavior.complexity", p.Behavior.Complexity)
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not a finite number", field)
	}
	return nil
}

func checkPercent(field string, v float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("%s %.2f outside 0-100", field, v)
	}
	return nil
}
