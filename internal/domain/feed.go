package domain

import (
	"context"
	"time"
)

// PredictionFeed supplies prediction records whose game start time falls in
// [from, to).
type PredictionFeed interface {
	Predictions(ctx context.Context, from, to time.Time) ([]PredictionRecord, error)
}

// ExecutionRequest is what the placement path hands to the execution venue
// after the wager is committed.
type ExecutionRequest struct {
	WagerID    string
	AccountID  string
	Type       WagerType
	StakeCents int64
	Price      float64
	Selections []string
}

// ExecutionAck acknowledges receipt of an ExecutionRequest.
type ExecutionAck struct {
	ExecutionID string
	AcceptedAt  time.Time
}

// ExecutionVenue submits committed wagers. Submission is fire-and-forget:
// an ack means the venue accepted the request, not that it filled.
type ExecutionVenue interface {
	Submit(ctx context.Context, req ExecutionRequest) (ExecutionAck, error)
}

// GameResult is a final score used to grade wagers.
type GameResult struct {
	Sport     string    `json:"sport"`
	GameID    string    `json:"game_id"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	Final     bool      `json:"final"`
	Cancelled bool      `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResultSource supplies final results for games.
type ResultSource interface {
	Results(ctx context.Context) (map[string]GameResult, error)
}
