package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("not a player of this match")
)

// Records is the read side of the durable store.
type Records interface {
	ListResultsByUser(ctx context.Context, userID string, limit int) ([]models.GameResult, error)
	ListRounds(ctx context.Context, roomID string) ([]models.RoundRecord, error)
}

type HistoryService struct {
	records Records
}

func NewHistoryService(records Records) *HistoryService {
	return &HistoryService{records: records}
}

// Summary aggregates the results returned by Recent.
type Summary struct {
	Played int `json:"played"`
	Won    int `json:"won"`
	Points int `json:"points"`
}

type History struct {
	Summary Summary             `json:"summary"`
	Games   []models.GameResult `json:"games"`
}

// Recent returns a player's latest finished matches. limit is clamped to
// [1, MaxHistoryLimit]; zero means DefaultHistoryLimit.
func (s *HistoryService) Recent(ctx context.Context, userID string, limit int) (*History, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	games, err := s.records.ListResultsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", userID, err)
	}

	h := &History{Games: games}
	if h.Games == nil {
		h.Games = []models.GameResult{}
	}
	for _, g := range games {
		h.Summary.Played++
		h.Summary.Points += g.Points
		if g.Won {
			h.Summary.Won++
		}
	}
	return h, nil
}

// Match returns the judged rounds of one match of a room. Only its two
// players may read them. A zero match picks the latest match of the room
// userID played in.
func (s *HistoryService) Match(ctx context.Context, roomID string, match int, userID string) ([]models.RoundRecord, error) {
	all, err := s.records.ListRounds(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("rounds of %s: %w", roomID, err)
	}
	if len(all) == 0 {
		return nil, ErrMatchNotFound
	}

	if match == 0 {
		for _, r := range all {
			if playedIn(r, userID) && r.Match > match {
				match = r.Match
			}
		}
		if match == 0 {
			return nil, ErrNotParticipant
		}
	}

	var rounds []models.RoundRecord
	for _, r := range all {
		if r.Match == match {
			rounds = append(rounds, r)
		}
	}
	if len(rounds) == 0 {
		return nil, ErrMatchNotFound
	}
	if !playedIn(rounds[0], userID) {
		return nil, ErrNotParticipant
	}
	return rounds, nil
}

func playedIn(r models.RoundRecord, userID string) bool {
	return r.Player1ID == userID || r.Player2ID == userID
}
