// Package judge generates round scenarios and scores players' written
// justifications, either through a language model or an offline heuristic.
package judge

import (
	"context"
	"errors"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrMalformedOutput marks a model reply that did not match the JSON contract.
	ErrMalformedOutput = errors.New("malformed model output")
	ErrUnavailable     = errors.New("ai judge unavailable")
)

type Winner string

const (
	WinnerPlayer1 Winner = "player1"
	WinnerPlayer2 Winner = "player2"
	WinnerTie     Winner = "tie"
)

type Submission struct {
	Choice models.Choice
	Reason string
}

type Verdict struct {
	Player1 models.Scores
	Player2 models.Scores
	Winner  Winner
}

type Judge interface {
	GenerateScenario(ctx context.Context) (*models.Scenario, error)
	JudgeReasons(ctx context.Context, scenario *models.Scenario, p1, p2 Submission) (*Verdict, error)
}

// Archive receives raw model exchanges. Implementations must not block long.
type Archive interface {
	Save(ctx context.Context, t *models.Transcript) error
}

// New picks the judge strategy once: the language model adapter when a
// credential is configured, the offline heuristic otherwise.
func New(cfg config.AIConfig, archive Archive) Judge {
	if !cfg.Enabled() {
		log.Info("AI judge: offline heuristic")
		return NewOfflineJudge()
	}
	log.Infof("AI judge: model %s", cfg.Model)
	return NewOpenAIJudge(cfg, archive)
}

// Categories scenarios are drawn from.
var Categories = []string{
	"ethics",
	"survival",
	"business",
	"friendship",
	"technology",
	"everyday life",
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// Finalize clamps the sub-scores and recomputes the total.
func Finalize(s models.Scores) models.Scores {
	s.Logic = clamp(s.Logic)
	s.Coherence = clamp(s.Coherence)
	s.Creativity = clamp(s.Creativity)
	s.Total = s.Logic + s.Coherence + s.Creativity
	return s
}

// DecideWinner awards the round to the strictly higher total.
func DecideWinner(p1, p2 models.Scores) Winner {
	switch {
	case p1.Total > p2.Total:
		return WinnerPlayer1
	case p2.Total > p1.Total:
		return WinnerPlayer2
	default:
		return WinnerTie
	}
}
