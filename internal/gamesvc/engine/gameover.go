package engine

import (
	"context"
	"errors"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	log "github.com/sirupsen/logrus"
)

// Outcome is the final result of a match.
type Outcome struct {
	// WinnerID is empty on a draw.
	WinnerID   string
	FinalScore map[string]int
	RoundWins  map[string]int
	MVPRound   int
	Results    []models.GameResult
}

type finalSeat struct {
	userID     string
	opponentID string
	wins       int
	points     int
}

// Advance ends the match when a player reached the required round wins or
// the last round was played, and returns its outcome. Otherwise it returns
// nil and the caller starts the next round with the same seq.
func (e *Engine) Advance(ctx context.Context, r *room.Room, seq uint64) (*Outcome, error) {
	r.Lock()
	if err := e.checkSeq(r, seq); err != nil {
		r.Unlock()
		return nil, err
	}
	if r.Phase != models.PhaseRoundResults {
		r.Unlock()
		return nil, ErrStalePhase
	}
	if !e.over(r) {
		r.Unlock()
		return nil, nil
	}
	if _, err := e.transition(r, models.PhaseGameOver, 0); err != nil {
		r.Unlock()
		return nil, err
	}

	roomID, match := r.ID, r.Match
	rounds := r.Round
	seats := []finalSeat{
		{userID: r.Host.UserID, opponentID: r.Guest.UserID, wins: r.HostWins, points: r.Host.Points},
		{userID: r.Guest.UserID, opponentID: r.Host.UserID, wins: r.GuestWins, points: r.Guest.Points},
	}
	mvp := mvpRound(r.History)
	r.Unlock()

	out := &Outcome{
		FinalScore: make(map[string]int, 2),
		RoundWins:  make(map[string]int, 2),
		MVPRound:   mvp,
	}
	switch {
	case seats[0].wins > seats[1].wins:
		out.WinnerID = seats[0].userID
	case seats[1].wins > seats[0].wins:
		out.WinnerID = seats[1].userID
	}

	// points come from the durable rounds, written ahead of this job
	durable := make([]int, len(seats))
	err := e.persist.Sync(ctx, "game results", func(ctx context.Context) error {
		var errs []error
		results := make([]models.GameResult, len(seats))
		for i, s := range seats {
			points, err := e.store.SumPoints(ctx, roomID, match, s.userID)
			if err != nil {
				errs = append(errs, err)
				points = s.points
			}
			durable[i] = points
			results[i] = models.GameResult{
				RoomID:       roomID,
				Match:        match,
				UserID:       s.userID,
				OpponentID:   s.opponentID,
				Points:       points,
				RoundsWon:    s.wins,
				RoundsPlayed: rounds,
				Won:          s.userID == out.WinnerID,
			}
		}
		day := ratelimit.Day(e.now())
		for i := range results {
			if err := e.store.InsertGameResult(ctx, &results[i]); err != nil {
				errs = append(errs, err)
			}
			if err := e.store.IncrementDailyUsage(ctx, results[i].UserID, day); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		log.WithField("room", roomID).Warnf("Error [Engine.Advance] game results: %s", err)
	}

	// durable is only complete when Sync did not give up on ctx
	settled := ctx.Err() == nil
	for i, s := range seats {
		points := s.points
		if settled {
			points = durable[i]
		}
		out.FinalScore[s.userID] = points
		out.RoundWins[s.userID] = s.wins
		out.Results = append(out.Results, models.GameResult{
			RoomID:       roomID,
			Match:        match,
			UserID:       s.userID,
			OpponentID:   s.opponentID,
			Points:       points,
			RoundsWon:    s.wins,
			RoundsPlayed: rounds,
			Won:          s.userID == out.WinnerID,
		})
	}

	log.WithFields(log.Fields{"room": roomID, "winner": out.WinnerID, "rounds": rounds}).Info("game over")
	return out, nil
}

// mvpRound is the round holding the highest single player total, earliest
// first on ties. Zero when no round was judged.
func mvpRound(history []models.RoundRecord) int {
	best, round := -1, 0
	for _, rec := range history {
		for _, total := range []int{rec.Player1.Scores.Total, rec.Player2.Scores.Total} {
			if total > best {
				best, round = total, rec.Round
			}
		}
	}
	return round
}
