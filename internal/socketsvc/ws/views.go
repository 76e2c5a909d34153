package ws

import (
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
)

// Snapshot renders r for REST responses.
func (s *Ws) Snapshot(r *room.Room) comm.RoomView {
	r.Lock()
	defer r.Unlock()
	return s.roomView(r)
}

// The builders below read room fields and must be called with the room lock held.

func playerView(p *room.Player, host bool) comm.PlayerView {
	return comm.PlayerView{
		UserID:    p.UserID,
		Name:      p.Name,
		Connected: p.Connected,
		Ready:     p.Ready,
		IsHost:    host,
	}
}

func (s *Ws) roomView(r *room.Room) comm.RoomView {
	v := comm.RoomView{
		ID:        r.ID,
		Code:      r.Code,
		Phase:     r.Phase,
		Round:     r.Round,
		MaxRounds: s.engine.Config().MaxRounds,
		Host:      playerView(r.Host, true),
		RoundWins: map[string]int{r.Host.UserID: r.HostWins},
		ExpiresAt: r.ExpiresAt,
	}
	if r.Guest != nil {
		guest := playerView(r.Guest, false)
		v.Guest = &guest
		v.RoundWins[r.Guest.UserID] = r.GuestWins
	}
	return v
}

type outbound struct {
	typ     string
	payload any
}

// catchUp returns the frames a player (re)joining mid-match needs to render
// the current phase.
func (s *Ws) catchUp(r *room.Room) []outbound {
	left := seconds(r.TimeLeft(s.now()))
	scenario := outbound{comm.EventScenario, comm.ScenarioStart{Scenario: r.Scenario, Round: r.Round, TimeLimit: left}}

	switch r.Phase {
	case models.PhaseCountdown:
		return []outbound{{comm.EventCountdown, comm.Countdown{Seconds: left}}}
	case models.PhaseChoosingMove:
		return []outbound{scenario}
	case models.PhaseWritingReason:
		return []outbound{scenario, {comm.EventPhaseWriting, comm.PhaseWriting{TimeLimit: left}}}
	case models.PhaseAIJudging:
		return []outbound{{comm.EventAIJudging, nil}}
	}
	return nil
}

// roundResultsFor renders a judged round from one player's side. Player1 of
// a record is always the host.
func roundResultsFor(res *engine.RoundResult, asHost bool, nextIn int) comm.RoundResults {
	rec := res.Record
	me, opp := rec.Player1, rec.Player2
	wins := comm.Tally{You: res.HostWins, Opponent: res.GuestWins}
	if !asHost {
		me, opp = opp, me
		wins = comm.Tally{You: res.GuestWins, Opponent: res.HostWins}
	}

	winner := "tie"
	if rec.WinnerID.Valid {
		winner = rec.WinnerID.String
	}

	return comm.RoundResults{
		Round:            rec.Round,
		YourChoice:       me.Choice,
		YourReason:       me.Reason,
		YourScores:       me.Scores,
		YourTotal:        me.Scores.Total,
		YourFeedback:     me.Scores.Feedback,
		OpponentChoice:   opp.Choice,
		OpponentReason:   opp.Reason,
		OpponentScores:   opp.Scores,
		OpponentTotal:    opp.Scores.Total,
		OpponentFeedback: opp.Scores.Feedback,
		Winner:           winner,
		RoundWins:        wins,
		NextIn:           nextIn,
	}
}

func gameOverFor(out *engine.Outcome, userID, opponentID string) comm.GameOver {
	return comm.GameOver{
		Winner:     out.WinnerID,
		Won:        out.WinnerID != "" && out.WinnerID == userID,
		FinalScore: comm.Tally{You: out.FinalScore[userID], Opponent: out.FinalScore[opponentID]},
		RoundWins:  comm.Tally{You: out.RoundWins[userID], Opponent: out.RoundWins[opponentID]},
		MVPRound:   out.MVPRound,
	}
}
