package ws

import (
	"context"
	"time"

	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	log "github.com/sirupsen/logrus"
)

const (
	msgScenarioFailed = "could not prepare the next scenario, press ready to try again"
	msgJudgeFailed    = "the judge is unavailable right now, press ready to try again"
)

// Phase drivers. Each one is started either by the player action that
// completed a phase or by that phase's timer, and passes on the sequence
// number it was armed with so the loser of that race is a no-op.

func (s *Ws) startCountdown(r *room.Room) {
	seq, err := s.engine.StartCountdown(r)
	if err != nil {
		s.dropped(r, "start countdown", err)
		return
	}

	total, tick := s.engine.CountdownDuration(), s.engine.Config().Tick
	s.broadcast(r, comm.EventCountdown, comm.Countdown{Seconds: s.engine.Config().CountdownSeconds})
	r.ArmTimer(seq, total, tick, func(left time.Duration) {
		// one count per tick, which is a second outside of tests
		s.broadcast(r, comm.EventCountdown, comm.Countdown{Seconds: int((left + tick - 1) / tick)})
	}, func() {
		s.beginRound(r, seq)
	})
}

func (s *Ws) beginRound(r *room.Room, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.judgeTimeout)
	defer cancel()

	rs, err := s.engine.BeginRound(ctx, r, seq)
	if err != nil {
		s.failed(r, "begin round", err, msgScenarioFailed)
		return
	}

	s.broadcast(r, comm.EventScenario, comm.ScenarioStart{
		Scenario:  rs.Scenario,
		Round:     rs.Round,
		TimeLimit: seconds(rs.TimeLimit),
	})
	s.armPhase(r, rs.Seq, rs.TimeLimit, models.PhaseChoosingMove, func() {
		s.choosingTimeout(r, rs.Seq)
	})
}

func (s *Ws) startWriting(r *room.Room, seq uint64) {
	pc, err := s.engine.StartWriting(r, seq)
	if err != nil {
		s.dropped(r, "start writing", err)
		return
	}
	s.openWriting(r, pc, nil)
}

func (s *Ws) choosingTimeout(r *room.Room, seq uint64) {
	res, err := s.engine.ChoosingTimeout(r, seq)
	if err != nil {
		s.dropped(r, "choosing timeout", err)
		return
	}
	s.openWriting(r, &res.PhaseChange, res.Defaulted)
}

func (s *Ws) openWriting(r *room.Room, pc *engine.PhaseChange, defaulted []string) {
	s.broadcast(r, comm.EventPhaseWriting, comm.PhaseWriting{
		TimeLimit: seconds(pc.TimeLimit),
		Defaulted: defaulted,
	})
	s.armPhase(r, pc.Seq, pc.TimeLimit, models.PhaseWritingReason, func() {
		s.judge(r, pc.Seq)
	})
}

// judge closes the writing phase, announces it and scores the round.
func (s *Ws) judge(r *room.Room, writingSeq uint64) {
	seq, err := s.engine.BeginJudging(r, writingSeq)
	if err != nil {
		s.dropped(r, "begin judging", err)
		return
	}
	s.broadcast(r, comm.EventAIJudging, nil)
	s.scoreRound(r, seq)
}

func (s *Ws) scoreRound(r *room.Room, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.judgeTimeout)
	defer cancel()

	res, err := s.engine.JudgeRound(ctx, r, seq)
	if err != nil {
		s.failed(r, "judge round", err, msgJudgeFailed)
		return
	}

	hostID, guestID, ok := seats(r)
	if !ok {
		return
	}

	nextIn := seconds(res.TimeLimit)
	s.sendToPlayer(r, hostID, comm.EventRoundResults, roundResultsFor(res, true, nextIn))
	s.sendToPlayer(r, guestID, comm.EventRoundResults, roundResultsFor(res, false, nextIn))

	r.ArmTimer(res.Seq, res.TimeLimit, 0, nil, func() {
		s.advance(r, res.Seq)
	})
}

// advance ends the match or starts the next round once results were shown.
func (s *Ws) advance(r *room.Room, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*storeTimeout)
	defer cancel()

	out, err := s.engine.Advance(ctx, r, seq)
	if err != nil {
		s.dropped(r, "advance", err)
		return
	}
	if out == nil {
		s.beginRound(r, seq)
		return
	}

	hostID, guestID, ok := seats(r)
	if !ok {
		return
	}

	s.sendToPlayer(r, hostID, comm.EventGameOver, gameOverFor(out, hostID, guestID))
	s.sendToPlayer(r, guestID, comm.EventGameOver, gameOverFor(out, guestID, hostID))

	s.events.PublishGameOver(r.ID, out)
	s.rooms.Remove(r, models.RoomStatusFinished, "game over")
}

// seats returns both player ids, false once the guest left.
func seats(r *room.Room) (hostID, guestID string, ok bool) {
	r.Lock()
	defer r.Unlock()
	if r.Guest == nil {
		return "", "", false
	}
	return r.Host.UserID, r.Guest.UserID, true
}

func (s *Ws) armPhase(r *room.Room, seq uint64, limit time.Duration, phase models.Phase, onExpire func()) {
	r.ArmTimer(seq, limit, s.engine.Config().Tick, func(left time.Duration) {
		s.broadcast(r, comm.EventTimer, comm.Timer{Phase: phase, TimeLeft: seconds(left)})
	}, onExpire)
}

// retry repeats the judge call a room is stalled on.
func (s *Ws) retry(r *room.Room, phase models.Phase, seq uint64) {
	switch phase {
	case models.PhaseScenarioGen:
		s.beginRound(r, seq)
	case models.PhaseAIJudging:
		s.broadcast(r, comm.EventAIJudging, nil)
		s.scoreRound(r, seq)
	}
}

// failed reports a judge failure to both players. The room keeps its phase
// and resumes through retry.
func (s *Ws) failed(r *room.Room, step string, err error, message string) {
	if lostRace(err) {
		s.dropped(r, step, err)
		return
	}
	log.WithFields(log.Fields{"room": r.ID, "step": step}).Errorf("Error [Ws.%s] %s", step, err)
	s.broadcast(r, comm.EventError, comm.Error{Message: message})
}

func (s *Ws) dropped(r *room.Room, step string, err error) {
	log.WithFields(log.Fields{"room": r.ID, "step": step}).Debugf("trigger dropped: %s", err)
}

// RetryRoom retries the stalled judge call of roomID, if any.
func (s *Ws) RetryRoom(roomID string) bool {
	r := s.rooms.Get(roomID)
	if r == nil {
		return false
	}
	phase, seq, stalled := s.engine.Stalled(r)
	if !stalled {
		return false
	}
	go s.retry(r, phase, seq)
	return true
}

// CloseRoom removes roomID and notifies its players.
func (s *Ws) CloseRoom(roomID, reason string) bool {
	r := s.rooms.Get(roomID)
	if r == nil {
		return false
	}
	s.rooms.Remove(r, models.RoomStatusAbandoned, reason)
	return true
}

// roomRemoved runs after the manager dropped r, whatever the cause.
func (s *Ws) roomRemoved(r *room.Room, reason string) {
	ids := sockets(r, "")
	s.sendToSockets(ids, comm.EventRoomClosed, comm.RoomClosed{Reason: reason})
	for _, id := range ids {
		if c := s.client(id); c != nil {
			c.leaveRoom(r.ID)
		}
	}
	s.events.PublishRoomClosed(r.ID, reason)
}
