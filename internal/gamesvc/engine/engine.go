// Package engine runs the phase state machine of a room: it validates player
// actions, asks the judge for scenarios and scores, decides round and match
// winners and records them.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/judge"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	log "github.com/sirupsen/logrus"
)

// TimeoutReason stands in for the justification of a player who did not
// choose before the deadline.
const TimeoutReason = "(no choice was made in time)"

// Store receives round records, game results and usage counters.
type Store interface {
	SetStatus(ctx context.Context, roomID, status string) error
	InsertRound(ctx context.Context, r *models.RoundRecord) error
	SumPoints(ctx context.Context, roomID string, match int, userID string) (int, error)
	InsertGameResult(ctx context.Context, r *models.GameResult) error
	IncrementDailyUsage(ctx context.Context, userID string, day time.Time) error
}

type Engine struct {
	cfg     config.GameConfig
	judge   judge.Judge
	store   Store
	persist *room.Persister
	now     func() time.Time
}

func New(cfg config.GameConfig, j judge.Judge, store Store, persist *room.Persister) *Engine {
	return &Engine{
		cfg:     cfg,
		judge:   j,
		store:   store,
		persist: persist,
		now:     time.Now,
	}
}

func (e *Engine) Config() config.GameConfig {
	return e.cfg
}

// CountdownDuration is how long COUNTDOWN lasts.
func (e *Engine) CountdownDuration() time.Duration {
	return time.Duration(e.cfg.CountdownSeconds) * e.cfg.Tick
}

// transition must be called with the room lock held.
func (e *Engine) transition(r *room.Room, to models.Phase, limit time.Duration) (uint64, error) {
	if !CanTransition(r.Phase, to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrWrongPhase, r.Phase, to)
	}
	return r.SetPhase(to, e.now(), limit), nil
}

// MarkReady flags userID as ready and reports whether the countdown can
// start: both seats taken, both ready and the room still waiting.
func (e *Engine) MarkReady(r *room.Room, userID string) (bool, error) {
	r.Lock()
	defer r.Unlock()

	if r.Closed() {
		return false, ErrRoomClosed
	}
	me, _ := r.Seat(userID)
	if me == nil {
		return false, ErrNotPlayer
	}
	me.Ready = true

	return r.Phase == models.PhaseWaiting && r.Guest != nil && r.Host.Ready && r.Guest.Ready, nil
}

// StartCountdown moves a full room from WAITING to COUNTDOWN.
func (e *Engine) StartCountdown(r *room.Room) (uint64, error) {
	r.Lock()
	defer r.Unlock()

	if r.Closed() {
		return 0, ErrRoomClosed
	}
	if r.Phase != models.PhaseWaiting {
		return 0, ErrWrongPhase
	}
	if r.Guest == nil {
		return 0, ErrNoOpponent
	}

	seq, err := e.transition(r, models.PhaseCountdown, e.CountdownDuration())
	if err != nil {
		return 0, err
	}

	roomID := r.ID
	e.persist.Enqueue("room playing", func(ctx context.Context) error {
		return e.store.SetStatus(ctx, roomID, models.RoomStatusPlaying)
	})
	return seq, nil
}

// RoundStart describes a round that entered CHOOSING_MOVE.
type RoundStart struct {
	Round     int
	Scenario  *models.Scenario
	TimeLimit time.Duration
	Seq       uint64
}

// BeginRound requests the next scenario and opens the choosing phase. It is
// legal from COUNTDOWN, from ROUND_RESULTS of an unfinished match and, as a
// retry, from a SCENARIO_GEN whose previous request failed. On failure the
// room stays in SCENARIO_GEN.
func (e *Engine) BeginRound(ctx context.Context, r *room.Room, seq uint64) (*RoundStart, error) {
	r.Lock()
	if err := e.checkSeq(r, seq); err != nil {
		r.Unlock()
		return nil, err
	}

	switch r.Phase {
	case models.PhaseCountdown, models.PhaseRoundResults:
		if r.Phase == models.PhaseRoundResults && e.over(r) {
			r.Unlock()
			return nil, ErrWrongPhase
		}
		if _, err := e.transition(r, models.PhaseScenarioGen, 0); err != nil {
			r.Unlock()
			return nil, err
		}
		r.Round++
	case models.PhaseScenarioGen:
		if r.InFlight {
			r.Unlock()
			return nil, ErrBusy
		}
	default:
		r.Unlock()
		return nil, ErrWrongPhase
	}

	r.InFlight = true
	seq = r.Seq()
	round := r.Round
	roomID := r.ID
	r.Unlock()

	scenario, err := e.judge.GenerateScenario(ctx)

	r.Lock()
	defer r.Unlock()
	if r.Seq() == seq {
		r.InFlight = false
	}
	if r.Closed() || r.Seq() != seq {
		return nil, ErrStalePhase
	}
	if err != nil {
		log.WithFields(log.Fields{"room": roomID, "round": round}).Errorf("Error [Engine.BeginRound] %s", err)
		return nil, err
	}

	r.Scenario = scenario
	r.CreditedTo = ""
	for _, p := range r.Players() {
		p.ResetRound()
	}

	next, err := e.transition(r, models.PhaseChoosingMove, e.cfg.ChoosingTime)
	if err != nil {
		return nil, err
	}
	return &RoundStart{Round: round, Scenario: scenario, TimeLimit: e.cfg.ChoosingTime, Seq: next}, nil
}

// Choose records userID's pick. It reports true only to the call that made
// both players' choices complete. Choosing again overwrites.
func (e *Engine) Choose(r *room.Room, userID string, choice models.Choice) (bool, error) {
	r.Lock()
	defer r.Unlock()

	if r.Closed() {
		return false, ErrRoomClosed
	}
	if r.Phase != models.PhaseChoosingMove {
		return false, ErrWrongPhase
	}
	me, _ := r.Seat(userID)
	if me == nil {
		return false, ErrNotPlayer
	}
	if !choice.Valid() {
		return false, ErrInvalidChoice
	}

	before := bothChosen(r)
	me.Choice = choice
	return !before && bothChosen(r), nil
}

// PhaseChange is the result of a transition into a timed phase.
type PhaseChange struct {
	Phase     models.Phase
	TimeLimit time.Duration
	Seq       uint64
}

// StartWriting opens the writing phase once both players chose.
func (e *Engine) StartWriting(r *room.Room, seq uint64) (*PhaseChange, error) {
	r.Lock()
	defer r.Unlock()

	if err := e.checkSeq(r, seq); err != nil {
		return nil, err
	}
	if r.Phase != models.PhaseChoosingMove {
		return nil, ErrStalePhase
	}
	if !bothChosen(r) {
		return nil, ErrWrongPhase
	}

	next, err := e.transition(r, models.PhaseWritingReason, e.cfg.WritingTime)
	if err != nil {
		return nil, err
	}
	return &PhaseChange{Phase: models.PhaseWritingReason, TimeLimit: e.cfg.WritingTime, Seq: next}, nil
}

// TimeoutResult tells who was defaulted when the choosing phase expired.
type TimeoutResult struct {
	PhaseChange
	Defaulted []string
	// CreditedTo is the opponent awarded the round, empty when both or
	// neither player timed out.
	CreditedTo string
}

// ChoosingTimeout resolves an expired choosing phase: missing choices
// default to A with a placeholder reason, and when exactly one player
// missed, the other one wins the round. The room always moves on to writing.
func (e *Engine) ChoosingTimeout(r *room.Room, seq uint64) (*TimeoutResult, error) {
	r.Lock()
	defer r.Unlock()

	if err := e.checkSeq(r, seq); err != nil {
		return nil, err
	}
	if r.Phase != models.PhaseChoosingMove {
		return nil, ErrStalePhase
	}

	res := &TimeoutResult{}
	for _, p := range r.Players() {
		if p.Choice.Valid() {
			continue
		}
		p.Choice = models.ChoiceA
		p.Reason = TimeoutReason
		p.TimedOut = true
		res.Defaulted = append(res.Defaulted, p.UserID)
	}

	if len(res.Defaulted) == 1 {
		if _, opponent := r.Seat(res.Defaulted[0]); opponent != nil {
			r.Credit(opponent.UserID)
			r.CreditedTo = opponent.UserID
			res.CreditedTo = opponent.UserID
		}
	}

	next, err := e.transition(r, models.PhaseWritingReason, e.cfg.WritingTime)
	if err != nil {
		return nil, err
	}
	res.PhaseChange = PhaseChange{Phase: models.PhaseWritingReason, TimeLimit: e.cfg.WritingTime, Seq: next}

	log.WithFields(log.Fields{"room": r.ID, "round": r.Round, "defaulted": res.Defaulted, "credited": res.CreditedTo}).Info("choosing phase timed out")
	return res, nil
}

// SubmitReason stores userID's justification. It reports true only to the
// call that made both submissions complete. Invalid text changes nothing.
func (e *Engine) SubmitReason(r *room.Room, userID, reason string) (bool, error) {
	r.Lock()
	defer r.Unlock()

	if r.Closed() {
		return false, ErrRoomClosed
	}
	if r.Phase != models.PhaseWritingReason {
		return false, ErrWrongPhase
	}
	me, _ := r.Seat(userID)
	if me == nil {
		return false, ErrNotPlayer
	}

	trimmed := strings.TrimSpace(reason)
	n := utf8.RuneCountInString(trimmed)
	if n < e.cfg.MinReasonLength {
		return false, ErrReasonTooShort
	}
	if n > e.cfg.MaxReasonLength {
		return false, ErrReasonTooLong
	}

	before := bothSubmitted(r)
	me.Reason = trimmed
	me.Submitted = true
	return !before && bothSubmitted(r), nil
}

// RoundResult is a judged round.
type RoundResult struct {
	Record    models.RoundRecord
	HostWins  int
	GuestWins int
	GameOver  bool
	TimeLimit time.Duration
	Seq       uint64
}

// BeginJudging closes the writing phase and returns the AI_JUDGING sequence
// number JudgeRound expects. Reasons are taken as they are, empty included.
func (e *Engine) BeginJudging(r *room.Room, seq uint64) (uint64, error) {
	r.Lock()
	defer r.Unlock()

	if err := e.checkSeq(r, seq); err != nil {
		return 0, err
	}
	if r.Phase != models.PhaseWritingReason {
		return 0, ErrStalePhase
	}
	return e.transition(r, models.PhaseAIJudging, 0)
}

// JudgeRound scores the round of a room in AI_JUDGING. It is also the retry
// path after a failed call: on judge failure the room stays in AI_JUDGING
// and the error is returned.
func (e *Engine) JudgeRound(ctx context.Context, r *room.Room, seq uint64) (*RoundResult, error) {
	r.Lock()
	if err := e.checkSeq(r, seq); err != nil {
		r.Unlock()
		return nil, err
	}
	if r.Phase != models.PhaseAIJudging {
		r.Unlock()
		return nil, ErrWrongPhase
	}
	if r.InFlight {
		r.Unlock()
		return nil, ErrBusy
	}

	r.InFlight = true
	seq = r.Seq()
	scenario := r.Scenario
	p1 := judge.Submission{Choice: r.Host.Choice, Reason: r.Host.Reason}
	p2 := judge.Submission{Choice: r.Guest.Choice, Reason: r.Guest.Reason}
	roomID, match, round := r.ID, r.Match, r.Round
	r.Unlock()

	verdict, err := e.judge.JudgeReasons(ctx, scenario, p1, p2)

	r.Lock()
	defer r.Unlock()
	if r.Seq() == seq {
		r.InFlight = false
	}
	if r.Closed() || r.Seq() != seq {
		return nil, ErrStalePhase
	}
	if err != nil {
		log.WithFields(log.Fields{"room": roomID, "round": round}).Errorf("Error [Engine.JudgeRound] %s", err)
		return nil, err
	}

	host, guest := r.Host, r.Guest
	applyScores(host, verdict.Player1)
	applyScores(guest, verdict.Player2)

	// a round already given away by a choosing timeout is not credited again
	winnerID := r.CreditedTo
	if winnerID == "" {
		switch verdict.Winner {
		case judge.WinnerPlayer1:
			winnerID = host.UserID
		case judge.WinnerPlayer2:
			winnerID = guest.UserID
		}
		if winnerID != "" {
			r.Credit(winnerID)
		}
	}

	record := models.RoundRecord{
		RoomID:    roomID,
		Match:     match,
		Round:     round,
		Scenario:  *scenario,
		Player1ID: host.UserID,
		Player1:   entryOf(host),
		Player2ID: guest.UserID,
		Player2:   entryOf(guest),
		WinnerID:  sql.NullString{String: winnerID, Valid: winnerID != ""},
	}
	r.History = append(r.History, record)

	toStore := record
	e.persist.Enqueue("round record", func(ctx context.Context) error {
		return e.store.InsertRound(ctx, &toStore)
	})

	next, err := e.transition(r, models.PhaseRoundResults, e.cfg.ResultsTime)
	if err != nil {
		return nil, err
	}

	return &RoundResult{
		Record:    record,
		HostWins:  r.HostWins,
		GuestWins: r.GuestWins,
		GameOver:  e.over(r),
		TimeLimit: e.cfg.ResultsTime,
		Seq:       next,
	}, nil
}

// Stalled reports a room left in SCENARIO_GEN or AI_JUDGING by a failed
// judge call, with the sequence number a retry must use.
func (e *Engine) Stalled(r *room.Room) (models.Phase, uint64, bool) {
	r.Lock()
	defer r.Unlock()

	if r.Closed() || r.InFlight {
		return "", 0, false
	}
	switch r.Phase {
	case models.PhaseScenarioGen, models.PhaseAIJudging:
		return r.Phase, r.Seq(), true
	}
	return "", 0, false
}

// checkSeq must be called with the room lock held.
func (e *Engine) checkSeq(r *room.Room, seq uint64) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	if r.Seq() != seq {
		return ErrStalePhase
	}
	return nil
}

// over must be called with the room lock held.
func (e *Engine) over(r *room.Room) bool {
	return r.HostWins >= e.cfg.WinsToFinish ||
		r.GuestWins >= e.cfg.WinsToFinish ||
		r.Round >= e.cfg.MaxRounds
}

func bothChosen(r *room.Room) bool {
	return r.Guest != nil && r.Host.Choice.Valid() && r.Guest.Choice.Valid()
}

func bothSubmitted(r *room.Room) bool {
	return r.Guest != nil && r.Host.Submitted && r.Guest.Submitted
}

func applyScores(p *room.Player, s models.Scores) {
	p.Scores = &s
	p.RoundTotal = s.Total
	p.Points += s.Total
}

func entryOf(p *room.Player) models.RoundEntry {
	e := models.RoundEntry{Choice: p.Choice, Reason: p.Reason}
	if p.Scores != nil {
		e.Scores = *p.Scores
	}
	return e
}
