package comm

import (
	"encoding/json"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

// WSMessage is the envelope of every websocket frame and NATS message.
type WSMessage struct {
	Type     string          `json:"type"` // e.g. "room:join", "game:choose"
	Data     json.RawMessage `json:"data,omitempty"`
	SocketId string          `json:"socketid,omitempty"`
}

// client -> server
const (
	EventJoin   = "room:join"
	EventLeave  = "room:leave"
	EventReady  = "player:ready"
	EventChoose = "game:choose"
	EventSubmit = "game:submit_reason"
	EventPing   = "ping"
)

// server -> client
const (
	EventPlayerJoined       = "room:player_joined"
	EventPlayerLeft         = "room:player_left"
	EventPlayerDisconnected = "room:player_disconnected"
	EventRoomClosed         = "room:closed"
	EventCountdown          = "game:countdown"
	EventScenario           = "game:scenario"
	EventTimer              = "game:timer"
	EventOpponentChose      = "game:opponent_chose"
	EventPhaseWriting       = "game:phase_writing"
	EventOpponentSubmitted  = "game:opponent_submitted"
	EventAIJudging          = "game:ai_judging"
	EventRoundResults       = "game:round_results"
	EventGameOver           = "game:over"
	EventError              = "error"
	EventPong               = "pong"
)

// NewMessage wraps payload in an envelope. A nil payload becomes {}.
func NewMessage(typ string, payload any) (*WSMessage, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &WSMessage{Type: typ, Data: data}, nil
}

type JoinRequest struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Token    string `json:"token"`
}

type ChooseRequest struct {
	Choice models.Choice `json:"choice"`
}

type SubmitRequest struct {
	Reason string `json:"reason"`
}

type PlayerView struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	IsHost    bool   `json:"isHost"`
}

type RoomView struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Phase     models.Phase   `json:"phase"`
	Round     int            `json:"round"`
	MaxRounds int            `json:"maxRounds"`
	Host      PlayerView     `json:"host"`
	Guest     *PlayerView    `json:"guest,omitempty"`
	RoundWins map[string]int `json:"roundWins"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type PlayerJoined struct {
	Player PlayerView `json:"player"`
	Room   RoomView   `json:"room"`
}

type PlayerRef struct {
	UserID string `json:"userId"`
}

type Countdown struct {
	Seconds int `json:"seconds"`
}

type ScenarioStart struct {
	Scenario  *models.Scenario `json:"scenario"`
	Round     int              `json:"round"`
	TimeLimit int              `json:"timeLimit"` // seconds
}

type Timer struct {
	Phase    models.Phase `json:"phase"`
	TimeLeft int          `json:"timeLeft"` // seconds
}

// PhaseWriting lists in Defaulted the players given the placeholder choice
// when the choosing phase timed out.
type PhaseWriting struct {
	TimeLimit int      `json:"timeLimit"`
	Defaulted []string `json:"defaulted,omitempty"`
}

// Tally is a pair of counters seen from one player's side.
type Tally struct {
	You      int `json:"you"`
	Opponent int `json:"opponent"`
}

// RoundResults is personalised per recipient. Winner is the winning user
// id, or "tie".
type RoundResults struct {
	Round            int           `json:"round"`
	YourChoice       models.Choice `json:"yourChoice"`
	YourReason       string        `json:"yourReason"`
	YourScores       models.Scores `json:"yourScores"`
	YourTotal        int           `json:"yourTotal"`
	YourFeedback     string        `json:"yourFeedback"`
	OpponentChoice   models.Choice `json:"opponentChoice"`
	OpponentReason   string        `json:"opponentReason"`
	OpponentScores   models.Scores `json:"opponentScores"`
	OpponentTotal    int           `json:"opponentTotal"`
	OpponentFeedback string        `json:"opponentFeedback"`
	Winner           string        `json:"winner"`
	RoundWins        Tally         `json:"roundWins"`
	NextIn           int           `json:"nextIn"` // seconds until the next phase
}

// GameOver is personalised per recipient. Winner is empty on a draw.
type GameOver struct {
	Winner     string `json:"winner"`
	Won        bool   `json:"won"`
	FinalScore Tally  `json:"finalScore"`
	RoundWins  Tally  `json:"roundWins"`
	MVPRound   int    `json:"mvpRound"`
}

type Error struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds
}

type RoomClosed struct {
	Reason string `json:"reason"`
}

// NATS subjects shared by the services.
const (
	SubjectEvents  = "duel.events"
	SubjectControl = "duel.control"
)

// lifecycle event types on SubjectEvents
const (
	LifecycleRoomCreated  = "room-created"
	LifecycleGameOver     = "game-over"
	LifecycleRoomClosed   = "room-closed"
	LifecycleRoomsExpired = "rooms-expired"
)

// operator commands on SubjectControl
const (
	ControlRoomRetry = "room-retry"
	ControlRoomClose = "room-close"
)

type LifecycleEvent struct {
	RoomID   string         `json:"roomId,omitempty"`
	Code     string         `json:"code,omitempty"`
	Players  []string       `json:"players,omitempty"`
	WinnerID string         `json:"winnerId,omitempty"`
	Points   map[string]int `json:"points,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Count    int64          `json:"count,omitempty"`
	Instance string         `json:"instance"`
	At       time.Time      `json:"at"`
}

type ControlCommand struct {
	RoomID string `json:"roomId"`
}
