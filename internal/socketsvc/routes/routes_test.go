package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/broker"
	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/judge"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	"github.com/avvvet/explain-services/internal/gamesvc/store"
	"github.com/avvvet/explain-services/internal/socketsvc/handlers"
	"github.com/avvvet/explain-services/internal/socketsvc/ws"
	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 3 * time.Second

// stubJudge serves a fixed scenario and queued totals.
type stubJudge struct {
	mu     sync.Mutex
	totals [][2]int
	err    error
}

func (j *stubJudge) GenerateScenario(ctx context.Context) (*models.Scenario, error) {
	return &models.Scenario{
		Category: "workplace",
		Text:     "Your team ships late or cuts a feature.",
		OptionA:  models.Option{Label: "A", Text: "Ship late"},
		OptionB:  models.Option{Label: "B", Text: "Cut the feature"},
	}, nil
}

func (j *stubJudge) JudgeReasons(ctx context.Context, s *models.Scenario, p1, p2 judge.Submission) (*judge.Verdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	t := [2]int{15, 15}
	if len(j.totals) > 0 {
		t, j.totals = j.totals[0], j.totals[1:]
	}
	v := &judge.Verdict{Player1: split(t[0]), Player2: split(t[1])}
	v.Winner = judge.DecideWinner(v.Player1, v.Player2)
	return v, nil
}

func (j *stubJudge) queue(p1, p2 int) {
	j.mu.Lock()
	j.totals = append(j.totals, [2]int{p1, p2})
	j.mu.Unlock()
}

func (j *stubJudge) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

func split(total int) models.Scores {
	s := models.Scores{Logic: min(total, 10), Feedback: "ok"}
	s.Coherence = min(total-s.Logic, 10)
	s.Creativity = total - s.Logic - s.Coherence
	return judge.Finalize(s)
}

type testServer struct {
	srv   *httptest.Server
	authn *auth.Authenticator
	judge *stubJudge
	store *store.Memory
	rooms *room.Manager
}

// newTestServer runs the session server on an in-memory store with short
// phases. Options adjust the config before anything is built.
func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Defaults()
	cfg.Game.Tick = 100 * time.Millisecond
	cfg.Game.CountdownSeconds = 1
	cfg.Game.ChoosingTime = 5 * time.Second
	cfg.Game.WritingTime = 5 * time.Second
	cfg.Game.ResultsTime = 50 * time.Millisecond
	cfg.AI.Timeout = time.Second
	cfg.AI.MaxRetries = 0
	for _, opt := range opts {
		opt(cfg)
	}

	mem := store.NewMemory()
	rooms := room.NewManager(cfg.Rooms, mem)
	t.Cleanup(rooms.Close)

	j := &stubJudge{}
	eng := engine.New(cfg.Game, j, mem, rooms.Persister())
	limiter := ratelimit.NewLimiter(cfg.Limits, mem, ratelimit.Counters{})
	authn := auth.New("test-secret")
	events := broker.NewBroker(nil, "test")

	s := ws.NewWs(cfg, rooms, eng, limiter, authn, events)
	h := handlers.NewHandler(s, rooms, limiter, events, nil)

	r := chi.NewRouter()
	SetRoutes(r, h, authn)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, authn: authn, judge: j, store: mem, rooms: rooms}
}

func (ts *testServer) token(t *testing.T, userID, name string, guest bool) string {
	t.Helper()
	tok, err := ts.authn.Issue(auth.Identity{UserID: userID, Name: name, Guest: guest}, time.Hour)
	require.NoError(t, err)
	return tok
}

type apiResponse struct {
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ts *testServer) post(t *testing.T, token, path string, body any) (*http.Response, apiResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (ts *testServer) createRoom(t *testing.T, token string) (roomID, code string) {
	t.Helper()
	resp, out := ts.post(t, token, "/v1/rooms", map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode, out.Message)

	var created struct {
		RoomID   string `json:"roomId"`
		RoomCode string `json:"roomCode"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &created))
	return created.RoomID, created.RoomCode
}

type player struct {
	t      *testing.T
	userID string
	conn   *websocket.Conn
}

func (ts *testServer) dial(t *testing.T, userID, name string) *player {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/ws?token=" + ts.token(t, userID, name, false)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &player{t: t, userID: userID, conn: conn}
}

func (p *player) send(typ string, payload any) {
	p.t.Helper()
	msg, err := comm.NewMessage(typ, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

// expect reads frames until one of type typ arrives, skipping timer ticks
// and other events.
func (p *player) expect(typ string) json.RawMessage {
	p.t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(p.t, p.conn.SetReadDeadline(deadline))
		var msg comm.WSMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			p.t.Fatalf("%s waiting for %s: %v", p.userID, typ, err)
		}
		if msg.Type == typ {
			return msg.Data
		}
	}
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

// seatBoth creates a room for host, joins guest over REST and binds both
// sockets to it.
func (ts *testServer) seatBoth(t *testing.T) (roomID string, host, guest *player) {
	t.Helper()
	roomID, code := ts.createRoom(t, ts.token(t, "host", "Ada", false))

	resp, out := ts.post(t, ts.token(t, "guest", "Bob", false), "/v1/rooms/join", map[string]string{"roomCode": strings.ToLower(code)})
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Message)

	host = ts.dial(t, "host", "Ada")
	host.send(comm.EventJoin, comm.JoinRequest{RoomCode: code, UserID: "host"})
	host.expect(comm.EventPlayerJoined)

	guest = ts.dial(t, "guest", "Bob")
	guest.send(comm.EventJoin, comm.JoinRequest{RoomCode: code, UserID: "guest"})
	joined := decode[comm.PlayerJoined](t, guest.expect(comm.EventPlayerJoined))
	assert.Equal(t, "guest", joined.Player.UserID)
	require.NotNil(t, joined.Room.Guest)
	host.expect(comm.EventPlayerJoined)
	return roomID, host, guest
}

// playToWriting readies both players and makes both choices.
func playToWriting(t *testing.T, host, guest *player) comm.ScenarioStart {
	t.Helper()
	host.send(comm.EventReady, nil)
	guest.send(comm.EventReady, nil)

	host.expect(comm.EventCountdown)
	sc := decode[comm.ScenarioStart](t, host.expect(comm.EventScenario))
	guest.expect(comm.EventScenario)

	host.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceA})
	guest.expect(comm.EventOpponentChose)
	guest.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceB})
	host.expect(comm.EventOpponentChose)

	host.expect(comm.EventPhaseWriting)
	guest.expect(comm.EventPhaseWriting)
	return sc
}

func submitBoth(t *testing.T, host, guest *player) {
	t.Helper()
	host.send(comm.EventSubmit, comm.SubmitRequest{Reason: "Shipping late keeps the quality promise."})
	guest.expect(comm.EventOpponentSubmitted)
	guest.send(comm.EventSubmit, comm.SubmitRequest{Reason: "A smaller release still helps users today."})
	host.expect(comm.EventOpponentSubmitted)

	host.expect(comm.EventAIJudging)
	guest.expect(comm.EventAIJudging)
}

func TestWebsocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFullMatchOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, guest := ts.seatBoth(t)

	ts.judge.queue(24, 19)
	sc := playToWriting(t, host, guest)
	assert.Equal(t, 1, sc.Round)
	require.NotNil(t, sc.Scenario)
	assert.Equal(t, 5, sc.TimeLimit)
	submitBoth(t, host, guest)

	hostRes := decode[comm.RoundResults](t, host.expect(comm.EventRoundResults))
	assert.Equal(t, "host", hostRes.Winner)
	assert.Equal(t, 24, hostRes.YourTotal)
	assert.Equal(t, 19, hostRes.OpponentTotal)
	assert.Equal(t, models.ChoiceA, hostRes.YourChoice)
	assert.Equal(t, comm.Tally{You: 1, Opponent: 0}, hostRes.RoundWins)

	guestRes := decode[comm.RoundResults](t, guest.expect(comm.EventRoundResults))
	assert.Equal(t, "host", guestRes.Winner)
	assert.Equal(t, 19, guestRes.YourTotal)
	assert.Equal(t, models.ChoiceB, guestRes.YourChoice)
	assert.Equal(t, comm.Tally{You: 0, Opponent: 1}, guestRes.RoundWins)

	// round two starts on its own after the results pause
	ts.judge.queue(22, 12)
	sc = decode[comm.ScenarioStart](t, host.expect(comm.EventScenario))
	assert.Equal(t, 2, sc.Round)
	guest.expect(comm.EventScenario)

	host.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceB})
	guest.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceA})
	host.expect(comm.EventPhaseWriting)
	guest.expect(comm.EventPhaseWriting)
	submitBoth(t, host, guest)
	host.expect(comm.EventRoundResults)

	over := decode[comm.GameOver](t, host.expect(comm.EventGameOver))
	assert.Equal(t, "host", over.Winner)
	assert.True(t, over.Won)
	assert.Equal(t, comm.Tally{You: 2, Opponent: 0}, over.RoundWins)
	assert.Equal(t, comm.Tally{You: 46, Opponent: 31}, over.FinalScore)
	assert.Equal(t, 1, over.MVPRound)

	guestOver := decode[comm.GameOver](t, guest.expect(comm.EventGameOver))
	assert.False(t, guestOver.Won)

	closed := decode[comm.RoomClosed](t, guest.expect(comm.EventRoomClosed))
	assert.Equal(t, "game over", closed.Reason)
	assert.Nil(t, ts.rooms.Get(roomID))

	ts.rooms.Persister().Wait()
	assert.Len(t, ts.store.Rounds(roomID), 2)
	assert.Len(t, ts.store.Results(roomID), 2)
	used, err := ts.store.DailyUsage(context.Background(), "guest", ratelimit.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestValidationErrorsGoToActingPlayerOnly(t *testing.T) {
	ts := newTestServer(t)
	_, host, guest := ts.seatBoth(t)

	host.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceA})
	e := decode[comm.Error](t, host.expect(comm.EventError))
	assert.Equal(t, engine.ErrWrongPhase.Error(), e.Message)

	host.send(comm.EventReady, nil)
	guest.send(comm.EventReady, nil)
	host.expect(comm.EventScenario)
	guest.expect(comm.EventScenario)

	guest.send(comm.EventChoose, comm.ChooseRequest{Choice: "C"})
	e = decode[comm.Error](t, guest.expect(comm.EventError))
	assert.Equal(t, engine.ErrInvalidChoice.Error(), e.Message)

	// the host only ever sees its opponent's valid choice
	guest.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceB})
	host.expect(comm.EventOpponentChose)
}

func TestOverlongReasonIsRejectedNotDropped(t *testing.T) {
	ts := newTestServer(t)
	_, host, guest := ts.seatBoth(t)
	playToWriting(t, host, guest)

	host.send(comm.EventSubmit, comm.SubmitRequest{Reason: strings.Repeat("x", 5000)})
	e := decode[comm.Error](t, host.expect(comm.EventError))
	assert.Equal(t, engine.ErrReasonTooLong.Error(), e.Message)

	// the socket survives and the player can still submit
	submitBoth(t, host, guest)
	host.expect(comm.EventRoundResults)
}

func TestTimersDefaultAndJudgeWithoutSubmissions(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Game.ChoosingTime = 500 * time.Millisecond
		cfg.Game.WritingTime = 500 * time.Millisecond
		cfg.Game.ResultsTime = 5 * time.Second
	})
	roomID, host, guest := ts.seatBoth(t)

	// the judge prefers the guest, but the round already went to the host
	ts.judge.queue(10, 25)
	host.send(comm.EventReady, nil)
	guest.send(comm.EventReady, nil)
	host.expect(comm.EventScenario)
	guest.expect(comm.EventScenario)

	host.send(comm.EventChoose, comm.ChooseRequest{Choice: models.ChoiceB})
	guest.expect(comm.EventOpponentChose)

	writing := decode[comm.PhaseWriting](t, host.expect(comm.EventPhaseWriting))
	assert.Equal(t, []string{"guest"}, writing.Defaulted)
	writing = decode[comm.PhaseWriting](t, guest.expect(comm.EventPhaseWriting))
	assert.Equal(t, []string{"guest"}, writing.Defaulted)

	// nobody submits, the writing timer starts judging
	host.expect(comm.EventAIJudging)
	guest.expect(comm.EventAIJudging)

	hostRes := decode[comm.RoundResults](t, host.expect(comm.EventRoundResults))
	assert.Equal(t, "host", hostRes.Winner)
	assert.Equal(t, models.ChoiceB, hostRes.YourChoice)
	assert.Equal(t, models.ChoiceA, hostRes.OpponentChoice)
	assert.Equal(t, comm.Tally{You: 1, Opponent: 0}, hostRes.RoundWins)

	guestRes := decode[comm.RoundResults](t, guest.expect(comm.EventRoundResults))
	assert.Equal(t, "host", guestRes.Winner)
	assert.Equal(t, comm.Tally{You: 0, Opponent: 1}, guestRes.RoundWins)

	ts.rooms.Persister().Wait()
	rounds := ts.store.Rounds(roomID)
	require.Len(t, rounds, 1)
	assert.Equal(t, "host", rounds[0].WinnerID.String)
	assert.Equal(t, models.ChoiceA, rounds[0].Player2.Choice)
	assert.Equal(t, engine.TimeoutReason, rounds[0].Player2.Reason)
}

func TestJoinFullRoomOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	roomID, _, _ := ts.seatBoth(t)

	code := ts.rooms.Get(roomID).Code
	third := ts.dial(t, "carol", "Carol")
	third.send(comm.EventJoin, comm.JoinRequest{RoomCode: code, UserID: "carol"})
	e := decode[comm.Error](t, third.expect(comm.EventError))
	assert.Equal(t, room.ErrRoomFull.Error(), e.Message)

	third.send(comm.EventJoin, comm.JoinRequest{RoomCode: code, UserID: "someone-else"})
	e = decode[comm.Error](t, third.expect(comm.EventError))
	assert.Contains(t, e.Message, "does not match")
}

func TestJudgeFailureIsRetriedOnReady(t *testing.T) {
	ts := newTestServer(t)
	_, host, guest := ts.seatBoth(t)

	playToWriting(t, host, guest)
	ts.judge.fail(judge.ErrUnavailable)
	submitBoth(t, host, guest)

	he := decode[comm.Error](t, host.expect(comm.EventError))
	ge := decode[comm.Error](t, guest.expect(comm.EventError))
	assert.Equal(t, he.Message, ge.Message)
	assert.NotContains(t, he.Message, judge.ErrUnavailable.Error())

	ts.judge.fail(nil)
	ts.judge.queue(10, 20)
	guest.send(comm.EventReady, nil)
	host.expect(comm.EventAIJudging)
	res := decode[comm.RoundResults](t, host.expect(comm.EventRoundResults))
	assert.Equal(t, "guest", res.Winner)
}

func TestDisconnectAndLeaveNotifyOpponent(t *testing.T) {
	ts := newTestServer(t)
	roomID, host, guest := ts.seatBoth(t)

	guest.conn.Close()
	ref := decode[comm.PlayerRef](t, host.expect(comm.EventPlayerDisconnected))
	assert.Equal(t, "guest", ref.UserID)

	resp, _ := ts.post(t, ts.token(t, "guest", "Bob", false), "/v1/rooms/leave", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ref = decode[comm.PlayerRef](t, host.expect(comm.EventPlayerLeft))
	assert.Equal(t, "guest", ref.UserID)

	r := ts.rooms.Get(roomID)
	require.NotNil(t, r)
	r.Lock()
	assert.Nil(t, r.Guest)
	assert.Equal(t, models.PhaseWaiting, r.Phase)
	r.Unlock()

	host.send(comm.EventLeave, nil)
	closed := decode[comm.RoomClosed](t, host.expect(comm.EventRoomClosed))
	assert.Equal(t, "host left", closed.Reason)
}

func TestGuestQuotaBlocksRoomCreation(t *testing.T) {
	ts := newTestServer(t)
	day := ratelimit.Day(time.Now())
	for i := 0; i < config.GuestDailyLimit; i++ {
		require.NoError(t, ts.store.IncrementDailyUsage(context.Background(), "anon", day))
	}

	resp, out := ts.post(t, ts.token(t, "anon", "Guest", true), "/v1/rooms", map[string]string{})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, ratelimit.ErrDailyLimitExceeded.Error(), out.Message)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// registered users have their own, larger quota
	resp, _ = ts.post(t, ts.token(t, "registered", "Reg", false), "/v1/rooms", map[string]string{})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestPingPong(t *testing.T) {
	ts := newTestServer(t)
	p := ts.dial(t, "solo", "Solo")
	p.send(comm.EventPing, nil)
	p.expect(comm.EventPong)
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
