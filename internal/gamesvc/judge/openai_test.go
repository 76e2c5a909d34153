package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	calls   atomic.Int32
	replies []func(w http.ResponseWriter)
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.replies) {
		n = len(f.replies) - 1
	}
	f.replies[n](w)
}

func completion(content string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func failure(status int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"error":{"message":"upstream says no","type":"server_error"}}`))
	}
}

func newTestOpenAIJudge(t *testing.T, model *fakeModel) *OpenAIJudge {
	t.Helper()
	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)

	return NewOpenAIJudge(config.AIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
}

const judgeJSON = `{"player1":{"logic":8,"coherence":9,"creativity":7,"feedback":"sharp"},"player2":{"logic":6,"coherence":7,"creativity":6,"feedback":"fine"},"winner":"player1"}`

var testScenario = &models.Scenario{
	Category: "ethics",
	Text:     "A dilemma.",
	OptionA:  models.Option{Label: "A", Text: "left"},
	OptionB:  models.Option{Label: "B", Text: "right"},
}

func TestJudgeReasonsRetriesServerErrors(t *testing.T) {
	model := &fakeModel{replies: []func(http.ResponseWriter){
		failure(http.StatusInternalServerError),
		failure(http.StatusBadGateway),
		completion(judgeJSON),
	}}
	j := newTestOpenAIJudge(t, model)

	v, err := j.JudgeReasons(context.Background(), testScenario,
		Submission{Choice: models.ChoiceA, Reason: "because"},
		Submission{Choice: models.ChoiceB, Reason: "why not"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), model.calls.Load())

	assert.Equal(t, 24, v.Player1.Total)
	assert.Equal(t, 19, v.Player2.Total)
	assert.Equal(t, WinnerPlayer1, v.Winner)
	assert.Equal(t, "sharp", v.Player1.Feedback)
}

func TestJudgeReasonsGivesUpAfterBoundedRetries(t *testing.T) {
	model := &fakeModel{replies: []func(http.ResponseWriter){failure(http.StatusServiceUnavailable)}}
	j := newTestOpenAIJudge(t, model)

	_, err := j.JudgeReasons(context.Background(), testScenario, Submission{}, Submission{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(3), model.calls.Load()) // first try + 2 retries
}

func TestJudgeReasonsDoesNotRetryAuthFailure(t *testing.T) {
	model := &fakeModel{replies: []func(http.ResponseWriter){failure(http.StatusUnauthorized), completion(judgeJSON)}}
	j := newTestOpenAIJudge(t, model)

	_, err := j.JudgeReasons(context.Background(), testScenario, Submission{}, Submission{})
	require.Error(t, err)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestJudgeReasonsRetriesMalformedOutputAndClamps(t *testing.T) {
	model := &fakeModel{replies: []func(http.ResponseWriter){
		completion(`not json at all`),
		completion(`{"player1":{"logic":14,"coherence":-2,"creativity":5,"feedback":"x"},"player2":{"logic":5,"coherence":5,"creativity":5,"feedback":"y"},"winner":"player1"}`),
	}}
	j := newTestOpenAIJudge(t, model)

	v, err := j.JudgeReasons(context.Background(), testScenario, Submission{}, Submission{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), model.calls.Load())

	assert.Equal(t, 10, v.Player1.Logic)
	assert.Equal(t, 0, v.Player1.Coherence)
	assert.Equal(t, 15, v.Player1.Total)
	assert.Equal(t, 15, v.Player2.Total)
	// totals decide, not the model's tag
	assert.Equal(t, WinnerTie, v.Winner)
}

func TestGenerateScenarioParsesContract(t *testing.T) {
	model := &fakeModel{replies: []func(http.ResponseWriter){
		completion(`{"category":"survival","scenario":"Storm incoming."}`),
		completion(`{"category":"survival","scenario":"Storm incoming.","optionA":{"text":"Stay","consequence":"Cold"},"optionB":{"text":"Run","consequence":"Wet"}}`),
	}}
	j := newTestOpenAIJudge(t, model)

	s, err := j.GenerateScenario(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), model.calls.Load())
	assert.Equal(t, "survival", s.Category)
	assert.Equal(t, "Stay", s.OptionA.Text)
	assert.Equal(t, "B", s.OptionB.Label)
	assert.False(t, s.GeneratedAt.IsZero())
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"malformed", ErrMalformedOutput, true},
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &openai.APIError{HTTPStatusCode: 500}, true},
		{"too many requests", &openai.APIError{HTTPStatusCode: 429}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"unauthorized", &openai.RequestError{HTTPStatusCode: 401}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}

func TestNewPicksStrategyFromCredential(t *testing.T) {
	_, offline := New(config.AIConfig{}, nil).(*OfflineJudge)
	assert.True(t, offline)

	_, online := New(config.AIConfig{APIKey: "sk", Model: "m", Timeout: time.Second}, nil).(*OpenAIJudge)
	assert.True(t, online)
}
