package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const transcriptTTL = 30 * 24 * time.Hour

// OpenAIJudge talks to any OpenAI-compatible chat completion endpoint.
type OpenAIJudge struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	archive    Archive
}

func NewOpenAIJudge(cfg config.AIConfig, archive Archive) *OpenAIJudge {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	c.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &OpenAIJudge{
		client:     openai.NewClientWithConfig(c),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		archive:    archive,
	}
}

type scenarioReply struct {
	Category string `json:"category"`
	Scenario string `json:"scenario"`
	OptionA  struct {
		Text        string `json:"text"`
		Consequence string `json:"consequence"`
	} `json:"optionA"`
	OptionB struct {
		Text        string `json:"text"`
		Consequence string `json:"consequence"`
	} `json:"optionB"`
}

type scoreReply struct {
	Logic      *int   `json:"logic"`
	Coherence  *int   `json:"coherence"`
	Creativity *int   `json:"creativity"`
	Feedback   string `json:"feedback"`
}

type judgeReply struct {
	Player1 *scoreReply `json:"player1"`
	Player2 *scoreReply `json:"player2"`
	Winner  string      `json:"winner"`
}

func (j *OpenAIJudge) GenerateScenario(ctx context.Context) (*models.Scenario, error) {
	category := Categories[rand.Intn(len(Categories))]

	var reply scenarioReply
	err := j.complete(ctx, "scenario", scenarioSystemPrompt, scenarioUserPrompt(category), 0.9, func(content string) error {
		reply = scenarioReply{}
		if err := json.Unmarshal([]byte(content), &reply); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedOutput, err)
		}
		if strings.TrimSpace(reply.Scenario) == "" || reply.OptionA.Text == "" || reply.OptionB.Text == "" {
			return fmt.Errorf("%w: scenario or options missing", ErrMalformedOutput)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reply.Category == "" {
		reply.Category = category
	}
	return &models.Scenario{
		Category:    reply.Category,
		Text:        reply.Scenario,
		OptionA:     models.Option{Label: "A", Text: reply.OptionA.Text, Consequence: reply.OptionA.Consequence},
		OptionB:     models.Option{Label: "B", Text: reply.OptionB.Text, Consequence: reply.OptionB.Consequence},
		GeneratedAt: time.Now(),
	}, nil
}

func (j *OpenAIJudge) JudgeReasons(ctx context.Context, scenario *models.Scenario, p1, p2 Submission) (*Verdict, error) {
	var reply judgeReply
	err := j.complete(ctx, "judge", judgeSystemPrompt, judgeUserPrompt(scenario, p1, p2), 0.2, func(content string) error {
		reply = judgeReply{}
		if err := json.Unmarshal([]byte(content), &reply); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedOutput, err)
		}
		if !reply.Player1.complete() || !reply.Player2.complete() {
			return fmt.Errorf("%w: missing scores", ErrMalformedOutput)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v := &Verdict{
		Player1: reply.Player1.scores(),
		Player2: reply.Player2.scores(),
	}
	v.Winner = DecideWinner(v.Player1, v.Player2)
	if reply.Winner != "" && Winner(reply.Winner) != v.Winner {
		log.Debugf("judge winner tag %q disagrees with totals, using %q", reply.Winner, v.Winner)
	}
	return v, nil
}

func (s *scoreReply) complete() bool {
	return s != nil && s.Logic != nil && s.Coherence != nil && s.Creativity != nil
}

func (s *scoreReply) scores() models.Scores {
	return Finalize(models.Scores{
		Logic:      *s.Logic,
		Coherence:  *s.Coherence,
		Creativity: *s.Creativity,
		Feedback:   s.Feedback,
	})
}

// complete sends one chat request, retrying transient failures and replies
// that decode rejects, with linearly increasing backoff.
func (j *OpenAIJudge) complete(ctx context.Context, kind, system, user string, temperature float32, decode func(string) error) error {
	var (
		lastErr  error
		content  string
		attempts int
	)

	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", ErrUnavailable, ctx.Err())
			case <-time.After(j.retryDelay * time.Duration(attempt)):
			}
		}
		attempts++

		content, lastErr = j.once(ctx, system, user, temperature)
		if lastErr == nil {
			lastErr = decode(content)
		}
		if lastErr == nil {
			break
		}

		log.WithFields(log.Fields{"kind": kind, "attempt": attempts}).Warnf("Error [OpenAIJudge.complete] %s", lastErr)
		if !isTransient(lastErr) {
			break
		}
	}

	j.record(kind, system+"\n\n"+user, content, attempts, lastErr)

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %s", ErrUnavailable, attempts, lastErr)
	}
	return nil
}

func (j *OpenAIJudge) once(ctx context.Context, system, user string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

func (j *OpenAIJudge) record(kind, prompt, response string, attempts int, err error) {
	if j.archive == nil {
		return
	}

	now := time.Now()
	t := &models.Transcript{
		Kind:      kind,
		Model:     j.model,
		Prompt:    prompt,
		Response:  response,
		Attempts:  attempts,
		CreatedAt: now,
		ExpiresAt: now.Add(transcriptTTL),
	}
	if err != nil {
		t.Error = err.Error()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.archive.Save(ctx, t); err != nil {
			log.Warnf("Error [OpenAIJudge.record] %s", err)
		}
	}()
}

// isTransient reports whether another attempt may succeed: network faults,
// timeouts, 5xx and 429 responses, and replies that broke the JSON contract.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}
