package judge

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

var offlineScenarios = []models.Scenario{
	{
		Category: "ethics",
		Text:     "You find a wallet with a large amount of cash and an ID. The owner lives across town and you are already late for an important interview.",
		OptionA:  models.Option{Label: "A", Text: "Return the wallet now", Consequence: "You miss the interview."},
		OptionB:  models.Option{Label: "B", Text: "Go to the interview first", Consequence: "The owner spends the day worrying."},
	},
	{
		Category: "survival",
		Text:     "Your hiking group is lost and the sun is setting. One trail leads down to a river, the other climbs to a ridge with phone signal.",
		OptionA:  models.Option{Label: "A", Text: "Follow the river", Consequence: "Water is secured but nobody knows where you are."},
		OptionB:  models.Option{Label: "B", Text: "Climb to the ridge", Consequence: "You can call for help but spend the night exposed."},
	},
	{
		Category: "business",
		Text:     "Your small bakery gets an offer from a supermarket chain to supply bread at a low margin for a whole year.",
		OptionA:  models.Option{Label: "A", Text: "Accept the contract", Consequence: "Stable income but no time for your regular customers."},
		OptionB:  models.Option{Label: "B", Text: "Decline and stay local", Consequence: "You keep your identity but growth stays slow."},
	},
	{
		Category: "friendship",
		Text:     "Your best friend asks you to be honest about their startup idea. You think it will fail.",
		OptionA:  models.Option{Label: "A", Text: "Tell them the truth", Consequence: "They may be hurt and distant for a while."},
		OptionB:  models.Option{Label: "B", Text: "Encourage them anyway", Consequence: "They invest their savings with your blessing."},
	},
	{
		Category: "technology",
		Text:     "Your city offers free public transport if residents agree to camera-based face recognition at every station.",
		OptionA:  models.Option{Label: "A", Text: "Vote for the plan", Consequence: "Traffic and emissions drop sharply."},
		OptionB:  models.Option{Label: "B", Text: "Vote against it", Consequence: "Privacy is kept but tickets stay expensive."},
	},
}

// OfflineJudge scores by length and structure and serves scenarios from a
// fixed pool, so the game runs without any model credential.
type OfflineJudge struct {
	next atomic.Uint64
	now  func() time.Time
}

func NewOfflineJudge() *OfflineJudge {
	return &OfflineJudge{now: time.Now}
}

func (j *OfflineJudge) GenerateScenario(ctx context.Context) (*models.Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := (j.next.Add(1) - 1) % uint64(len(offlineScenarios))
	s := offlineScenarios[i]
	s.GeneratedAt = j.now()
	return &s, nil
}

func (j *OfflineJudge) JudgeReasons(ctx context.Context, scenario *models.Scenario, p1, p2 Submission) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := &Verdict{
		Player1: heuristicScores(p1),
		Player2: heuristicScores(p2),
	}
	v.Winner = DecideWinner(v.Player1, v.Player2)
	return v, nil
}

func heuristicScores(s Submission) models.Scores {
	reason := strings.TrimSpace(s.Reason)
	words := strings.Fields(reason)
	if len(words) == 0 {
		return Finalize(models.Scores{Feedback: "No justification was given."})
	}

	sentences := 0
	for _, part := range strings.FieldsFunc(reason, func(r rune) bool { return r == '.' || r == '!' || r == '?' }) {
		if strings.TrimSpace(part) != "" {
			sentences++
		}
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))] = struct{}{}
	}

	scores := models.Scores{
		Logic:      len(words) / 5,
		Coherence:  2 + sentences*2,
		Creativity: len(unique) / 4,
	}
	if contradictsChoice(reason, s.Choice) {
		scores.Coherence = min(scores.Coherence, 3)
	}

	scores = Finalize(scores)
	scores.Feedback = feedbackFor(scores.Total)
	return scores
}

// contradictsChoice catches the obvious case of arguing for the other option.
func contradictsChoice(reason string, choice models.Choice) bool {
	lower := strings.ToLower(reason)
	var own, other string
	switch choice {
	case models.ChoiceA:
		own, other = "option a", "option b"
	case models.ChoiceB:
		own, other = "option b", "option a"
	default:
		return false
	}
	return strings.Contains(lower, other) && !strings.Contains(lower, own)
}

func feedbackFor(total int) string {
	switch {
	case total >= 24:
		return "Well structured and original argument."
	case total >= 15:
		return "Solid reasoning, could go deeper."
	case total >= 8:
		return "A start, but the argument needs more support."
	default:
		return "Too thin to judge the reasoning."
	}
}
