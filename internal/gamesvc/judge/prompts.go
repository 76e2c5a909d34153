package judge

import (
	"fmt"
	"strings"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

const scenarioSystemPrompt = `You write short decision dilemmas for a two-player party game.
Reply with a single JSON object and nothing else:
{"category": string, "scenario": string, "optionA": {"text": string, "consequence": string}, "optionB": {"text": string, "consequence": string}}
The scenario is at most three sentences. Both options must be defensible.`

const judgeSystemPrompt = `You judge a game where two players each picked option A or B for a dilemma and justified it.
Score each justification from 0 to 10 on logic, coherence and creativity, and give one sentence of feedback.
If a justification argues for the option the player did NOT pick, coherence must be between 0 and 3.
Reply with a single JSON object and nothing else:
{"player1": {"logic": int, "coherence": int, "creativity": int, "feedback": string}, "player2": {"logic": int, "coherence": int, "creativity": int, "feedback": string}, "winner": "player1" | "player2" | "tie"}`

func scenarioUserPrompt(category string) string {
	return fmt.Sprintf("Category: %s. Write one new dilemma.", category)
}

func judgeUserPrompt(s *models.Scenario, p1, p2 Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario (%s): %s\n", s.Category, s.Text)
	fmt.Fprintf(&b, "Option A: %s (%s)\n", s.OptionA.Text, s.OptionA.Consequence)
	fmt.Fprintf(&b, "Option B: %s (%s)\n\n", s.OptionB.Text, s.OptionB.Consequence)
	fmt.Fprintf(&b, "Player 1 chose %s and wrote: %q\n", p1.Choice, p1.Reason)
	fmt.Fprintf(&b, "Player 2 chose %s and wrote: %q\n", p2.Choice, p2.Reason)
	return b.String()
}
