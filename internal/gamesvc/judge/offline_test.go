package judge

import (
	"context"
	"strings"
	"testing"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineScenarioPoolRotates(t *testing.T) {
	j := NewOfflineJudge()
	seen := map[string]bool{}
	for i := 0; i < len(offlineScenarios); i++ {
		s, err := j.GenerateScenario(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, s.OptionA.Text)
		assert.NotEmpty(t, s.OptionB.Text)
		seen[s.Text] = true
	}
	assert.Len(t, seen, len(offlineScenarios))
}

func TestOfflineScoresAreDeterministicAndBounded(t *testing.T) {
	j := NewOfflineJudge()
	long := Submission{Choice: models.ChoiceA, Reason: strings.Repeat("Returning it builds trust with strangers. ", 12)}
	short := Submission{Choice: models.ChoiceB, Reason: "Money."}

	v1, err := j.JudgeReasons(context.Background(), testScenario, long, short)
	require.NoError(t, err)
	v2, err := j.JudgeReasons(context.Background(), testScenario, long, short)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, WinnerPlayer1, v1.Winner)
	for _, s := range []models.Scores{v1.Player1, v1.Player2} {
		for _, sub := range []int{s.Logic, s.Coherence, s.Creativity} {
			assert.GreaterOrEqual(t, sub, 0)
			assert.LessOrEqual(t, sub, 10)
		}
		assert.Equal(t, s.Logic+s.Coherence+s.Creativity, s.Total)
		assert.NotEmpty(t, s.Feedback)
	}
}

func TestOfflineEmptyReasonScoresZero(t *testing.T) {
	s := heuristicScores(Submission{Choice: models.ChoiceA, Reason: "   "})
	assert.Equal(t, 0, s.Total)
}

func TestOfflinePenalizesMismatchedReason(t *testing.T) {
	reason := "Option B is clearly better. It keeps everyone safe. It costs less. Nobody gets hurt."
	matched := heuristicScores(Submission{Choice: models.ChoiceB, Reason: reason})
	mismatched := heuristicScores(Submission{Choice: models.ChoiceA, Reason: reason})

	assert.LessOrEqual(t, mismatched.Coherence, 3)
	assert.Greater(t, matched.Coherence, mismatched.Coherence)
}

func TestDecideWinnerTieBreak(t *testing.T) {
	assert.Equal(t, WinnerPlayer1, DecideWinner(models.Scores{Total: 24}, models.Scores{Total: 19}))
	assert.Equal(t, WinnerPlayer2, DecideWinner(models.Scores{Total: 3}, models.Scores{Total: 4}))
	assert.Equal(t, WinnerTie, DecideWinner(models.Scores{Total: 12}, models.Scores{Total: 12}))
}
