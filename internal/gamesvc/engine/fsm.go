package engine

import "github.com/avvvet/explain-services/internal/gamesvc/models"

// transitions lists every legal phase edge. Resetting a room to WAITING when
// the guest leaves is owned by the room manager and is not a game edge.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseWaiting:       {models.PhaseCountdown},
	models.PhaseCountdown:     {models.PhaseScenarioGen},
	models.PhaseScenarioGen:   {models.PhaseChoosingMove},
	models.PhaseChoosingMove:  {models.PhaseWritingReason},
	models.PhaseWritingReason: {models.PhaseAIJudging},
	models.PhaseAIJudging:     {models.PhaseRoundResults},
	models.PhaseRoundResults:  {models.PhaseScenarioGen, models.PhaseGameOver},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to models.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
