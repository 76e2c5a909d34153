package models

// Phase is one step of a room's match state machine.
type Phase string

const (
	PhaseWaiting       Phase = "WAITING"
	PhaseCountdown     Phase = "COUNTDOWN"
	PhaseScenarioGen   Phase = "SCENARIO_GEN"
	PhaseChoosingMove  Phase = "CHOOSING_MOVE"
	PhaseWritingReason Phase = "WRITING_REASON"
	PhaseAIJudging     Phase = "AI_JUDGING"
	PhaseRoundResults  Phase = "ROUND_RESULTS"
	PhaseGameOver      Phase = "GAME_OVER"
)

// Choice is a player's pick for the current scenario.
type Choice string

const (
	ChoiceNone Choice = ""
	ChoiceA    Choice = "A"
	ChoiceB    Choice = "B"
)

func (c Choice) Valid() bool {
	return c == ChoiceA || c == ChoiceB
}
