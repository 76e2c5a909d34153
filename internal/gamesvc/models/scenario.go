package models

import "time"

type Option struct {
	Label       string `json:"label"`
	Text        string `json:"text"`
	Consequence string `json:"consequence"`
}

// Scenario is the decision prompt for one round. It is never mutated after
// it is attached to a room.
type Scenario struct {
	Category    string    `json:"category"`
	Text        string    `json:"text"`
	OptionA     Option    `json:"optionA"`
	OptionB     Option    `json:"optionB"`
	GeneratedAt time.Time `json:"generatedAt"`
}
