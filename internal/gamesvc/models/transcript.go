package models

import "time"

// Transcript is one raw exchange with the language model, kept for audits.
type Transcript struct {
	Kind      string    `bson:"kind" json:"kind"` // "scenario" or "judge"
	Model     string    `bson:"model" json:"model"`
	Prompt    string    `bson:"prompt" json:"prompt"`
	Response  string    `bson:"response" json:"response"`
	Attempts  int       `bson:"attempts" json:"attempts"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}
