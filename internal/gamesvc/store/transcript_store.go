package store

import (
	"context"
	"fmt"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"go.mongodb.org/mongo-driver/mongo"
)

const TranscriptCollection = "judge_transcripts"

// TranscriptStore archives raw judge exchanges in MongoDB. Documents are
// dropped by the TTL index on expires_at.
type TranscriptStore struct {
	coll *mongo.Collection
}

func NewTranscriptStore(db *mongo.Database) *TranscriptStore {
	return &TranscriptStore{coll: db.Collection(TranscriptCollection)}
}

func (s *TranscriptStore) Save(ctx context.Context, t *models.Transcript) error {
	if _, err := s.coll.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("failed to archive %s transcript: %w", t.Kind, err)
	}
	return nil
}
