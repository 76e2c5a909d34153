package service

import (
	"context"
	"errors"
	"testing"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/avvvet/explain-services/internal/gamesvc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMatch(t *testing.T, m *store.Memory, roomID string, match int, guestID string, hostPoints, guestPoints int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, m.InsertRound(ctx, &models.RoundRecord{
		RoomID:    roomID,
		Match:     match,
		Round:     1,
		Player1ID: "host",
		Player1:   models.RoundEntry{Choice: models.ChoiceA, Scores: models.Scores{Total: hostPoints}},
		Player2ID: guestID,
		Player2:   models.RoundEntry{Choice: models.ChoiceB, Scores: models.Scores{Total: guestPoints}},
	}))
	require.NoError(t, m.InsertGameResult(ctx, &models.GameResult{
		RoomID: roomID, Match: match, UserID: "host", OpponentID: guestID,
		Points: hostPoints, RoundsPlayed: 1, RoundsWon: 1, Won: hostPoints > guestPoints,
	}))
	require.NoError(t, m.InsertGameResult(ctx, &models.GameResult{
		RoomID: roomID, Match: match, UserID: guestID, OpponentID: "host",
		Points: guestPoints, RoundsPlayed: 1, Won: guestPoints > hostPoints,
	}))
}

func TestRecentSummarisesNewestFirst(t *testing.T) {
	m := store.NewMemory()
	seedMatch(t, m, "room-1", 1, "guest", 20, 10)
	seedMatch(t, m, "room-2", 1, "guest", 12, 25)

	h, err := NewHistoryService(m).Recent(context.Background(), "host", 0)
	require.NoError(t, err)

	require.Len(t, h.Games, 2)
	assert.Equal(t, "room-2", h.Games[0].RoomID)
	assert.Equal(t, Summary{Played: 2, Won: 1, Points: 32}, h.Summary)
}

func TestRecentClampsLimit(t *testing.T) {
	m := store.NewMemory()
	seedMatch(t, m, "room-1", 1, "guest", 20, 10)
	seedMatch(t, m, "room-2", 1, "guest", 12, 25)

	svc := NewHistoryService(m)
	h, err := svc.Recent(context.Background(), "guest", 1)
	require.NoError(t, err)
	assert.Len(t, h.Games, 1)

	h, err = svc.Recent(context.Background(), "nobody", 1000)
	require.NoError(t, err)
	assert.NotNil(t, h.Games)
	assert.Empty(t, h.Games)
}

func TestMatchIsPrivateToItsPlayers(t *testing.T) {
	m := store.NewMemory()
	seedMatch(t, m, "room-1", 1, "guest", 20, 10)
	svc := NewHistoryService(m)
	ctx := context.Background()

	rounds, err := svc.Match(ctx, "room-1", 0, "guest")
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, models.ChoiceB, rounds[0].Player2.Choice)

	_, err = svc.Match(ctx, "room-1", 0, "stranger")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.Match(ctx, "room-9", 0, "host")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMatchSeparatesGuestsOfOneRoom(t *testing.T) {
	m := store.NewMemory()
	seedMatch(t, m, "room-1", 1, "guest", 20, 5)
	seedMatch(t, m, "room-1", 2, "guest2", 24, 19)
	svc := NewHistoryService(m)
	ctx := context.Background()

	rounds, err := svc.Match(ctx, "room-1", 0, "host")
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "guest2", rounds[0].Player2ID)

	rounds, err = svc.Match(ctx, "room-1", 0, "guest")
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, 1, rounds[0].Match)

	_, err = svc.Match(ctx, "room-1", 1, "guest2")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.Match(ctx, "room-1", 3, "host")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	m := store.NewMemory()
	boom := errors.New("db down")
	m.SetError(boom)

	_, err := NewHistoryService(m).Recent(context.Background(), "host", 5)
	assert.ErrorIs(t, err, boom)
}
