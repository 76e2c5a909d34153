package store

import "github.com/jackc/pgx/v5/pgxpool"

// Postgres bundles the per-table stores behind one value so it can be handed
// to every component that needs durable state.
type Postgres struct {
	*RoomStore
	*RoundStore
	*ResultStore
	*UsageStore
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{
		RoomStore:   NewRoomStore(db),
		RoundStore:  NewRoundStore(db),
		ResultStore: NewResultStore(db),
		UsageStore:  NewUsageStore(db),
	}
}
