package events

import (
	"context"

	"github.com/agentimmune/control-plane/pkg/store"
)

// wsEventQuerier abstracts the catchup query method needed from the
// postgres store. Implemented by *postgres.Store.
type wsEventQuerier interface {
	WSEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]store.WSEventRow, error)
}

// StoreCatchupAdapter wraps a wsEventQuerier to implement CatchupQuerier.
// Only the postgres backend supports catchup; a memstore-backed
// ConnectionManager is constructed with a nil CatchupQuerier instead.
type StoreCatchupAdapter struct {
	querier wsEventQuerier
}

// NewStoreCatchupAdapter creates a CatchupQuerier backed by the postgres store.
func NewStoreCatchupAdapter(querier wsEventQuerier) *StoreCatchupAdapter {
	return &StoreCatchupAdapter{querier: querier}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup mechanism.
func (a *StoreCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := a.querier.WSEventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(rows))
	for i, row := range rows {
		result[i] = CatchupEvent{ID: int(row.ID), Payload: row.Payload}
	}
	return result, nil
}
