package dashboard

import (
	"context"
	"time"

	"github.com/marcus/posync/internal/cache"
	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/offline"
)

// Source is what the dashboard reads and drives. *offline.Engine implements it.
type Source interface {
	IsOnline() bool
	CountPending(ctx context.Context, kinds ...models.OperationKind) (int, error)
	NeedsAttention(ctx context.Context) ([]models.PendingOperation, error)
	ListCollections(ctx context.Context) ([]db.CollectionInfo, error)
	LastSessions() offline.SyncReport
	SyncAll(ctx context.Context) (offline.SyncReport, error)
	Refresh(ctx context.Context, key models.CollectionKey) (cache.RefreshResult, error)
}

// Snapshot is one poll of the source
type Snapshot struct {
	Online       bool
	PendingSales int
	PendingLines int
	Attention    []models.PendingOperation
	Collections  []db.CollectionInfo
	Last         offline.SyncReport
	Err          error
	Timestamp    time.Time
}

// FetchData polls src. The first error stops the poll and is kept in Err.
func FetchData(ctx context.Context, src Source) Snapshot {
	s := Snapshot{
		Online:    src.IsOnline(),
		Last:      src.LastSessions(),
		Timestamp: time.Now(),
	}
	if s.PendingSales, s.Err = src.CountPending(ctx, models.KindSale); s.Err != nil {
		return s
	}
	if s.PendingLines, s.Err = src.CountPending(ctx, models.KindInventoryCountLine); s.Err != nil {
		return s
	}
	if s.Attention, s.Err = src.NeedsAttention(ctx); s.Err != nil {
		return s
	}
	s.Collections, s.Err = src.ListCollections(ctx)
	return s
}
