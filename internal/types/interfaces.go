// internal/types/interfaces.go
package types

import (
	"context"
)

type HistoryStore interface {
	Record(ctx context.Context, rec *AskRecord) error
	Get(ctx context.Context, id uint) (*AskRecord, error)
	List(ctx context.Context, limit, offset int) ([]AskRecord, int64, error)
	ListByThread(ctx context.Context, thread ThreadName) ([]AskRecord, error)
	Delete(ctx context.Context, id uint) error
	Clear(ctx context.Context) error
}
