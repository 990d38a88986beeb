// Package persist keeps parameters, trades and statistic history across restarts.
package persist

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"marketmaker/pkg/exception"
)

// Collections written by the engine.
const (
	CollectionParams = "params"
	CollectionTrades = "trades"
	CollectionRFV    = "rfv"
	CollectionMarket = "mkt"
)

// Record is one saved document.
type Record struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Collection string    `gorm:"size:32;index:idx_records_collection_id,priority:1"`
	Payload    []byte    `gorm:"type:bytea"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Record) TableName() string {
	return "records"
}

// Store appends and reads raw documents per collection.
type Store interface {
	Save(ctx context.Context, collection string, payload []byte, at time.Time) error
	// Latest returns the newest document, if any.
	Latest(ctx context.Context, collection string) ([]byte, bool, error)
	// All returns up to limit newest documents, oldest first. limit <= 0 returns everything.
	All(ctx context.Context, collection string, limit int) ([][]byte, error)
}

// Save encodes v and appends it to collection.
func Save[T any](ctx context.Context, s Store, collection string, v T) error {
	if collection == "" {
		return exception.ErrPersistEmptyRecord
	}
	buf, err := sonic.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode record").With("collection", collection)
	}
	return s.Save(ctx, collection, buf, time.Now())
}

// LoadLatest decodes the newest document of collection, or returns def when
// the collection is empty.
func LoadLatest[T any](ctx context.Context, s Store, collection string, def T) (T, error) {
	buf, ok, err := s.Latest(ctx, collection)
	if err != nil {
		return def, errors.Wrap(err, "load latest").With("collection", collection)
	}
	if !ok {
		return def, nil
	}
	out := def
	if err := sonic.Unmarshal(buf, &out); err != nil {
		return def, errors.Wrap(err, "decode record").With("collection", collection)
	}
	return out, nil
}

// LoadAll decodes up to limit newest documents of collection, oldest first.
// Documents that fail to decode are skipped.
func LoadAll[T any](ctx context.Context, s Store, collection string, limit int) ([]T, error) {
	raw, err := s.All(ctx, collection, limit)
	if err != nil {
		return nil, errors.Wrap(err, "load all").With("collection", collection)
	}
	out := make([]T, 0, len(raw))
	for _, buf := range raw {
		var v T
		if err := sonic.Unmarshal(buf, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
