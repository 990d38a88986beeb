package persist

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// Postgres stores documents in one records table.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates or updates the records table.
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "migrate records")
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, collection string, payload []byte, at time.Time) error {
	rec := Record{Collection: collection, Payload: payload, CreatedAt: at}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "insert record").With("collection", collection)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context, collection string) ([]byte, bool, error) {
	var rows []Record
	err := p.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, false, errors.Wrap(err, "query latest record").With("collection", collection)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].Payload, true, nil
}

func (p *Postgres) All(ctx context.Context, collection string, limit int) ([][]byte, error) {
	q := p.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Record
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query records").With("collection", collection)
	}

	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.Payload
	}
	return out, nil
}
