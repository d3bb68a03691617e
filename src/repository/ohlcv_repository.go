package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

var ErrInvalidInterval = errors.New("invalid interval. allowed: 5m,15m,30m,45m")

// OHLCVRepository stores imported one-minute candles and serves aggregated
// views of them.
type OHLCVRepository struct {
	db *gorm.DB
}

func NewOHLCVRepository() *OHLCVRepository {
	logger.WithField("component", "OHLCVRepository").
		Info("Creating new OHLCVRepository with MainDB")

	return &OHLCVRepository{
		db: database.MainDB,
	}
}

func (r *OHLCVRepository) WithDB(db *gorm.DB) *OHLCVRepository {
	return &OHLCVRepository{db: db}
}

// UpsertBatch inserts candles, replacing any existing row for the same
// (symbol, datetime) so re-imports are idempotent.
func (r *OHLCVRepository) UpsertBatch(ctx context.Context, candles []model.OHLCVCandle1m) error {
	if len(candles) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "symbol"},
				{Name: "datetime"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume",
			}),
		}).
		CreateInBatches(candles, 500).Error
}

// FetchRecent1m returns up to limit candles ending at to, in ascending
// chronological order.
func (r *OHLCVRepository) FetchRecent1m(
	ctx context.Context,
	symbol string,
	to time.Time,
	limit int,
) ([]model.OHLCVCandle1m, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows []model.OHLCVCandle1m
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND datetime <= ?", symbol, to).
		Order("datetime DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// LatestDatetime returns the newest stored candle time for a symbol, so an
// import can resume where the last one stopped. Returns (zero, nil) when the
// symbol has no candles yet.
func (r *OHLCVRepository) LatestDatetime(ctx context.Context, symbol string) (time.Time, error) {
	var row model.OHLCVCandle1m
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("datetime DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return row.Datetime, nil
}

func bucketStart(t time.Time, interval time.Duration) time.Time {
	// Works for intervals that are multiples of 1 minute.
	// Align to wall-clock boundaries: 12:07 with 5m => 12:05
	secs := t.Unix()
	step := int64(interval.Seconds())
	return time.Unix((secs/step)*step, 0).UTC()
}

// AggregateFrom1m rolls ascending 1m candles up into interval buckets.
func AggregateFrom1m(
	candles []model.OHLCVCandle1m,
	interval time.Duration,
) ([]model.OHLCVCandle1m, error) {
	if interval != 5*time.Minute &&
		interval != 15*time.Minute &&
		interval != 30*time.Minute &&
		interval != 45*time.Minute {
		return nil, ErrInvalidInterval
	}

	if len(candles) == 0 {
		return []model.OHLCVCandle1m{}, nil
	}

	out := make([]model.OHLCVCandle1m, 0, len(candles)/int(interval.Minutes())+2)

	var cur model.OHLCVCandle1m
	var curBucket time.Time
	hasCur := false

	for _, c := range candles {
		b := bucketStart(c.Datetime, interval)

		if !hasCur || !b.Equal(curBucket) {
			if hasCur {
				out = append(out, cur)
			}
			curBucket = b
			hasCur = true
			cur = model.OHLCVCandle1m{
				Symbol:   c.Symbol,
				Datetime: curBucket, // bucket open time
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			continue
		}

		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume = cur.Volume.Add(c.Volume)
	}

	if hasCur {
		out = append(out, cur)
	}

	return out, nil
}

// FetchRecentAgg returns up to limitAgg aggregated candles ending at to.
func (r *OHLCVRepository) FetchRecentAgg(
	ctx context.Context,
	symbol string,
	to time.Time,
	interval time.Duration,
	limitAgg int,
) ([]model.OHLCVCandle1m, error) {
	if limitAgg <= 0 {
		limitAgg = 200
	}

	mult := int(interval.Minutes())
	if mult <= 0 {
		return nil, ErrInvalidInterval
	}
	limit1m := limitAgg*mult + mult // small buffer

	rows1m, err := r.FetchRecent1m(ctx, symbol, to, limit1m)
	if err != nil {
		return nil, err
	}

	agg, err := AggregateFrom1m(rows1m, interval)
	if err != nil {
		return nil, err
	}

	if len(agg) > limitAgg {
		agg = agg[len(agg)-limitAgg:]
	}
	return agg, nil
}
