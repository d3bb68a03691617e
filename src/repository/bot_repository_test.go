package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"dcarunner/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func TestAcquireLockOnlyMatchesFreeOrExpired(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&BotRepository{}).WithDB(mockDB)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "dca_bots" SET "is_locked"=$1,"lock_expires_at"=$2,"updated_at"=$3 WHERE id = $4 AND (is_locked = $5 OR lock_expires_at IS NULL OR lock_expires_at < $6)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acquired, err := repo.AcquireLock(context.Background(), 7, now, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	if !acquired {
		t.Fatal("expected lock to be acquired when conditional update matches")
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "dca_bots" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	acquired, err = repo.AcquireLock(context.Background(), 7, now, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error on contended lock: %v", err)
	}
	if acquired {
		t.Fatal("expected lock acquisition to fail when zero rows match")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestFindDueFiltersRunningBots(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&BotRepository{}).WithDB(mockDB)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "status", "market", "exchange", "pair"}).
		AddRow(1, model.BotStatusRunning, model.MarketSpot, "binance", "BTC/USDT").
		AddRow(2, model.BotStatusRunning, model.MarketSpot, "bybit", "ETH/USDT")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "dca_bots" WHERE status = $1 AND market = $2 AND (next_tick_at IS NULL OR next_tick_at <= $3) ORDER BY next_tick_at ASC NULLS FIRST LIMIT $4`)).
		WithArgs(model.BotStatusRunning, model.MarketSpot, now, 10).
		WillReturnRows(rows)

	bots, err := repo.FindDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("unexpected error fetching due bots: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("expected 2 due bots, got %d", len(bots))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestFindDueExcludesFuturesBots(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := db.AutoMigrate(&model.Bot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	spot := &model.Bot{Exchange: "binance", Market: model.MarketSpot, Pair: "BTC/USDT", Status: model.BotStatusRunning}
	futures := &model.Bot{Exchange: "binance", Market: model.MarketFutures, Pair: "BTC/USDT", Status: model.BotStatusRunning}
	for _, b := range []*model.Bot{spot, futures} {
		if err := db.Create(b).Error; err != nil {
			t.Fatalf("failed to seed bot: %v", err)
		}
	}

	repo := (&BotRepository{}).WithDB(db)
	bots, err := repo.FindDue(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error fetching due bots: %v", err)
	}
	if len(bots) != 1 {
		t.Fatalf("expected only the spot bot to be due, got %d bots", len(bots))
	}
	if bots[0].ID != spot.ID || bots[0].Market != model.MarketSpot {
		t.Fatalf("expected spot bot %d, got bot %d market %q", spot.ID, bots[0].ID, bots[0].Market)
	}
}

// The sqlmock tests pin the SQL shape; this one exercises the real
// compare-and-set semantics against an in-memory database.
func TestAcquireLockMutualExclusion(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := db.AutoMigrate(&model.Bot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	bot := &model.Bot{Exchange: "binance", Pair: "BTC/USDT", Status: model.BotStatusRunning}
	if err := db.Create(bot).Error; err != nil {
		t.Fatalf("failed to seed bot: %v", err)
	}

	repo := (&BotRepository{}).WithDB(db)
	ctx := context.Background()
	now := time.Now()

	acquired, err := repo.AcquireLock(ctx, bot.ID, now, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected first acquisition to win, got acquired=%v err=%v", acquired, err)
	}

	acquired, err = repo.AcquireLock(ctx, bot.ID, now, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error on second acquisition: %v", err)
	}
	if acquired {
		t.Fatal("expected second acquisition to lose while lock is held")
	}

	// an expired lock is claimable again
	acquired, err = repo.AcquireLock(ctx, bot.ID, now.Add(2*time.Minute), time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected expired lock to be claimable, got acquired=%v err=%v", acquired, err)
	}

	next := now.Add(15 * time.Second)
	if err := repo.ReleaseLock(ctx, bot.ID, model.TickStatusOK, "", now, &next); err != nil {
		t.Fatalf("unexpected error releasing lock: %v", err)
	}

	var reloaded model.Bot
	if err := db.First(&reloaded, bot.ID).Error; err != nil {
		t.Fatalf("failed to reload bot: %v", err)
	}
	if reloaded.IsLocked {
		t.Fatal("expected lock to be free after release")
	}
	if reloaded.LastTickStatus != model.TickStatusOK {
		t.Fatalf("expected tick status recorded, got %q", reloaded.LastTickStatus)
	}
	if reloaded.NextTickAt == nil {
		t.Fatal("expected next tick time to be scheduled")
	}
}
