// Package storetest opens isolated SQLite-backed stores for tests.
package storetest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pod-booking-backend/internal/db"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// Open returns a migrated in-memory database private to the test. The pool is
// capped at one connection so transactions serialize the way row locks
// serialize them on Postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return model.Timestamp(time.Now()) },
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// New returns a store over a fresh in-memory database.
func New(t *testing.T) store.Store {
	t.Helper()
	return store.NewGormStore(Open(t))
}

// SeedPod inserts an AVAILABLE pod with the given hourly rate.
func SeedPod(t *testing.T, s store.Store, rateCents int64) *model.Pod {
	t.Helper()
	pod := &model.Pod{
		ID:              uuid.NewString(),
		Name:            "Pod " + uuid.NewString()[:4],
		Status:          model.PodAvailable,
		HourlyRateCents: rateCents,
		Currency:        "usd",
		LockID:          "lock-" + uuid.NewString()[:8],
	}
	require.NoError(t, s.CreatePod(t.Context(), pod))
	return pod
}
