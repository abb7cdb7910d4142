package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := logger.Warn
	if cfg.LogQueries {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return model.Timestamp(time.Now()) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", zap.String("driver", cfg.Driver))
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates the schema and the constraints gorm tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Pod{},
		&model.Booking{},
		&model.AccessCode{},
		&model.OccupancyHistory{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	ddls := []string{
		// at most one ACTIVE code per booking
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_access_codes_one_active ON access_codes (booking_id) " +
			"WHERE status = 'ACTIVE';",
	}
	if db.Dialector.Name() == "postgres" {
		ddls = append(ddls, postgresDDL...)
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

// ExclusionConstraint is the name of the Postgres constraint that rejects
// overlapping blocking bookings for one pod.
const ExclusionConstraint = "bookings_no_overlap"

var postgresDDL = []string{
	"CREATE EXTENSION IF NOT EXISTS btree_gist;",

	"DO $$ BEGIN " +
		"IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '" + ExclusionConstraint + "') THEN " +
		"ALTER TABLE bookings ADD CONSTRAINT " + ExclusionConstraint + " " +
		"EXCLUDE USING GIST (pod_id WITH =, tstzrange(start_at, end_at, '[)') WITH &&) " +
		"WHERE (status IN ('PENDING', 'CONFIRMED')); " +
		"END IF; END $$;",

	"DO $$ BEGIN " +
		"IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'bookings_window_valid') THEN " +
		"ALTER TABLE bookings ADD CONSTRAINT bookings_window_valid CHECK (start_at < end_at); " +
		"END IF; END $$;",
}
