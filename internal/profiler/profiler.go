// Package profiler implements spec.md §6's -p profile output as a small
// gorm-backed metrics store, adapted from pkg/x_db's DAO/DatabaseConfig
// pattern (sqlite by default, postgres via DSN) and pkg/x_db/logger.go's
// GORM logger.Interface adapter, rewired onto internal/telemetry's
// zerolog logger instead of the source's x_log wrapper.
package profiler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RoundSample is one profiled round of the fixed-point/swap-reduce loop:
// spec.md's -p profile output, one row per (run, component, round).
type RoundSample struct {
	ID         uint `gorm:"primaryKey"`
	RunID      string
	Component  string // "swapreduce" or "components"
	Rank       int
	Round      int
	NotDone    int
	Resident   int
	Evictions  int64
	Loads      int64
	DurationMS int64
	RecordedAt time.Time
}

// Profiler wraps a gorm.DB scoped to RoundSample: sqlite at the -p profile
// path by default, or postgres when an explicit --profile-dsn is given
// (see internal/config).
type Profiler struct {
	db    *gorm.DB
	runID string
}

// Open opens (creating if necessary) the profiler database at dsn. An
// empty dsn falls back to sqlite at path; any non-empty dsn is opened with
// the postgres driver instead (its form is not checked).
func Open(path, dsn string, log zerolog.Logger, runID string) (*Profiler, error) {
	adapter := newLogAdapter(log, gormlogger.Warn)

	var dialector gorm.Dialector
	if dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		if path == "" {
			path = "./toposcan-profile.db"
		}
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: adapter})
	if err != nil {
		return nil, fmt.Errorf("profiler: open: %w", err)
	}
	if err := db.AutoMigrate(&RoundSample{}); err != nil {
		return nil, fmt.Errorf("profiler: migrate: %w", err)
	}
	return &Profiler{db: db, runID: runID}, nil
}

// Record inserts one round sample. Never fatal: a profiler write failure
// logs and continues rather than aborting the computation it is
// observing (spec.md §7's error kinds list profiler failures as
// non-fatal instrumentation, unlike output I/O failures).
func (p *Profiler) Record(log zerolog.Logger, s RoundSample) {
	s.RunID = p.runID
	if err := p.db.Create(&s).Error; err != nil {
		log.Warn().Err(err).Msg("profiler: failed to record round sample")
	}
}

// Show returns every sample for runID (or every run if runID is empty),
// ordered by round, the read-back path for a `toposcan profile show`
// subcommand.
func (p *Profiler) Show(ctx context.Context, runID string) ([]RoundSample, error) {
	var out []RoundSample
	q := p.db.WithContext(ctx).Order("round asc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("profiler: show: %w", err)
	}
	return out, nil
}

// Close releases the underlying sql.DB connection pool.
func (p *Profiler) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("profiler: close: %w", err)
	}
	return sqlDB.Close()
}
