// Package history is the single writer / many reader sample store:
// bank and outlet samples at native poll resolution, a retention
// sweep, and downsampled range queries. Backed by gorm with a
// pure-Go sqlite driver by default and an optional postgres backend
// for multi-node deployments, exactly as the dialector switch the
// bridge's history store inherited from its teacher repo.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	glebsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/config"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
)

// Store is the single writer for samples; readers (history queries,
// report generation) proceed concurrently against the underlying DB.
type Store struct {
	db  *gorm.DB
	log logging.Logger

	coalesceCount int
	coalesceEvery time.Duration

	mu          sync.Mutex
	pending     []any
	errCount    int
	flushSignal chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Open connects to the configured driver, enables WAL mode for
// sqlite, and migrates the sample/report tables.
func Open(cfg config.DatabaseConfig, hist config.HistoryConfig, log logging.Logger) (*Store, error) {
	var dialector gorm.Dialector
	if cfg.Driver == "postgres" {
		dialector = postgres.Open(cfg.GetDSN())
	} else {
		dsn := cfg.GetDSN()
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "create data dir", err)
			}
		}
		dialector = glebsqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "open history store", err)
	}

	if cfg.Driver != "postgres" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "enable WAL", err)
		}
	}

	if err := db.AutoMigrate(&domain.BankSample{}, &domain.OutletSample{}, &domain.Report{}); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "migrate history store", err)
	}

	coalesceEvery := time.Duration(hist.CoalesceMS) * time.Millisecond
	if coalesceEvery <= 0 {
		coalesceEvery = time.Second
	}
	coalesceCount := hist.CoalesceCount
	if coalesceCount <= 0 {
		coalesceCount = 10
	}

	s := &Store{
		db:            db,
		log:           log.With("component", "history"),
		coalesceCount: coalesceCount,
		coalesceEvery: coalesceEvery,
		flushSignal:   make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// AppendBankSample and AppendOutletSample enqueue one row each; the
// write loop coalesces by count or time, whichever comes first. A
// crash between enqueue and flush loses at most the pending batch —
// no torn rows are ever written.
func (s *Store) AppendBankSample(sample domain.BankSample) {
	s.enqueue(sample)
}

func (s *Store) AppendOutletSample(sample domain.OutletSample) {
	s.enqueue(sample)
}

func (s *Store) enqueue(row any) {
	s.mu.Lock()
	s.pending = append(s.pending, row)
	shouldFlush := len(s.pending) >= s.coalesceCount
	s.mu.Unlock()

	if shouldFlush {
		select {
		case s.flushSignal <- struct{}{}:
		default:
		}
	}
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.coalesceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		case <-s.flushSignal:
			s.flush()
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range batch {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.errCount++
		s.log.Error().Err(err).Int("batch_size", len(batch)).Msg("history write batch failed; samples dropped")
		if s.errCount >= 5 {
			s.reconnect()
		}
		return
	}
	s.errCount = 0
}

func (s *Store) reconnect() {
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	s.log.Warn().Msg("reconnecting history store after repeated write failures")
	// Dropping every idle connection makes the pool open fresh ones
	// for the next batch instead of reusing a broken connection.
	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetMaxIdleConns(2)
	s.errCount = 0
}

// Close flushes any pending batch and stops the write loop.
func (s *Store) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sweep deletes rows older than retentionDays for both sample tables.
// Vacuum/compaction is a separate explicit operation, never automatic.
func (s *Store) Sweep(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if err := s.db.WithContext(ctx).Where("ts < ?", cutoff).Delete(&domain.BankSample{}).Error; err != nil {
		return bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "sweep bank_samples", err)
	}
	if err := s.db.WithContext(ctx).Where("ts < ?", cutoff).Delete(&domain.OutletSample{}).Error; err != nil {
		return bridgeerr.Wrap(bridgeerr.KindHistoryWriteFailed, "sweep outlet_samples", err)
	}
	return nil
}

// Vacuum reclaims space freed by the retention sweep. Explicit, never
// invoked automatically.
func (s *Store) Vacuum(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("VACUUM").Error
}

// SaveReport upserts a report, idempotent by (device_id, week_start).
func (s *Store) SaveReport(ctx context.Context, report domain.Report) error {
	return s.db.WithContext(ctx).
		Where("device_id = ? AND week_start = ?", report.DeviceID, report.WeekStart).
		Assign(report).
		FirstOrCreate(&domain.Report{}).Error
}

// Reports lists reports for a device, most recent first.
func (s *Store) Reports(ctx context.Context, deviceID string) ([]domain.Report, error) {
	var reports []domain.Report
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("week_start DESC").
		Find(&reports).Error
	return reports, err
}

// ReportByID fetches a single report.
func (s *Store) ReportByID(ctx context.Context, id string) (domain.Report, error) {
	var r domain.Report
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if err != nil {
		return domain.Report{}, bridgeerr.Wrap(bridgeerr.KindNotFound, fmt.Sprintf("report %s", id), err)
	}
	return r, nil
}

// RawBankSamples and RawOutletSamples back report generation, which
// needs every sample in the window rather than a downsampled view.
func (s *Store) RawBankSamples(ctx context.Context, deviceID string, start, end time.Time) ([]domain.BankSample, error) {
	var rows []domain.BankSample
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND ts >= ? AND ts < ?", deviceID, start, end).
		Order("ts ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Store) RawOutletSamples(ctx context.Context, deviceID string, start, end time.Time) ([]domain.OutletSample, error) {
	var rows []domain.OutletSample
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND ts >= ? AND ts < ?", deviceID, start, end).
		Order("ts ASC").
		Find(&rows).Error
	return rows, err
}
