// Package backup snapshots the engine's storage to timestamped files, either
// on demand or on a fixed interval.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sutrapulse/aa-engine/pkg/logger"
	"github.com/sutrapulse/aa-engine/storage"
)

type Service struct {
	logger    logger.Logger
	db        storage.Storage
	backupDir string
	running   bool
	stop      chan struct{}
}

func NewService(log logger.Logger, db storage.Storage, backupDir string) *Service {
	return &Service{
		logger:    logger.EnsureLogger(log),
		db:        db,
		backupDir: backupDir,
		stop:      make(chan struct{}),
	}
}

// StartPeriodicBackup snapshots on every tick until StopPeriodicBackup.
func (s *Service) StartPeriodicBackup(interval time.Duration) error {
	if s.running {
		return fmt.Errorf("backup service already running")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	s.running = true
	go s.backupLoop(interval)
	s.logger.Infof("periodic backup every %v to %s", interval, s.backupDir)
	return nil
}

func (s *Service) StopPeriodicBackup() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

func (s *Service) backupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if file, err := s.PerformBackup(context.Background()); err != nil {
				s.logger.Errorf("periodic backup failed: %v", err)
			} else {
				s.logger.Infof("periodic backup written to %s", file)
			}
		case <-s.stop:
			return
		}
	}
}

// PerformBackup writes one full snapshot and returns its path.
func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	dir := filepath.Join(s.backupDir, time.Now().Format("06-01-02-15-04"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	file := filepath.Join(dir, "full-backup.db")
	f, err := os.Create(file)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation: %w", err)
	}
	return file, nil
}
