package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

const (
	DefaultCleanupInterval = 24 * time.Hour
	cleanupTimeout         = 10 * time.Minute
)

// Config controls the background maintenance of the webhook log.
type Config struct {
	RetentionDays   int
	CleanupInterval time.Duration
	// Archiver is optional. When set, partitions are archived before removal.
	Archiver webhooklog.Archiver
	Now      func() time.Time
}

// Manager runs the periodic webhook log retention cleanup.
type Manager struct {
	store *webhooklog.Store
	cfg   Config

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

func NewManager(store *webhooklog.Store, cfg Config) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = webhooklog.DefaultRetentionDays
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: store, cfg: cfg}
}

// Start runs one cleanup right away and then one per interval.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Infof("[Housekeeping] Starting log cleanup (retention: %d days, interval: %s, archive: %t)",
		m.cfg.RetentionDays, m.cfg.CleanupInterval, m.cfg.Archiver != nil)

	m.cleanupTicker = time.NewTicker(m.cfg.CleanupInterval)
	m.wg.Add(1)
	go m.cleanupWorker(m.stopCh)
}

// Stop stops the worker and waits for a running cleanup to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Housekeeping] Stopping background tasks...")
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	log.Info("[Housekeeping] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) cleanupWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	m.runAndLog()

	for {
		select {
		case <-stopCh:
			log.Info("[Housekeeping] Cleanup worker stopping")
			return
		case <-m.cleanupTicker.C:
			m.runAndLog()
		}
	}
}

func (m *Manager) runAndLog() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	removed, err := m.RunCleanupOnce(ctx)
	if err != nil {
		log.Errorf("[Housekeeping] Log cleanup finished with errors: %v", err)
	}
	if len(removed) > 0 {
		log.Infof("[Housekeeping] Removed %d log partition(s)", len(removed))
	}
}

// RunCleanupOnce applies the retention policy once.
func (m *Manager) RunCleanupOnce(ctx context.Context) ([]webhooklog.Partition, error) {
	return m.store.Cleanup(ctx, m.cfg.Now(), m.cfg.RetentionDays, m.cfg.Archiver)
}
