package gaze

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CleanupService periodically reaps idle sessions so abandoned trackers
// cannot hold memory forever
type CleanupService struct {
	logger          *logrus.Logger
	manager         *SessionManager
	cleanupInterval time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(logger *logrus.Logger, manager *SessionManager, cleanupInterval time.Duration) *CleanupService {
	if cleanupInterval <= 0 {
		cleanupInterval = 1 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CleanupService{
		logger:          logger,
		manager:         manager,
		cleanupInterval: cleanupInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the cleanup service
func (cs *CleanupService) Start() {
	cs.wg.Add(1)
	go cs.cleanupLoop()
	cs.logger.WithFields(logrus.Fields{
		"cleanup_interval": cs.cleanupInterval,
		"idle_timeout":     cs.manager.idleTimeout,
	}).Info("Session cleanup service started")
}

// Stop gracefully stops the cleanup service
func (cs *CleanupService) Stop(timeout time.Duration) {
	cs.logger.Info("Stopping session cleanup service")
	cs.cancel()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cs.logger.Info("Session cleanup service stopped")
	case <-time.After(timeout):
		cs.logger.Warning("Session cleanup service stop timed out")
	}
}

// cleanupLoop runs the main cleanup loop
func (cs *CleanupService) cleanupLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.performCleanup()
		}
	}
}

// performCleanup performs a cleanup cycle: idle sessions are reaped and
// stopped sessions with a failed final flush get another durable write.
func (cs *CleanupService) performCleanup() {
	start := time.Now()

	reaped := cs.manager.ReapIdleSessions(cs.ctx)
	flushed := cs.manager.RetryUnflushedSessions(cs.ctx)

	if reaped > 0 || flushed > 0 {
		cs.logger.WithFields(logrus.Fields{
			"reaped_sessions":  reaped,
			"flushed_sessions": flushed,
			"duration":         time.Since(start),
		}).Info("Cleanup cycle completed")
	}
}
