/*
scheduler.go - Promo code status reconciliation

PURPOSE:
  Periodically writes the date-window status of promo codes back to storage
  so listings and reports agree with what evaluation already enforces.
  Evaluation never depends on this job: EffectiveStatus overlays the window
  on every read.

RULES:
  - Stored ACTIVE or SCHEDULED, window ended     -> EXPIRED
  - Stored SCHEDULED with a start date reached   -> ACTIVE
  - PAUSED and EXPIRED codes are never touched

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each update goes through promo.Service.SetStatus (versioned, one retry)
  - A lost race is logged and picked up on the next tick

USAGE:
  scheduler := NewStatusScheduler(promos, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - promo/evaluator.go: EffectiveStatus
  - promo/redeem.go: SetStatus
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/promo"
)

// StatusScheduler reconciles stored promo statuses with their date windows.
type StatusScheduler struct {
	Promos        *promo.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// ReconcileResult counts the outcome of one pass.
type ReconcileResult struct {
	Expired   int
	Activated int
	Failed    int
}

func NewStatusScheduler(promos *promo.Service, logger *zap.Logger) *StatusScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusScheduler{
		Promos:        promos,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *StatusScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("promo status scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("promo status scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *StatusScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("promo status scheduler stopped")
}

func (s *StatusScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one reconciliation pass.
func (s *StatusScheduler) RunNow(ctx context.Context) ReconcileResult {
	var result ReconcileResult

	codes, err := s.Promos.List(ctx)
	if err != nil {
		s.Logger.Error("promo status scheduler: list codes", zap.Error(err))
		return result
	}

	for _, pc := range codes {
		target, ok := reconciledStatus(pc, s.Promos.EffectiveStatusNow(pc))
		if !ok {
			continue
		}
		if _, err := s.Promos.SetStatus(ctx, pc.Code, target); err != nil {
			result.Failed++
			s.Logger.Warn("promo status scheduler: update failed",
				zap.String("code", pc.Code),
				zap.String("target", string(target)),
				zap.Error(err))
			continue
		}
		if target == promo.StatusExpired {
			result.Expired++
		} else {
			result.Activated++
		}
	}

	if result.Expired > 0 || result.Activated > 0 || result.Failed > 0 {
		s.Logger.Info("promo status scheduler pass complete",
			zap.Int("expired", result.Expired),
			zap.Int("activated", result.Activated),
			zap.Int("failed", result.Failed))
	}
	return result
}

// reconciledStatus returns the status to persist, if any.
func reconciledStatus(pc promo.PromoCode, effective promo.Status) (promo.Status, bool) {
	switch pc.Status {
	case promo.StatusActive:
		if effective == promo.StatusExpired {
			return promo.StatusExpired, true
		}
	case promo.StatusScheduled:
		switch effective {
		case promo.StatusExpired:
			return promo.StatusExpired, true
		case promo.StatusActive:
			return promo.StatusActive, true
		}
	}
	return "", false
}
