// Package sweeper periodically times out payment transactions whose
// callback never arrived.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"rentpay/internal/domain"
)

type TimeoutSweeper interface {
	SweepTimedOut(ctx context.Context) ([]domain.Transaction, error)
}

type Sweeper struct {
	target   TimeoutSweeper
	interval time.Duration
	logger   *zap.Logger
}

func New(target TimeoutSweeper, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{target: target, interval: interval, logger: logger}
}

// Start schedules the sweep and returns immediately. The scheduler shuts
// down when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Pending transaction sweep failed", zap.Error(err))
			}
		}),
		gocron.WithName("pending-timeout-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	sched.Start()
	s.logger.Info("Sweeper started", zap.Duration("interval", s.interval))

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			s.logger.Error("Failed to shut down sweeper", zap.Error(err))
			return
		}
		s.logger.Info("Sweeper stopped")
	}()
	return nil
}

func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	swept, err := s.target.SweepTimedOut(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range swept {
		s.logger.Info("Transaction timed out",
			zap.String("transaction_id", t.ID),
			zap.String("landlord_id", t.LandlordID),
			zap.String("gateway_request_id", t.GatewayRequestID))
	}
	return len(swept), nil
}
