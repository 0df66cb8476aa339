package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentpay/internal/app/transactions"
	"rentpay/internal/repository/callbacks_repo"
	"rentpay/internal/repository/outbox_repo"
	"rentpay/internal/repository/transactions_repo"
)

// sweepCmd runs a single timeout sweep, for cron-driven deployments that
// do not run the in-process sweeper.
func sweepCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Time out pending payments that never received a callback",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := bootstrap(3)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer closeDB(db, logger)

			if olderThan == 0 {
				olderThan = cfg.PendingTimeout
			}
			if olderThan < time.Minute {
				return fmt.Errorf("--older-than must be at least 1m, got %s", olderThan)
			}

			stateMachine := transactions.NewStateMachine(
				db,
				transactions_repo.NewTransactionRepository(),
				callbacks_repo.NewCallbackRepository(),
				outbox_repo.NewOutboxRepository(),
				cfg.KafkaPaymentStatusTopic,
				logger.With(zap.String("component", "TransactionStateMachine")),
			)

			swept, err := stateMachine.SweepTimedOut(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "timed out %d pending payment(s)\n", len(swept))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age after which a pending payment times out (default PENDING_TIMEOUT)")
	return cmd
}
