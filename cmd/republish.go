// services/iotcore/cmd/republish.go
package cmd

import (
	"context"
	"fmt"

	"example.com/backstage/services/iotcore/internal/core"
	"example.com/backstage/services/iotcore/internal/infrastructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	republishLimit  int
	republishDryRun bool
)

var republishCmd = &cobra.Command{
	Use:   "republish",
	Short: "Re-forward stored telemetry that never reached the queue",
	Long: `Re-forwards telemetry records whose downstream delivery failed.
Useful for recovering after a Service Bus outage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepublish()
	},
}

func init() {
	rootCmd.AddCommand(republishCmd)

	republishCmd.Flags().IntVarP(&republishLimit, "limit", "l", 1000, "Maximum number of records to process")
	republishCmd.Flags().BoolVar(&republishDryRun, "dry-run", false, "Show what would be republished without sending")
}

func runRepublish() error {
	logger.Info("Starting telemetry republish...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	repo := core.NewRepository(db.DB)
	ctx := context.Background()

	if republishDryRun {
		records, err := repo.ListUnforwardedTelemetry(ctx, republishLimit)
		if err != nil {
			return fmt.Errorf("failed to list pending records: %w", err)
		}

		logger.Infof("DRY RUN: %d records pending", len(records))
		for i, record := range records {
			if i >= 10 {
				logger.Infof("... and %d more records", len(records)-10)
				break
			}
			logger.WithFields(logrus.Fields{
				"record_id": record.ID,
				"device_id": record.DeviceID,
				"data_type": record.DataType,
				"timestamp": record.Timestamp,
			}).Info("Would republish record")
		}
		return nil
	}

	messaging, err := infrastructure.NewMessaging(cfg.ServiceBus)
	if err != nil {
		return fmt.Errorf("messaging connection failed: %w", err)
	}
	defer messaging.Close()

	telemetry := core.NewTelemetryService(repo, messaging, nil, logger, cfg.Gateways.TenantID)

	sent, err := telemetry.Republish(ctx, republishLimit)
	if err != nil {
		return fmt.Errorf("republish failed: %w", err)
	}

	logger.WithField("sent", sent).Info("Republish completed")
	return nil
}
