// services/iotcore/cmd/migrate.go
package cmd

import (
	"fmt"

	"example.com/backstage/services/iotcore/internal/core"
	"example.com/backstage/services/iotcore/internal/infrastructure"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending database migrations to ensure the schema is up to date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations() error {
	logger.Info("Running database migrations...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("Migrating models...")

	models := []interface{}{
		&core.Account{},
		&core.AccountDevice{},
		&core.PasswordResetToken{},
		&core.TelemetryRecord{},
		&core.DeviceRegistration{},
		&core.Plan{},
		&core.Subscription{},
		&core.Tank{},
	}

	for _, model := range models {
		if err := db.DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
		logger.Infof("Migrated %T", model)
	}

	if err := seedDefaultData(db); err != nil {
		logger.WithError(err).Warn("Failed to seed default data")
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

func seedDefaultData(db *infrastructure.Database) error {
	// Seed an admin account on a fresh database so the API is usable.
	var count int64
	if err := db.DB.Model(&core.Account{}).Count(&count).Error; err != nil {
		return err
	}

	if count == 0 {
		logger.Info("Seeding admin account...")

		hash, err := bcrypt.GenerateFromPassword([]byte("ChangeMe!123"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		admin := core.Account{
			AccountCode: "USER-SEED-000001",
			Name:        "Administrator",
			Email:       "admin@localhost",
			Phone:       "0000000000",
			Password:    string(hash),
			Role:        core.RoleAdmin,
			AccessLevel: core.AccessFull,
			Status:      core.StatusActive,
		}
		if err := db.DB.Create(&admin).Error; err != nil {
			return err
		}
		logger.WithField("email", admin.Email).Info("Created admin account")
	}

	// Seed the plan catalog if empty.
	if err := db.DB.Model(&core.Plan{}).Count(&count).Error; err != nil {
		return err
	}

	if count == 0 {
		logger.Info("Seeding default plans...")

		plans := []core.Plan{
			{Plan: "basic", Profile: "home", Period: "monthly", Amount: 99},
			{Plan: "standard", Profile: "home", Period: "yearly", Amount: 999},
			{Plan: "enterprise", Profile: "commercial", Period: "yearly", Amount: 4999},
		}
		for _, plan := range plans {
			if err := db.DB.Create(&plan).Error; err != nil {
				logger.WithError(err).WithField("plan", plan.Plan).Warn("Failed to create plan")
			} else {
				logger.WithField("plan", plan.Plan).Info("Created plan")
			}
		}
	}

	return nil
}
