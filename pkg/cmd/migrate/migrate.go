package migrate

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/config"
	dbmigrate "github.com/mpapenbr/simcoach/pkg/db/migrate"
	"github.com/mpapenbr/simcoach/pkg/utils"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "creates or updates the schema used by the postgres sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMigration(cmd.Context())
		},
	}
	return cmd
}

func startMigration(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// wait for database
	if postgresAddr := utils.ExtractFromDBURL(config.DB); postgresAddr != "" {
		if err := utils.WaitForTCP(ctx, postgresAddr, config.ServiceTimeout()); err != nil {
			log.Error("database not ready", log.ErrorField(err))
			return err
		}
	}
	if err := dbmigrate.MigrateDB(config.DB); err != nil {
		log.Error("migration failed", log.ErrorField(err))
		return err
	}
	version, dirty, err := dbmigrate.Version(config.DB)
	if err != nil {
		return err
	}
	log.Info("Database schema is up to date",
		log.Uint64("version", uint64(version)), log.Bool("dirty", dirty))
	return nil
}
