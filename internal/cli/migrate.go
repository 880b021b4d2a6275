package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/activitylog-backend/internal/app"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			cfg.Postgres.AutoMigrate = false
			a, err := app.New(ctx, log, cfg)
			if err != nil {
				log.Sync()
				return err
			}
			defer a.Close(ctx)
			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
