package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/activitylog-backend/internal/app"
)

func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup IDENT...",
		Short: "Erase everything stored about the given persons",
		Long: `Delete the persons' activities, context links, source events and person rows,
then their documents in the search index when one is configured.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, rootOpts, func(a *app.App) error {
				for _, ident := range args {
					if err := a.Services.Cleaner.DeletePerson(ctx, ident); err != nil {
						return err
					}
				}
				return printResult(cmd.OutOrStdout(), rootOpts, map[string]int{"erased": len(args)}, func(w io.Writer) {
					fmt.Fprintf(w, "%d persons erased\n", len(args))
				})
			})
		},
	}
}
