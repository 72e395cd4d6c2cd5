package cmd

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the local target and queue cache to the server",
	Long: `Copies targets and pending queue entries kept on this machine to the
server. This normally happens once, right after login; running it again is
a no-op once the migration has completed on this profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		statusOnly, _ := cmd.Flags().GetBool("status")

		sess, tenantID, err := tenantContext(ctx, "")
		if err != nil {
			return err
		}
		client, err := apiClient(sess)
		if err != nil {
			return err
		}
		m := migration.New(profile, localCache(), client,
			migration.WithLogger(log),
			migration.WithTelemetry(tel),
		)

		if statusOnly {
			st, err := m.Status(ctx)
			if err != nil {
				return err
			}
			return render(cmd, st, func(w io.Writer) error {
				if !st.Completed {
					printInfo(w, "Local cache has not been migrated yet.")
					return nil
				}
				printSuccess(w, "Migration completed %s", formatTime(st.CompletedAt))
				return nil
			})
		}

		ctx, stop := shutdownHandler.Context(ctx)
		defer stop()

		report, err := m.Run(ctx, tenantID)
		if err != nil {
			return err
		}
		return render(cmd, report, func(w io.Writer) error {
			if report.AlreadyMigrated {
				printInfo(w, "Local cache was already migrated. Nothing to do.")
				return nil
			}
			if err := writeTable(w, []string{"Kind", "Migrated", "Failed", "Skipped"}, [][]string{
				{"targets", strconv.Itoa(report.TargetsMigrated), strconv.Itoa(report.TargetsFailed), "0"},
				{"queue", strconv.Itoa(report.QueueMigrated), strconv.Itoa(report.QueueFailed), strconv.Itoa(report.QueueSkipped)},
			}); err != nil {
				return err
			}
			if report.Partial() {
				printWarning(w, "Some items could not be migrated. They stay in the local cache; see the log for details.")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "only report whether the migration has run")
	addOutputFlag(migrateCmd)
}
