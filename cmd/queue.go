package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/localcache"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the scan queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries in the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, tenantID, err := tenantContext(ctx, "")
		if err != nil {
			return err
		}

		pendingOnly, _ := cmd.Flags().GetBool("pending")
		cache := localCache()
		var queue []localcache.QueueEntry
		if pendingOnly {
			queue, err = cache.PendingQueue(ctx, tenantID)
		} else {
			queue, err = cache.Queue(ctx, tenantID)
		}
		if err != nil {
			return fmt.Errorf("failed to read local queue: %w", err)
		}

		return render(cmd, queue, func(w io.Writer) error {
			rows := make([][]string, 0, len(queue))
			for _, e := range queue {
				rows = append(rows, []string{
					e.ID, e.TargetID, formatTime(e.ScheduledAt), strconv.Itoa(e.Priority),
					e.ScanType, colorStatus(string(e.Status)),
				})
			}
			return writeTable(w, []string{"ID", "Target", "Scheduled", "Priority", "Scan", "Status"}, rows)
		})
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a scan for a target in the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, tenantID, err := tenantContext(ctx, "queue:write")
		if err != nil {
			return err
		}

		targetID, _ := cmd.Flags().GetString("target")
		at, _ := cmd.Flags().GetString("at")
		priority, _ := cmd.Flags().GetInt("priority")
		scanType, _ := cmd.Flags().GetString("scan-type")

		scheduled, err := parseSchedule(at, time.Now())
		if err != nil {
			return err
		}

		e, err := localCache().AddQueueEntry(ctx, tenantID, localcache.QueueEntry{
			TargetID:    targetID,
			ScheduledAt: scheduled,
			Priority:    priority,
			ScanType:    scanType,
		})
		if err != nil {
			switch {
			case errors.Is(err, localcache.ErrTargetNotFound):
				return usageError("no target %s in the local cache", targetID)
			case errors.Is(err, localcache.ErrInvalidEntry):
				return usageError("%v", err)
			}
			return fmt.Errorf("failed to add queue entry: %w", err)
		}

		printSuccess(cmd.OutOrStdout(), "Scheduled %s for %s", e.ID, formatTime(e.ScheduledAt))
		return nil
	},
}

var queueRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "List queue entries stored on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, _, err := tenantContext(ctx, "")
		if err != nil {
			return err
		}
		client, err := apiClient(sess)
		if err != nil {
			return err
		}

		queue, err := client.ListQueue(ctx, listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, queue, func(w io.Writer) error {
			rows := make([][]string, 0, len(queue))
			for _, e := range queue {
				rows = append(rows, []string{
					e.ID.String(), e.TargetID.String(), formatTime(e.ScheduledAt),
					strconv.Itoa(e.Priority), e.ScanType, colorStatus(e.Status),
				})
			}
			return writeTable(w, []string{"ID", "Target", "Scheduled", "Priority", "Scan", "Status"}, rows)
		})
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueRemoteCmd)

	addOutputFlag(queueListCmd)
	addOutputFlag(queueRemoteCmd)
	addListFlags(queueRemoteCmd)
	queueListCmd.Flags().Bool("pending", false, "only show entries that have not run yet")

	queueAddCmd.Flags().String("target", "", "local target id")
	queueAddCmd.Flags().String("at", "", "when to run: RFC3339 time or a delay such as 2h (default now)")
	queueAddCmd.Flags().Int("priority", 0, "higher runs first")
	queueAddCmd.Flags().String("scan-type", "", "scan profile name")
	queueAddCmd.MarkFlagRequired("target")
}

// parseSchedule accepts an RFC3339 time or a delay relative to now.
func parseSchedule(at string, now time.Time) (time.Time, error) {
	if at == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(at)
	if err != nil || d < 0 {
		return time.Time{}, usageError("invalid --at %q: use an RFC3339 time or a delay such as 2h", at)
	}
	return now.Add(d).UTC(), nil
}
