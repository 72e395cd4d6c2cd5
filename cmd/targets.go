package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/localcache"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/validation"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage scan targets",
	Long: `Targets added here are kept in the local cache for your tenant and
copied to the server the first time you log in. Use "targets remote" to
list what the server holds.`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets in the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, tenantID, err := tenantContext(ctx, "")
		if err != nil {
			return err
		}

		targets, err := localCache().Targets(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to read local targets: %w", err)
		}
		return render(cmd, targets, func(w io.Writer) error {
			rows := make([][]string, 0, len(targets))
			for _, t := range targets {
				rows = append(rows, []string{t.ID, t.Name, t.URL, formatList(t.InScope), formatTime(t.CreatedAt)})
			}
			return writeTable(w, []string{"ID", "Name", "URL", "In scope", "Created"}, rows)
		})
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a target to the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, tenantID, err := tenantContext(ctx, "targets:write")
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		targetURL, _ := cmd.Flags().GetString("url")
		description, _ := cmd.Flags().GetString("description")
		allowPrivate, _ := cmd.Flags().GetBool("allow-private")

		checked, err := validation.ValidateTarget(targetURL, allowPrivate)
		if err != nil {
			return usageError("%v", err)
		}
		sc, err := targetScope(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, w := range checked.Warnings {
			printWarning(out, "%s", w)
		}
		if len(sc.InScope) > 0 && !sc.Contains(checked.NormalizedURL) {
			printWarning(out, "%s is not covered by the target's in-scope list", checked.Host)
		}
		inScope, outOfScope := sc.Values()

		t, err := localCache().AddTarget(ctx, tenantID, localcache.Target{
			Name:        name,
			URL:         checked.NormalizedURL,
			Description: description,
			InScope:     inScope,
			OutOfScope:  outOfScope,
		})
		if err != nil {
			if errors.Is(err, localcache.ErrInvalidTarget) {
				return usageError("%v", err)
			}
			return fmt.Errorf("failed to add target: %w", err)
		}

		printSuccess(out, "Added target %s (%s)", t.Name, t.ID)
		return nil
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a target and its queue entries from the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, tenantID, err := tenantContext(ctx, "targets:write")
		if err != nil {
			return err
		}

		if err := localCache().RemoveTarget(ctx, tenantID, args[0]); err != nil {
			if errors.Is(err, localcache.ErrTargetNotFound) {
				return usageError("no target %s in the local cache", args[0])
			}
			return fmt.Errorf("failed to remove target: %w", err)
		}
		printSuccess(cmd.OutOrStdout(), "Removed target %s", args[0])
		return nil
	},
}

var targetsRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "List targets stored on the server",
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

		targets, err := client.ListTargets(ctx, listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, targets, func(w io.Writer) error {
			rows := make([][]string, 0, len(targets))
			for _, t := range targets {
				rows = append(rows, []string{t.ID.String(), t.Name, t.URL, formatList(t.InScope), formatTime(t.CreatedAt)})
			}
			return writeTable(w, []string{"ID", "Name", "URL", "In scope", "Created"}, rows)
		})
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsAddCmd)
	targetsCmd.AddCommand(targetsRemoveCmd)
	targetsCmd.AddCommand(targetsRemoteCmd)

	addOutputFlag(targetsListCmd)
	addOutputFlag(targetsRemoteCmd)
	addListFlags(targetsRemoteCmd)

	targetsAddCmd.Flags().String("name", "", "target name")
	targetsAddCmd.Flags().String("url", "", "target URL")
	targetsAddCmd.Flags().String("description", "", "free-form description")
	targetsAddCmd.Flags().StringSlice("in-scope", nil, "in-scope hosts or paths")
	targetsAddCmd.Flags().StringSlice("out-of-scope", nil, "out-of-scope hosts or paths")
	targetsAddCmd.Flags().String("scope-file", "", "read in-scope and out-of-scope entries from a scope file")
	targetsAddCmd.Flags().Bool("allow-private", false, "allow targets on private or local networks")
	targetsAddCmd.MarkFlagRequired("name")
	targetsAddCmd.MarkFlagRequired("url")
}

// tenantContext restores the tenant session and returns its tenant. A
// non-empty permission must be granted unless the user is a tenant admin.
func tenantContext(ctx context.Context, permission string) (*session.Store, int64, error) {
	sess, err := tenantSession(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := requireSession(ctx, sess); err != nil {
		return nil, 0, err
	}
	if permission != "" && !sess.IsTenantAdmin() && !sess.HasPermission(permission) {
		return nil, 0, &notLoggedIn{portal: sess.Kind(), err: session.ErrForbidden}
	}
	tenantID, err := tenantOf(sess)
	if err != nil {
		return nil, 0, err
	}
	return sess, tenantID, nil
}

// targetScope merges the --in-scope/--out-of-scope flags with --scope-file.
func targetScope(cmd *cobra.Command) (*validation.Scope, error) {
	inScope, _ := cmd.Flags().GetStringSlice("in-scope")
	outOfScope, _ := cmd.Flags().GetStringSlice("out-of-scope")
	sc, err := validation.NewScope(inScope, outOfScope)
	if err != nil {
		return nil, usageError("%v", err)
	}

	if path, _ := cmd.Flags().GetString("scope-file"); path != "" {
		fromFile, err := validation.LoadScopeFile(path)
		if err != nil {
			return nil, usageError("%v", err)
		}
		sc.Merge(fromFile)
	}
	return sc, nil
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 50, "maximum number of rows")
	cmd.Flags().Int("offset", 0, "rows to skip")
	cmd.Flags().String("search", "", "filter by text")
}

func listOptions(cmd *cobra.Command) api.ListOptions {
	var opts api.ListOptions
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.Offset, _ = cmd.Flags().GetInt("offset")
	opts.Search, _ = cmd.Flags().GetString("search")
	if f := cmd.Flags().Lookup("tenant"); f != nil {
		opts.TenantID = f.Value.String()
	}
	return opts
}
