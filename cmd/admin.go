package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Super-admin portal",
	Long: `Commands for the super-admin portal. The admin session is separate from
the tenant session: logging in here never signs you in to a tenant, and
only super_admin accounts are accepted.`,
}

var adminLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the super-admin portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := adminSession(cmd.Context())
		if err != nil {
			return err
		}
		return runLogin(cmd, sess, loginFlags(cmd))
	},
}

var adminLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the super-admin session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := adminSession(cmd.Context())
		if err != nil {
			return err
		}
		return runLogout(cmd, sess)
	},
}

var adminWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in super admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := adminSession(cmd.Context())
		if err != nil {
			return err
		}
		return runWhoami(cmd, sess)
	},
}

var adminLocalCacheCmd = &cobra.Command{
	Use:   "local-cache",
	Short: "Show which tenants still have data cached on this machine",
	Long: `Lists the tenant namespaces in the local profile with their target and
queue counts. Nothing is sent to the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := adminSession(ctx)
		if err != nil {
			return err
		}
		if err := requireSession(ctx, sess, token.RoleSuperAdmin); err != nil {
			return err
		}
		summaries, err := localCache().Summaries(ctx)
		if err != nil {
			return err
		}
		return render(cmd, summaries, func(w io.Writer) error {
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					strconv.FormatInt(s.TenantID, 10),
					strconv.Itoa(s.Targets),
					strconv.Itoa(s.Queue),
					strconv.Itoa(s.Pending),
				})
			}
			return writeTable(w, []string{"Tenant", "Targets", "Queue", "Pending"}, rows)
		})
	},
}

var adminTenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		tenants, err := client.ListTenants(cmd.Context(), listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, tenants, func(w io.Writer) error {
			rows := make([][]string, 0, len(tenants))
			for _, t := range tenants {
				rows = append(rows, []string{t.ID.String(), t.Name, t.Domain, colorBool(t.IsActive), formatTime(t.CreatedAt)})
			}
			return writeTable(w, []string{"ID", "Name", "Domain", "Active", "Created"}, rows)
		})
	},
}

var adminUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users across tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		users, err := client.ListUsers(cmd.Context(), listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, users, func(w io.Writer) error {
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				tenant := "-"
				if u.TenantID != nil {
					tenant = u.TenantID.String()
				}
				lastLogin := "-"
				if u.LastLogin != nil {
					lastLogin = formatTime(*u.LastLogin)
				}
				rows = append(rows, []string{
					u.ID.String(), u.Email, colorRole(u.Role), tenant,
					colorBool(u.IsActive), colorBool(u.MFAEnabled), lastLogin,
				})
			}
			return writeTable(w, []string{"ID", "Email", "Role", "Tenant", "Active", "MFA", "Last login"}, rows)
		})
	},
}

var adminAuditLogsCmd = &cobra.Command{
	Use:   "audit-logs",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := client.ListAuditLogs(cmd.Context(), listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, entries, func(w io.Writer) error {
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				resource := e.ResourceType
				if e.ResourceID != "" {
					resource += "/" + e.ResourceID
				}
				rows = append(rows, []string{formatTime(e.Timestamp), e.UserEmail, e.Action, resource})
			}
			return writeTable(w, []string{"Time", "User", "Action", "Resource"}, rows)
		})
	},
}

var adminAccessLogsCmd = &cobra.Command{
	Use:   "access-logs",
	Short: "List API access log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := client.ListAccessLogs(cmd.Context(), listOptions(cmd))
		if err != nil {
			return err
		}
		return render(cmd, entries, func(w io.Writer) error {
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					formatTime(e.Timestamp), e.UserEmail, e.IPAddress, e.Method, e.Path, strconv.Itoa(e.StatusCode),
				})
			}
			return writeTable(w, []string{"Time", "User", "IP", "Method", "Path", "Status"}, rows)
		})
	},
}

var adminSSOConfigCmd = &cobra.Command{
	Use:   "sso-config <tenant-id>",
	Short: "Show a tenant's SSO configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		sso, err := client.TenantSSOConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, sso, func(w io.Writer) error {
			return writeFields(w, map[string]string{
				"Tenant":           sso.TenantID.String(),
				"Provider":         sso.Provider,
				"Enabled":          colorBool(sso.Enabled),
				"Entity ID":        sso.EntityID,
				"SSO URL":          sso.SSOURL,
				"Client ID":        sso.ClientID,
				"Issuer":           sso.Issuer,
				"JIT provisioning": colorBool(sso.JITProvisioning),
				"Default role":     sso.DefaultRole,
			})
		})
	},
}

var adminKMSConfigCmd = &cobra.Command{
	Use:   "kms-config <tenant-id>",
	Short: "Show a tenant's key management configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := adminClient(cmd.Context())
		if err != nil {
			return err
		}
		kms, err := client.TenantKMSConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, kms, func(w io.Writer) error {
			rotated := "-"
			if kms.LastRotated != nil {
				rotated = formatTime(*kms.LastRotated)
			}
			return writeFields(w, map[string]string{
				"Tenant":       kms.TenantID.String(),
				"Provider":     kms.Provider,
				"Key ID":       kms.KeyID,
				"Region":       kms.Region,
				"BYOK":         colorBool(kms.BYOK),
				"Enabled":      colorBool(kms.Enabled),
				"Last rotated": rotated,
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminLoginCmd)
	adminCmd.AddCommand(adminLogoutCmd)
	adminCmd.AddCommand(adminWhoamiCmd)
	adminCmd.AddCommand(adminTenantsCmd)
	adminCmd.AddCommand(adminUsersCmd)
	adminCmd.AddCommand(adminAuditLogsCmd)
	adminCmd.AddCommand(adminAccessLogsCmd)
	adminCmd.AddCommand(adminSSOConfigCmd)
	adminCmd.AddCommand(adminKMSConfigCmd)
	adminCmd.AddCommand(adminLocalCacheCmd)

	addLoginFlags(adminLoginCmd)
	addOutputFlag(adminWhoamiCmd)

	for _, c := range []*cobra.Command{adminTenantsCmd, adminUsersCmd, adminAuditLogsCmd, adminAccessLogsCmd} {
		addOutputFlag(c)
		addListFlags(c)
	}
	for _, c := range []*cobra.Command{adminUsersCmd, adminAuditLogsCmd, adminAccessLogsCmd} {
		c.Flags().String("tenant", "", "only rows for this tenant id")
	}
	addOutputFlag(adminSSOConfigCmd)
	addOutputFlag(adminKMSConfigCmd)
	addOutputFlag(adminLocalCacheCmd)
}

// adminClient restores the super-admin session and returns a client bound
// to it.
func adminClient(ctx context.Context) (*api.Client, error) {
	sess, err := adminSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireSession(ctx, sess, token.RoleSuperAdmin); err != nil {
		return nil, err
	}
	return apiClient(sess)
}

// writeFields renders a single record as a two-column table, skipping
// empty values.
func writeFields(w io.Writer, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fields[k]})
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No configuration.")
		return err
	}
	return writeTable(w, []string{"Field", "Value"}, rows)
}
