package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/authflow"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/browser"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/migration"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
)

// maxCodeAttempts bounds how often a rejected TOTP code is asked for again.
const maxCodeAttempts = 3

var errSSOCancelled = errors.New("SSO login cancelled")

type loginOptions struct {
	email         string
	sso           bool
	recoveryCodes string
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the tenant portal",
	Long: `Sign in with email and password, then a TOTP code if your account has MFA.
Accounts that must set up MFA are walked through enrollment. With --sso the
sign-in happens at your organisation's identity provider instead.

After the first successful login, targets and queue entries kept in the
local cache are copied to the server once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loginFlags(cmd)
		sess, err := tenantSession(cmd.Context())
		if err != nil {
			return err
		}
		return runLogin(cmd, sess, opts)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the tenant session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := tenantSession(cmd.Context())
		if err != nil {
			return err
		}
		return runLogout(cmd, sess)
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in tenant user",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := tenantSession(cmd.Context())
		if err != nil {
			return err
		}
		return runWhoami(cmd, sess)
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	addLoginFlags(loginCmd)
	loginCmd.Flags().Bool("sso", false, "sign in through your organisation's identity provider")
	loginCmd.Flags().Bool("skip-migration", false, "do not copy the local cache to the server after login")
	addOutputFlag(whoamiCmd)
}

func addLoginFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "account email (prompted when empty)")
	cmd.Flags().String("save-recovery-codes", "", "write MFA recovery codes to this file during enrollment")
}

func loginFlags(cmd *cobra.Command) loginOptions {
	var opts loginOptions
	opts.email, _ = cmd.Flags().GetString("email")
	opts.recoveryCodes, _ = cmd.Flags().GetString("save-recovery-codes")
	if cmd.Flags().Lookup("sso") != nil {
		opts.sso, _ = cmd.Flags().GetBool("sso")
	}
	if skip, _ := cmd.Flags().GetBool("skip-migration"); skip {
		cfg.Auth.SkipMigration = true
	}
	return opts
}

func runLogin(cmd *cobra.Command, sess *session.Store, opts loginOptions) error {
	ctx, stop := shutdownHandler.Context(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	ctrl, err := newController(sess, out)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	// Ctrl-C also closes a Chrome window opened for SSO
	shutdownHandler.RegisterShutdownFunc(ctrl.Close)

	p := newPrompter(cmd.InOrStdin(), out)
	email := strings.TrimSpace(opts.email)
	if email == "" {
		if email, err = p.line("Email"); err != nil {
			return err
		}
	}

	if opts.sso {
		return runSSOLogin(ctx, out, ctrl, email)
	}

	password, err := p.secret("Password")
	if err != nil {
		return err
	}

	state, err := ctrl.SubmitCredentials(ctx, email, password)
	attempts := 0
	for {
		switch s := state.(type) {
		case authflow.Authenticated:
			printAuthenticated(out, s)
			return nil

		case authflow.Credentials:
			if err == nil {
				err = s.Err
			}
			if err == nil {
				err = errors.New("login did not complete")
			}
			return err

		case authflow.MFA:
			if err != nil {
				if attempts++; attempts >= maxCodeAttempts {
					return err
				}
				printWarning(out, "%s", api.UserMessage(err))
			}
			code, perr := p.secret("Authentication code")
			if perr != nil {
				return perr
			}
			state, err = ctrl.SubmitMFACode(ctx, code)

		case authflow.Enrollment:
			if err != nil {
				if attempts++; attempts >= maxCodeAttempts {
					return err
				}
				printWarning(out, "%s", api.UserMessage(err))
			}
			state, err = stepEnrollment(ctx, out, p, ctrl, s, opts.recoveryCodes)

		default:
			return fmt.Errorf("unexpected login state %q", state.Name())
		}
	}
}

func newController(sess *session.Store, out io.Writer) (*authflow.Controller, error) {
	client, err := apiClient(nil)
	if err != nil {
		return nil, err
	}

	opts := []authflow.Option{
		authflow.WithLogger(log),
		authflow.WithTelemetry(tel),
		authflow.WithPollInterval(cfg.Auth.SSOPollInterval),
		authflow.WithSSOTimeout(cfg.Auth.SSOTimeout),
	}

	if sess.Kind() == session.KindTenant {
		opener, err := browser.New(cfg.Browser, out, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, authflow.WithOpener(opener))

		if !cfg.Auth.SkipMigration {
			authed := client.WithSession(sess)
			opts = append(opts, authflow.WithMigrator(migration.New(profile, localCache(), authed,
				migration.WithLogger(log),
				migration.WithTelemetry(tel),
			)))
		}
	}

	return authflow.New(client, sess, opts...), nil
}

func stepEnrollment(ctx context.Context, out io.Writer, p *prompter, ctrl *authflow.Controller, en authflow.Enrollment, savePath string) (authflow.State, error) {
	switch en.Step {
	case authflow.StepShowCode:
		printInfo(out, "Your account requires two-factor authentication.")
		fmt.Fprintf(out, "Add this key to your authenticator app:\n\n  %s\n\n", en.Payload.Secret)
		if savePath != "" {
			if qr, err := saveQRCode(savePath+".png", en.Payload.QRCode); err != nil {
				printWarning(out, "Could not save QR code: %v", err)
			} else if qr {
				fmt.Fprintf(out, "QR code written to %s.png\n", savePath)
			}
		}
		return ctrl.NextEnrollmentStep()

	case authflow.StepShowRecoveryCodes:
		if len(en.Payload.BackupCodes) > 0 {
			fmt.Fprintln(out, "Recovery codes (each works once, keep them somewhere safe):")
			for _, code := range en.Payload.BackupCodes {
				fmt.Fprintf(out, "  %s\n", code)
			}
			fmt.Fprintln(out)
		}
		if savePath != "" {
			if err := saveRecoveryCodes(savePath, en.Payload); err != nil {
				printWarning(out, "Could not save recovery codes: %v", err)
			} else {
				fmt.Fprintf(out, "Recovery codes written to %s\n", savePath)
			}
		}
		return ctrl.NextEnrollmentStep()

	default:
		code, err := p.secret("Code from your authenticator app")
		if err != nil {
			return en, err
		}
		return ctrl.SubmitEnrollmentCode(ctx, code)
	}
}

func runSSOLogin(ctx context.Context, out io.Writer, ctrl *authflow.Controller, email string) error {
	poll, err := ctrl.StartSSO(ctx, email)
	if err != nil {
		return err
	}

	if sso, ok := ctrl.State().(authflow.SSO); ok {
		if cfg.Browser.Mode == "chrome" {
			fmt.Fprintf(out, "If the browser did not open, visit:\n\n  %s\n\n", sso.RedirectURL)
		}
		provider := sso.Provider
		if provider == "" {
			provider = sso.TenantIdentifier
		}
		printInfo(out, "Waiting for sign-in at %s", provider)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := poll.Wait(gctx)
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Auth.SSOPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-poll.Done():
				fmt.Fprintln(out)
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				fmt.Fprint(out, ".")
			}
		}
	})
	if err := g.Wait(); err != nil {
		poll.Cancel()
		return errSSOCancelled
	}

	switch s := ctrl.State().(type) {
	case authflow.Authenticated:
		printAuthenticated(out, s)
		return nil
	case authflow.Credentials:
		if s.Err != nil {
			return s.Err
		}
	}
	return errSSOCancelled
}

func printAuthenticated(out io.Writer, s authflow.Authenticated) {
	id := s.Identity
	if id.TenantID != nil {
		tenant := id.TenantName
		if tenant == "" {
			tenant = fmt.Sprintf("tenant %d", *id.TenantID)
		}
		printSuccess(out, "Logged in as %s (%s) at %s", id.Email, id.Role, tenant)
	} else {
		printSuccess(out, "Logged in as %s (%s)", id.Email, id.Role)
	}

	r := s.Migration
	if r == nil || r.AlreadyMigrated {
		return
	}
	if r.TargetsMigrated+r.QueueMigrated > 0 {
		printSuccess(out, "Moved %d targets and %d queue entries from this machine to the server",
			r.TargetsMigrated, r.QueueMigrated)
	}
	if r.Partial() {
		printWarning(out, "%d targets and %d queue entries could not be moved (see the log for details)",
			r.TargetsFailed, r.QueueFailed+r.QueueSkipped)
	}
}

func runLogout(cmd *cobra.Command, sess *session.Store) error {
	out := cmd.OutOrStdout()
	if !sess.IsAuthenticated() {
		fmt.Fprintln(out, "Not logged in.")
		return nil
	}
	if err := sess.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	printSuccess(out, "Logged out")
	return nil
}

type whoamiView struct {
	session.Identity `yaml:",inline"`
	Portal           session.Kind `json:"portal" yaml:"portal"`
	ExpiresAt        time.Time    `json:"expires_at" yaml:"expires_at"`
}

func runWhoami(cmd *cobra.Command, sess *session.Store) error {
	if err := requireSession(cmd.Context(), sess); err != nil {
		return err
	}
	id, _ := sess.Identity()
	view := whoamiView{Identity: id, Portal: sess.Kind(), ExpiresAt: sess.ExpiresAt()}

	return render(cmd, view, func(w io.Writer) error {
		tenant := "-"
		if id.TenantID != nil {
			tenant = fmt.Sprintf("%d", *id.TenantID)
			if id.TenantName != "" {
				tenant = fmt.Sprintf("%s (%d)", id.TenantName, *id.TenantID)
			}
		}
		return writeTable(w, []string{"Field", "Value"}, [][]string{
			{"Email", id.Email},
			{"Role", colorRole(string(id.Role))},
			{"Tenant", tenant},
			{"Permissions", formatList(id.Permissions)},
			{"Portal", string(sess.Kind())},
			{"Expires", formatTime(view.ExpiresAt)},
		})
	})
}

func saveRecoveryCodes(path string, payload api.MFAEnrollment) error {
	var b strings.Builder
	fmt.Fprintf(&b, "secret: %s\n", payload.Secret)
	for _, code := range payload.BackupCodes {
		fmt.Fprintln(&b, code)
	}
	return os.WriteFile(path, []byte(b.String()), 0600)
}

// saveQRCode writes a data:image/png;base64 payload to path. It reports
// false when the payload is not an inline PNG.
func saveQRCode(path, qr string) (bool, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(qr, prefix) {
		return false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qr, prefix))
	if err != nil {
		return false, fmt.Errorf("invalid QR payload: %w", err)
	}
	return true, os.WriteFile(path, raw, 0600)
}
