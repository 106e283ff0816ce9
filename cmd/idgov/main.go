// Command idgov manages identity-governance environments and their
// credentials: registration, login over OAuth or client credentials,
// disconnect and status.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Anneragh/ui-development-kit-sub001/internal/api"
	"github.com/Anneragh/ui-development-kit-sub001/internal/auth"
	"github.com/Anneragh/ui-development-kit-sub001/internal/config"
	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
	"github.com/Anneragh/ui-development-kit-sub001/internal/logging"
	"github.com/Anneragh/ui-development-kit-sub001/internal/secret"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything the commands share. It is built once per invocation
// after flag parsing.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	secrets  *secret.Store
	registry *environments.Registry
	orch     *auth.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)

	enc, err := newEncryptor(cfg)
	if err != nil {
		return nil, err
	}

	secrets, err := secret.Open(cfg.SecretDBPath(), enc)
	if err != nil {
		return nil, err
	}

	registry, err := environments.Load(cfg.EnvironmentsPath(), secrets)
	if err != nil {
		secrets.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := api.NewClient(httpClient)
	relay := api.NewRelay(cfg.RelayURL, client)

	session := auth.NewSessionHandle()
	oauthFlow := auth.NewOAuthFlow(secrets, relay, auth.SystemLauncher{}, logger)
	patFlow := auth.NewPATFlow(secrets, httpClient, logger)
	lifecycle := auth.NewTokenLifecycle(secrets, client, oauthFlow, patFlow, session, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		secrets:  secrets,
		registry: registry,
		orch:     auth.NewOrchestrator(registry, lifecycle, oauthFlow, patFlow, session, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.secrets.Close(); err != nil {
		a.logger.Warn("closing secret store", slog.String("error", err.Error()))
	}
}

func newEncryptor(cfg *config.Config) (secret.Encryptor, error) {
	switch cfg.SecretBackend {
	case "passphrase":
		return secret.NewPassphraseEncryptor(cfg.Passphrase, filepath.Join(cfg.ConfigDir, "salt"))
	default:
		return secret.NewKeyringEncryptor()
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM, so a
// pending browser authorization can be abandoned cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "idgov",
		Short:         "Manage identity-governance environments and credentials",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newEnvCmd(), newLoginCmd(), newLogoutCmd(), newStatusCmd())

	return root
}

func newEnvCmd() *cobra.Command {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Manage registered environments",
	}

	var (
		tenantURL    string
		baseURL      string
		authType     string
		overwrite    bool
		clientID     string
		clientSecret string
	)

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register or update an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			mode, err := environments.ParseAuthMode(authType)
			if err != nil {
				return err
			}

			env := environments.Environment{
				Name:      args[0],
				TenantURL: tenantURL,
				BaseURL:   baseURL,
				AuthMode:  mode,
			}

			if err := a.registry.CreateOrUpdate(env, overwrite); err != nil {
				return err
			}

			// PAT client credentials are part of the environment record
			// conceptually, so they can be supplied at registration time.
			if mode == environments.AuthModePAT && clientID != "" && clientSecret != "" {
				if err := a.secrets.Set(env.Name, secret.KeyPATClientID, []byte(clientID)); err != nil {
					return err
				}

				if err := a.secrets.Set(env.Name, secret.KeyPATClientSecret, []byte(clientSecret)); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "environment %q registered (%s)\n", env.Name, env.AuthMode)

			return nil
		},
	}
	addCmd.Flags().StringVar(&tenantURL, "tenant-url", "", "tenant identity URL")
	addCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL")
	addCmd.Flags().StringVar(&authType, "auth", "oauth", "auth mode: oauth or pat")
	addCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing environment")
	addCmd.Flags().StringVar(&clientID, "client-id", "", "client id, stored for pat environments")
	addCmd.Flags().StringVar(&clientSecret, "client-secret", "", "client secret, stored for pat environments")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			active, hasActive := a.registry.Active()

			for _, env := range a.registry.List() {
				marker := " "
				if hasActive && env.Name == active.Name {
					marker = "*"
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %-6s %s\n", marker, env.Name, env.AuthMode, env.BaseURL)
			}

			return nil
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <name>",
		Short: "Mark an environment active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.SetActive(args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "active environment is now %q\n", args[0])

			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an environment and all its stored secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.Delete(args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "environment %q and its secrets deleted\n", args[0])

			return nil
		},
	}

	envCmd.AddCommand(addCmd, listCmd, useCmd, deleteCmd)

	return envCmd
}

func newLoginCmd() *cobra.Command {
	var (
		clientID     string
		clientSecret string
	)

	loginCmd := &cobra.Command{
		Use:   "login [name]",
		Short: "Authenticate against an environment",
		Long: "Authenticate against the named environment, or the active one when no name " +
			"is given. Stored credentials are reused or refreshed when possible. Passing " +
			"--client-id and --client-secret registers fresh client credentials first.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := resolveName(a, args)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			var session *auth.Session

			if clientID != "" || clientSecret != "" {
				session, err = a.orch.LoginPAT(ctx, name, clientID, clientSecret)
			} else {
				session, err = a.orch.Login(ctx, name)
			}

			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "connected to %q (%s)\n", session.Environment, session.Mode)

			return nil
		},
	}

	loginCmd.Flags().StringVar(&clientID, "client-id", "", "client id for pat environments")
	loginCmd.Flags().StringVar(&clientSecret, "client-secret", "", "client secret for pat environments")

	return loginCmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the active session, keeping stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			a.orch.Disconnect()
			fmt.Fprintln(cmd.OutOrStdout(), "disconnected")

			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var timeout time.Duration

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check the credentials of every registered environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			for _, s := range a.orch.Status(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-6s %s\n",
					s.Environment.Name, s.Environment.AuthMode, describeStatus(s))
			}

			return nil
		},
	}

	statusCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall status check timeout")

	return statusCmd
}

func describeStatus(s auth.EnvironmentStatus) string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("error: %v", s.Err)
	case s.Result.IsValid:
		if s.Result.Expiry.IsZero() {
			return "valid"
		}

		return fmt.Sprintf("valid until %s", s.Result.Expiry.Local().Format(time.RFC1123))
	case s.Result.NeedsRefresh:
		return "expiring, refresh needed"
	default:
		return "not authenticated"
	}
}

// resolveName picks the environment to operate on: the positional argument
// when given, otherwise the active environment.
func resolveName(a *app, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	active, ok := a.registry.Active()
	if !ok {
		return "", fmt.Errorf("no environment name given and no active environment set")
	}

	return active.Name, nil
}
