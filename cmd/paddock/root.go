package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/config"
	"github.com/ggoodman/paddock/session"
	"github.com/ggoodman/paddock/storage"
	"github.com/spf13/cobra"
)

// offline marks commands that need neither the store nor the backend.
const offline = "offline"

// app is the state shared by every command of one invocation.
type app struct {
	cfg    config.Config
	output string
	log    *slog.Logger
	store  storage.Storage
	client *api.Client
	sess   *session.Manager
	stdin  *bufio.Reader
}

// NewRootCmd builds a fresh command tree. Tests build one per invocation.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "paddock",
		Short: "Terminal client for the TC2000 Fantasy backend",
		Long: `paddock talks to a TC2000 Fantasy backend on your behalf.

It keeps one session per backend URL. On every run the stored token is
checked against the server; when the server is unreachable the last known
identity (or, failing that, the token's own claims) is used instead, and a
token the server rejects is discarded.

Settings come from PADDOCK_* environment variables and can be overridden
with flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	f := cmd.PersistentFlags()
	f.String("api-url", "", "backend base URL (env PADDOCK_API_URL)")
	f.Duration("timeout", 0, "per-request timeout (env PADDOCK_TIMEOUT)")
	f.String("store", "", "session store: file, sqlite, redis or memory (env PADDOCK_STORE)")
	f.String("store-path", "", "session store directory or database file (env PADDOCK_STORE_PATH)")
	f.String("redis-addr", "", "redis address for --store=redis (env PADDOCK_REDIS_ADDR)")
	f.String("log-level", "", "debug, info, warn or error (env PADDOCK_LOG_LEVEL)")
	f.String("log-format", "", "text or json (env PADDOCK_LOG_FORMAT)")
	f.StringVarP(&a.output, "output", "o", outputTable, "output format: table, json or yaml")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newRegisterCmd(a),
		newTeamsCmd(a),
		newPilotsCmd(a),
		newAdminCmd(a),
		newWatchCmd(a),
		newEventsCmd(a),
	)
	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("api-url", &cfg.APIURL)
	str("store", &cfg.Store)
	str("store-path", &cfg.StorePath)
	str("redis-addr", &cfg.RedisAddr)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	if f.Changed("timeout") {
		cfg.Timeout, _ = f.GetDuration("timeout")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch a.output {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}
	a.cfg = cfg
	return nil
}

// setup opens the store, wires the client and session manager and resolves
// the stored session.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	a.log = a.cfg.Logger(cmd.ErrOrStderr())
	a.stdin = bufio.NewReader(cmd.InOrStdin())
	if cmd.Annotations[offline] != "" {
		return nil
	}

	ctx := cmd.Context()
	store, err := a.cfg.OpenStore(ctx, a.log)
	if err != nil {
		return err
	}
	a.store = store

	client, err := api.New(a.cfg.APIURL,
		api.WithTimeout(a.cfg.Timeout),
		api.WithTokenSource(api.TokenSourceFunc(func(ctx context.Context) (string, error) {
			return a.sess.Token(ctx)
		})),
		api.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.client = client
	a.sess = session.NewManager(store, client,
		session.WithIssuer(client),
		session.WithProfile(a.cfg.Profile()),
		session.WithLogger(a.log),
	)

	st, err := a.sess.Resolve(ctx)
	if err != nil {
		return err
	}
	if st.ReloginRequired {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Your session is no longer valid; run \"paddock login\" again."))
	}
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// requireAdmin gates admin-only commands before any request is made.
func (a *app) requireAdmin(cmd *cobra.Command) error {
	if err := a.sess.RequireAdmin(); err != nil {
		return fmt.Errorf("%s: %w", cmd.CommandPath(), err)
	}
	return nil
}
