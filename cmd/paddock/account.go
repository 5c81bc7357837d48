package main

import (
	"fmt"

	"github.com/ggoodman/paddock/forms"
	"github.com/ggoodman/paddock/session"
	"github.com/spf13/cobra"
)

type whoami struct {
	Username string `json:"username" yaml:"username"`
	Role     string `json:"role" yaml:"role"`
	Admin    bool   `json:"admin" yaml:"admin"`
	Source   string `json:"source" yaml:"source"`
}

func describe(st session.State) whoami {
	return whoami{
		Username: st.Identity.Username,
		Role:     st.Identity.Role,
		Admin:    st.IsAdmin(),
		Source:   string(st.Source),
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session",
		Long: `Exchange a username and password for a bearer token and store it.

The password is prompted for on the terminal, or read from the first line of
stdin with --password-stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword(cmd, "Password: ", fromStdin)
			if err != nil {
				return err
			}
			form := forms.Login{Username: args[0], Password: password}
			if err := form.Validate(); err != nil {
				return err
			}

			st, err := a.sess.Login(cmd.Context(), form.Username, form.Password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if st.Identity == nil {
				return fmt.Errorf("login: %w", session.ErrNotAuthenticated)
			}
			id := describe(st)
			return a.done(cmd.OutOrStdout(), id, fmt.Sprintf("Logged in as %s (%s)", id.Username, id.Role))
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			return a.done(cmd.OutOrStdout(), map[string]bool{"logged_out": true}, "Logged out")
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity and where it came from",
		Long: `Show the identity of the stored session.

The source column tells how authoritative it is: "server" when the backend
confirmed it on this run, "cache" when the backend was unreachable and the
last confirmed identity was used, "claims" when only the token's own claims
were available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := a.sess.State()
			if st.Identity == nil {
				return session.ErrNotAuthenticated
			}
			id := describe(st)
			return a.render(cmd.OutOrStdout(), id,
				[]string{"USERNAME", "ROLE", "SOURCE"},
				[][]string{{id.Username, roleLabel(id.Role), id.Source}},
			)
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		email     string
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create a user account",
		Long: `Create a plain user account. The password is prompted for twice, or read
once from stdin with --password-stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword(cmd, "Password: ", fromStdin)
			if err != nil {
				return err
			}
			confirm := password
			if !fromStdin {
				if confirm, err = a.readPassword(cmd, "Confirm password: ", false); err != nil {
					return err
				}
			}

			form := forms.Register{Username: args[0], Email: email, Password: password, Confirm: confirm}
			if err := form.Validate(); err != nil {
				return err
			}
			created, err := a.client.Register(cmd.Context(), form.Request())
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			return a.done(cmd.OutOrStdout(), created,
				fmt.Sprintf("Registered %s; log in with \"paddock login %s\"", form.Username, form.Username))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}
