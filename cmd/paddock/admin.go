package main

import (
	"errors"
	"fmt"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/forms"
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands (admin role)",
		Long: `Administrative commands. They are only offered to an admin identity; the
backend still authorizes every request on its own.`,
	}
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.requireAdmin(cmd)
		},
	}
	users.AddCommand(
		newUsersListCmd(a),
		newUsersGetCmd(a),
		newUsersCreateCmd(a),
		newUsersUpdateCmd(a),
		newUsersDeleteCmd(a),
	)
	cmd.AddCommand(users)
	return cmd
}

var userHeaders = []string{"ID", "USERNAME", "EMAIL", "ROLE", "LAST LOGIN"}

func userRow(u api.User) []string {
	return []string{u.ID, u.Username, u.Email, roleLabel(u.Role), u.LastLogin}
}

func newUsersListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.client.Users(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, userRow(u))
			}
			return a.render(cmd.OutOrStdout(), users, userHeaders, rows)
		},
	}
}

func newUsersGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.client.User(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get user: %w", err)
			}
			return a.render(cmd.OutOrStdout(), u, userHeaders, [][]string{userRow(u)})
		},
	}
}

func newUsersCreateCmd(a *app) *cobra.Command {
	var (
		form      forms.User
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user with any role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword(cmd, "Password: ", fromStdin)
			if err != nil {
				return err
			}
			form.Username = args[0]
			form.Password = password
			if err := form.Validate(); err != nil {
				return err
			}
			created, err := a.client.CreateUser(cmd.Context(), form.Request())
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			return a.done(cmd.OutOrStdout(), created, fmt.Sprintf("Created %s %s (%s)", form.Role, form.Username, created.ID()))
		},
	}
	cmd.Flags().StringVar(&form.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&form.Role, "role", "user", "admin, user or visitor")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newUsersUpdateCmd(a *app) *cobra.Command {
	var (
		email, role   string
		resetPassword bool
		fromStdin     bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a user's email, role or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd api.UserUpdate
			var errs forms.Errors
			if cmd.Flags().Changed("email") {
				upd.Email = &email
			}
			if cmd.Flags().Changed("role") {
				if !forms.ValidRole(role) {
					errs = append(errs, forms.FieldError{Field: "role", Message: "role must be one of admin, user, visitor"})
				}
				upd.Role = &role
			}
			if resetPassword || fromStdin {
				password, err := a.readPassword(cmd, "New password: ", fromStdin)
				if err != nil {
					return err
				}
				if forms.ShortPassword(password) {
					errs = append(errs, forms.FieldError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", forms.MinPasswordLength)})
				}
				upd.Password = &password
			}
			if len(errs) > 0 {
				return errs
			}
			if upd.Email == nil && upd.Role == nil && upd.Password == nil {
				return errors.New("nothing to update: pass --email, --role or --password")
			}

			u, err := a.client.UpdateUser(cmd.Context(), args[0], upd)
			if err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			return a.render(cmd.OutOrStdout(), u, userHeaders, [][]string{userRow(u)})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "new email")
	cmd.Flags().StringVar(&role, "role", "", "new role: admin, user or visitor")
	cmd.Flags().BoolVar(&resetPassword, "password", false, "prompt for a new password")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read a new password from stdin")
	return cmd
}

func newUsersDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteUser(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
			return a.done(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, "Deleted user "+args[0])
		},
	}
}
