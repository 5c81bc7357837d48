package main

import (
	"fmt"
	"strconv"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/forms"
	"github.com/spf13/cobra"
)

func newTeamsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List and manage racing teams",
	}
	cmd.AddCommand(newTeamsListCmd(a), newTeamsCreateCmd(a), newTeamsDeleteCmd(a))
	return cmd
}

func newTeamsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			teams, err := a.client.Teams(cmd.Context())
			if err != nil {
				return fmt.Errorf("list teams: %w", err)
			}
			return a.render(cmd.OutOrStdout(), teams, []string{"ID", "NAME", "COUNTRY"}, teamRows(teams))
		},
	}
}

func teamRows(teams []api.Team) [][]string {
	rows := make([][]string, 0, len(teams))
	for _, t := range teams {
		rows = append(rows, []string{t.ID, t.Name, t.BaseCountry})
	}
	return rows
}

func newTeamsCreateCmd(a *app) *cobra.Command {
	var form forms.Team
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := form.Validate(); err != nil {
				return err
			}
			if err := a.requireAdmin(cmd); err != nil {
				return err
			}
			created, err := a.client.CreateTeam(cmd.Context(), form.Request())
			if err != nil {
				return fmt.Errorf("create team: %w", err)
			}
			return a.done(cmd.OutOrStdout(), created, fmt.Sprintf("Created team %s (%s)", form.Name, created.ID()))
		},
	}
	cmd.Flags().StringVar(&form.Name, "name", "", "team name")
	cmd.Flags().StringVar(&form.BaseCountry, "country", "", "base country")
	return cmd
}

func newTeamsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a team (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(cmd); err != nil {
				return err
			}
			if err := a.client.DeleteTeam(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete team: %w", err)
			}
			return a.done(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, "Deleted team "+args[0])
		},
	}
}

func newPilotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pilots",
		Short: "List and manage pilots",
	}
	cmd.AddCommand(newPilotsListCmd(a), newPilotsCreateCmd(a), newPilotsDeleteCmd(a))
	return cmd
}

func newPilotsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pilots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pilots, err := a.client.Pilots(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pilots: %w", err)
			}
			return a.render(cmd.OutOrStdout(), pilots, []string{"ID", "NAME", "TEAM", "CAR", "SCORE"}, pilotRows(pilots))
		},
	}
}

func pilotRows(pilots []api.Pilot) [][]string {
	rows := make([][]string, 0, len(pilots))
	for _, p := range pilots {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			p.Team,
			string(p.CarNumber),
			strconv.FormatFloat(p.CurrentScore, 'f', -1, 64),
		})
	}
	return rows
}

func newPilotsCreateCmd(a *app) *cobra.Command {
	var form forms.Pilot
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pilot (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := form.Validate(); err != nil {
				return err
			}
			if err := a.requireAdmin(cmd); err != nil {
				return err
			}
			created, err := a.client.CreatePilot(cmd.Context(), form.Request())
			if err != nil {
				return fmt.Errorf("create pilot: %w", err)
			}
			return a.done(cmd.OutOrStdout(), created, fmt.Sprintf("Created pilot %s (%s)", form.Name, created.ID()))
		},
	}
	cmd.Flags().StringVar(&form.Name, "name", "", "pilot name")
	cmd.Flags().StringVar(&form.Team, "team", "", "team name")
	cmd.Flags().StringVar(&form.CarNumber, "car-number", "", "car number")
	return cmd
}

func newPilotsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pilot (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(cmd); err != nil {
				return err
			}
			if err := a.client.DeletePilot(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete pilot: %w", err)
			}
			return a.done(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, "Deleted pilot "+args[0])
		},
	}
}
