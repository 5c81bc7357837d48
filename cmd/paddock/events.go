package main

import (
	"encoding/json"
	"fmt"

	"github.com/ggoodman/paddock/realtime"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event stream format",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "schema",
		Short:       "Print the JSON Schema of stream events",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(realtime.Schema(), "", "  ")
			if err != nil {
				return err
			}
			if a.output == outputYAML {
				var v any
				if err := json.Unmarshal(b, &v); err != nil {
					return err
				}
				if b, err = yaml.Marshal(v); err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	})
	return cmd
}
