package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/omn-routing/core"
	"github.com/signalsfoundry/omn-routing/internal/logging"
	"github.com/signalsfoundry/omn-routing/routing"
)

func protocolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "Lists the routing protocols a scenario can name",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROTOCOL\tPREDICTABILITY\tREPLICA ACCOUNTING\tTRANSLATES")
			for _, p := range routing.Protocols() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p,
					yesNo(p.BearsPredictability()),
					yesNo(p.KeepsReplicaAccounting()),
					yesNo(p.Translates()))
			}
			return w.Flush()
		},
	}
}

func validateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "validate",
		Short: "Loads a scenario and builds its hosts without running it",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			path, err := c.Flags().GetString(scenarioKey)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("--%s is required", scenarioKey)
			}
			sc, err := loadScenario(path)
			if err != nil {
				return err
			}
			sim, err := sc.Build(core.Options{Logger: loggerFrom(c)})
			if err != nil {
				return err
			}
			loggerFrom(c).Info(c.Context(), "scenario is valid",
				logging.String("scenario", path),
				logging.Int("groups", len(sc.Groups)),
				logging.Int("hosts", len(sim.Hosts())),
			)
			fmt.Fprintf(c.OutOrStdout(), "%s: %d groups, %d hosts\n", path, len(sc.Groups), len(sim.Hosts()))
			return nil
		},
	}
	c.Flags().String(scenarioKey, "", "Path to a YAML scenario (required)")
	return c
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
