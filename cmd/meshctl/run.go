package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vpc-mesh/pkg/model"
)

// meshFlags overrides the mesh section of the config for one invocation.
type meshFlags struct {
	regions           []string
	failFast          bool
	edgeConcurrency   int
	regionConcurrency int
}

func (f *meshFlags) bind(cmd *cobra.Command, withRegions bool) {
	if withRegions {
		cmd.Flags().StringSliceVar(&f.regions, "regions", nil, "Regions to mesh, in slot order (default from config)")
		cmd.Flags().IntVar(&f.regionConcurrency, "region-concurrency", 0, "Regions provisioned at once (0 = sequential)")
	}
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "Stop linking after the first failed edge")
	cmd.Flags().IntVar(&f.edgeConcurrency, "edge-concurrency", 0, "Edges linked at once (0 = sequential)")
}

func (f *meshFlags) apply(cmd *cobra.Command, c *cli) {
	if cmd.Flags().Changed("regions") {
		c.cfg.Regions = f.regions
	}
	if cmd.Flags().Changed("fail-fast") {
		c.cfg.Mesh.FailFast = f.failFast
	}
	if cmd.Flags().Changed("edge-concurrency") {
		c.cfg.Mesh.EdgeConcurrency = f.edgeConcurrency
	}
	if cmd.Flags().Changed("region-concurrency") {
		c.cfg.Mesh.RegionConcurrency = f.regionConcurrency
	}
}

func upCmd(c *cli) *cobra.Command {
	var f meshFlags
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision every region, checkpoint the snapshot and link every pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, c)
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Orchestrator().Run(cmd.Context(), a.Config.Regions)
			printReport(cmd, report)
			return err
		},
	}
	f.bind(cmd, true)
	return cmd
}

func provisionCmd(c *cli) *cobra.Command {
	var f meshFlags
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision every region and checkpoint the snapshot without linking",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, c)
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			orch := a.Orchestrator()
			networks, err := orch.Provision(cmd.Context(), a.Config.Regions)
			if err != nil {
				return err
			}
			snap, err := orch.Checkpoint(cmd.Context(), networks)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), networkTable(snap))
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("snapshot version %d saved", snap.Version))
			return nil
		},
	}
	f.bind(cmd, true)
	return cmd
}

func linkCmd(c *cli) *cobra.Command {
	var f meshFlags
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link every pair of the stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, c)
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Orchestrator().Resume(cmd.Context())
			printReport(cmd, report)
			return err
		},
	}
	f.bind(cmd, false)
	return cmd
}

func networkTable(snap model.Snapshot) string {
	rows := make([][]string, 0, len(snap.Networks))
	for i, n := range snap.Networks {
		rows = append(rows, []string{strconv.Itoa(i), n.Region, n.CIDR, n.NetworkID, n.RouteTableID})
	}
	return renderTable([]string{"Slot", "Region", "CIDR", "Network", "Route table"}, rows)
}

func printReport(cmd *cobra.Command, r model.RunReport) {
	if len(r.Snapshot.Networks) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), networkTable(r.Snapshot))

	rows := make([][]string, 0, len(r.Links))
	for _, l := range r.Links {
		rows = append(rows, []string{l.Edge.String(), l.Requester.Region, l.Accepter.Region, l.PeeringID, string(l.State), strconv.Itoa(len(l.Routes))})
	}
	if len(rows) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Edge", "Requester", "Accepter", "Peering", "State", "Routes"}, rows))
	}
	for _, f := range r.Failures {
		fmt.Fprintln(cmd.OutOrStdout(), errorMsg("%s %s<->%s failed at %s: %s", f.Edge, f.Requester, f.Accepter, f.Stage, f.Error))
	}
	for _, u := range r.Unconverged {
		fmt.Fprintln(cmd.OutOrStdout(), warnMsg("route %s in %s not active after %d reads (%s)", u.Destination, u.Region, u.Attempts, u.State))
	}
	summary := fmt.Sprintf("run %s: %d/%d edges linked, %d routes", r.RunID, len(r.Links), len(r.Edges), r.RouteCount())
	if r.Succeeded() {
		fmt.Fprintln(cmd.OutOrStdout(), successMsg("%s", summary))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), errorMsg("%s", summary))
	}
}
