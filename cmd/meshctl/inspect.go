package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vpc-mesh/pkg/export"
	"vpc-mesh/pkg/topology"
)

func edgesCmd(c *cli) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List the pairs to link for the stored snapshot, or for --count networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("count") {
				if count < 0 {
					return errors.New("--count must not be negative")
				}
				rows := make([][]string, 0, topology.EdgeCount(count))
				for _, e := range topology.Edges(count) {
					rows = append(rows, []string{e.String()})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Edge"}, rows))
				}
				fmt.Fprintln(out, infoMsg("%d networks, %d edges", count, topology.EdgeCount(count)))
				return nil
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.Store.Load(cmd.Context())
			if err != nil {
				return err
			}
			edges := topology.Edges(len(snap.Networks))
			rows := make([][]string, 0, len(edges))
			for _, e := range edges {
				req, acc := snap.Networks[e.A], snap.Networks[e.B]
				rows = append(rows, []string{e.String(), req.Region, acc.Region, req.CIDR + " <-> " + acc.CIDR})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, muted("no edges: the snapshot holds fewer than two networks"))
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Edge", "Requester", "Accepter", "Blocks"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Number of networks to enumerate pairs for, without reading the store")
	return cmd
}

func verifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every route table of the stored snapshot for an active route to each peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.Store.Load(cmd.Context())
			if err != nil {
				return err
			}
			v, err := a.Orchestrator().Verify(cmd.Context(), snap)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(v.Checks))
			for _, ch := range v.Checks {
				status := successStyle.Render("ok")
				if !ch.OK() {
					status = errorStyle.Render("missing")
					if ch.Present {
						status = warnStyle.Render(ch.State)
					}
				}
				rows = append(rows, []string{ch.Region, ch.Destination, ch.PeerRegion, ch.PeeringID, status})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Region", "Destination", "Peer", "Peering", "Status"}, rows))
			}
			if failed := len(v.Failed()); failed > 0 {
				return fmt.Errorf("%d of %d routes missing or inactive", failed, len(v.Checks))
			}
			fmt.Fprintln(out, successMsg("%d routes active", len(v.Checks)))
			return nil
		},
	}
}

func exportCmd(c *cli) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write Terraform import blocks for the stored mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.Store.Load(cmd.Context())
			if err != nil {
				return err
			}
			v, err := a.Orchestrator().Verify(cmd.Context(), snap)
			if err != nil {
				return err
			}
			links := v.Links(snap)
			data := export.Terraform(snap, links)
			if outPath == "" || outPath == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("wrote %s (%d networks, %d peerings)", outPath, len(snap.Networks), len(links)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}
