package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/spf13/cobra"
)

var portsOpts struct {
	basePort int
	nodes    int
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Print the ports a devnet occupies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ports.Validate(portsOpts.basePort, portsOpts.nodes); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NODE\tSERVICE\tPORT")
		for i := 0; i < portsOpts.nodes; i++ {
			base := portsOpts.basePort + i*ports.NodeSpan
			for _, svc := range ports.Services() {
				p, err := ports.NatPort(base, svc)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "node%d\t%s\t%s\n", i, svc, p)
			}
		}
		return tw.Flush()
	},
}

func init() {
	portsCmd.Flags().IntVarP(&portsOpts.basePort, "base-port", "p", 26800, "base port of the first validator")
	portsCmd.Flags().IntVarP(&portsOpts.nodes, "nodes", "n", 1, "number of validators")
}
