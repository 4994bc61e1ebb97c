package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/transport"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var natType string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the transport plan and ICE servers for the local NAT",
		Long: `Print the transport plan and ICE servers for the local NAT.

Without --nat-type the NAT is detected through STUN first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info nat.NATInfo
			if natType != "" {
				t, err := nat.ParseNATType(natType)
				if err != nil {
					return err
				}
				info = nat.NATInfo{Type: t, Description: t.Description()}
			} else {
				info = detectNAT(cmd.Context(), opts)
			}

			plan := transport.NewSelector(nil).BuildPlan(opts.cfg.TransportConfig(), &info)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nat:  %s\n", info.Type)
			fmt.Fprintf(out, "plan: %s\n", plan)
			for _, s := range transport.BuildICEServers(opts.cfg.STUN.Servers, opts.cfg.TURN.Servers) {
				fmt.Fprintf(out, "ice:  %v\n", s.URLs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&natType, "nat-type", "", "Skip detection and plan for this NAT type")
	return cmd
}
