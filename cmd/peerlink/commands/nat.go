package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/nat"
)

func newNATCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nat",
		Short: "Classify the local NAT using the configured STUN servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := detectNAT(cmd.Context(), opts)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func detectNAT(ctx context.Context, opts *rootOptions) nat.NATInfo {
	if ctx == nil {
		ctx = context.Background()
	}
	client := nat.NewSTUNClient()
	client.SetTimeout(opts.cfg.NAT.QueryTimeout)
	detector := nat.NewDetector(nat.WithQuerier(client), nat.WithCacheTTL(opts.cfg.NAT.CacheTTL))
	return detector.Detect(ctx, opts.cfg.STUN.Servers)
}
