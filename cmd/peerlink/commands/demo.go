package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink"
	"github.com/opd-ai/peerlink/health"
	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/simnet"
)

type demoOptions struct {
	peers       int
	duration    time.Duration
	outage      time.Duration
	metricsAddr string
}

// staticQuerier answers every STUN query with the same mapping, which
// classifies as a full-cone NAT.
type staticQuerier struct{}

func (staticQuerier) Query(context.Context, string) (*nat.MappedAddress, error) {
	return &nat.MappedAddress{IP: net.IPv4(203, 0, 113, 1), Port: 40000}, nil
}

func newDemoCmd(opts *rootOptions) *cobra.Command {
	demo := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a node against a simulated network and report health events",
		Long: `Run a node against a simulated network and report health events.

The local node connects to every simulated peer, then the link to the first
peer is cut for the outage period and restored, so the reconnection path is
exercised.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), opts, demo)
		},
	}

	cmd.Flags().IntVar(&demo.peers, "peers", 3, "Number of simulated peers")
	cmd.Flags().DurationVar(&demo.duration, "duration", 10*time.Second, "How long to run")
	cmd.Flags().DurationVar(&demo.outage, "outage", 3*time.Second, "How long the first peer's link stays down")
	cmd.Flags().StringVar(&demo.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, opts *rootOptions, demo *demoOptions) error {
	if demo.peers < 1 {
		return errors.New("at least one peer is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, demo.duration)
	defer cancel()

	network := simnet.NewNetwork()
	local := network.AddNode("local")
	peerIDs := make([]string, demo.peers)
	for i := range peerIDs {
		peerIDs[i] = fmt.Sprintf("peer-%d", i+1)
		network.AddNode(peerIDs[i]).SetAutoPong(true)
	}

	cfg := *opts.cfg
	cfg.Health.CheckInterval = time.Second
	cfg.Health.PingTimeout = 500 * time.Millisecond
	cfg.Health.ReconnectDelay = 250 * time.Millisecond

	nodeOpts := []peerlink.Option{
		peerlink.WithSTUNQuerier(staticQuerier{}),
		peerlink.WithLocalIP(func() net.IP { return net.IPv4(192, 168, 1, 2) }),
	}
	if demo.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		nodeOpts = append(nodeOpts, peerlink.WithPrometheus("peerlink", reg))
		handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		srv := &http.Server{Addr: demo.metricsAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).WithField("function", "runDemo").Error("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	node, err := peerlink.New(&cfg, local, nodeOpts...)
	if err != nil {
		return err
	}
	defer node.Close()

	var mu sync.Mutex
	node.Health().OnEvent(func(ev health.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "event  %-26s %-8s %s\n", ev.Type, ev.PeerID, describe(ev))
	})

	if err := node.Start(ctx); err != nil {
		return err
	}
	mu.Lock()
	fmt.Fprintf(out, "nat    %s\nplan   %s\n", node.NATInfo().Type, node.Plan())
	mu.Unlock()

	for _, peerID := range peerIDs {
		if _, err := node.Acquire(ctx, peerID); err != nil {
			return fmt.Errorf("connect %s: %w", peerID, err)
		}
		node.Release(peerID)
	}

	network.SetLinkUp("local", peerIDs[0], false)
	select {
	case <-time.After(demo.outage):
	case <-ctx.Done():
	}
	network.SetLinkUp("local", peerIDs[0], true)
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return printSummary(out, node)
}

func describe(ev health.Event) string {
	switch {
	case ev.Err != nil:
		return ev.Err.Error()
	case ev.Delay > 0:
		return fmt.Sprintf("in %s (attempt %d)", ev.Delay, ev.Attempt+1)
	case ev.Quality != "":
		return fmt.Sprintf("%s %.1fms", ev.Quality, ev.LatencyMs)
	default:
		return string(ev.Status)
	}
}

func printSummary(out io.Writer, node *peerlink.Node) error {
	stats := node.Pool().GetStats()
	fmt.Fprintf(out, "\npool   total=%d active=%d idle=%d created=%d closed=%d hit-rate=%.2f\n",
		stats.TotalConnections, stats.ActiveConnections, stats.IdleConnections, stats.TotalCreated, stats.TotalClosed, stats.HitRate)

	q := node.Health().GetNetworkQuality()
	fmt.Fprintf(out, "health %s, %d/%d peers healthy\n\n", q.Quality, q.HealthyPeers, q.TotalPeers)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tSTATUS\tQUALITY\tLATENCY\tFAILURES")
	for _, ph := range node.Health().GetAllPeerHealth() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fms\t%d\n", ph.PeerID, ph.Status, ph.Quality, ph.LatencyMs, ph.ConsecutiveFailures)
	}
	return w.Flush()
}
