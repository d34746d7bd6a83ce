package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/control"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetcored",
	Short: "fleetcored - replicated fleet control plane",
	Long: `fleetcored runs one replica of a fleet control plane: Raft-
replicated mission scheduling and worker registry, a downlink bridge
to the fleet, and cross-region mission synchronization.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetcored version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(missionCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage a fleetcore cluster replica",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new fleetcore cluster with this replica as the first member",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}

		plane, err := control.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build control plane: %v", err)
		}

		fmt.Printf("Bootstrapping fleetcore cluster (node %s, bind %s)\n", cfg.NodeID, cfg.BindEndpoint)
		if err := plane.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap: %v", err)
		}
		fmt.Println("✓ Raft cluster bootstrapped")
		fmt.Println("✓ Scheduler, reconciler, downlink bridge and sync started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "bootstrapped")
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("downlink", true, "ready")

		collector := metrics.NewCollector(plane.Node)
		collector.Start()
		defer collector.Stop()

		return serveAndWait(plane, cfg)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join --leader ADDR",
	Short: "Join this replica to an existing cluster via its leader's edge address",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		if leader == "" {
			return fmt.Errorf("--leader is required")
		}

		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}

		plane, err := control.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build control plane: %v", err)
		}

		fmt.Printf("Joining cluster via leader %s\n", leader)
		if err := plane.Join(leader); err != nil {
			return fmt.Errorf("failed to join: %v", err)
		}
		fmt.Println("✓ Joined cluster as voter")

		metrics.SetVersion(Version)
		collector := metrics.NewCollector(plane.Node)
		collector.Start()
		defer collector.Stop()

		return serveAndWait(plane, cfg)
	},
}

func serveAndWait(plane *control.Plane, cfg config.Config) error {
	edge := control.NewEdgeServer(plane)
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("✓ Edge API + metrics listening on %s\n", cfg.MetricsAddr)
		if err := edge.Serve(cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("edge server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	if err := plane.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown cleanly: %v", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

func configFromFlags(cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()

	cfg.NodeID, _ = cmd.Flags().GetString("node-id")
	cfg.BindEndpoint, _ = cmd.Flags().GetString("bind-addr")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.MetricsAddr, _ = cmd.Flags().GetString("edge-addr")
	if peers, _ := cmd.Flags().GetStringSlice("peers"); len(peers) > 0 {
		cfg.Peers = peers
	}
	if backend, _ := cmd.Flags().GetString("discovery"); backend != "" {
		cfg.DiscoveryBackend = config.DiscoveryBackend(backend)
	}
	if downlinkTransport, _ := cmd.Flags().GetString("downlink-transport"); downlinkTransport != "" {
		cfg.DownlinkTransport = config.DownlinkTransport(downlinkTransport)
	}
	if natsURL, _ := cmd.Flags().GetString("nats-url"); natsURL != "" {
		cfg.NATSURL = natsURL
	}

	if cfg.NodeID == "" {
		return cfg, fmt.Errorf("--node-id is required")
	}
	return cfg, cfg.Validate()
}

func addReplicaFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-id", "", "This replica's unique node ID (required)")
	cmd.Flags().String("bind-addr", "127.0.0.1:7000", "Raft bind address")
	cmd.Flags().String("data-dir", "./data", "Directory for Raft logs and the replicated store")
	cmd.Flags().String("edge-addr", ":9090", "HTTP edge API + metrics listen address")
	cmd.Flags().StringSlice("peers", nil, "Known peer addresses, for the static/serf discovery backends")
	cmd.Flags().String("discovery", "static", "Service discovery backend: static, consul, etcd, serf")
	cmd.Flags().String("downlink-transport", "tcp", "Worker downlink transport: tcp, nats")
	cmd.Flags().String("nats-url", "", "NATS server URL, required when --downlink-transport=nats")
}

func init() {
	addReplicaFlags(clusterInitCmd)
	addReplicaFlags(clusterJoinCmd)
	clusterJoinCmd.Flags().String("leader", "", "Edge API address of an existing cluster member")

	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
}
