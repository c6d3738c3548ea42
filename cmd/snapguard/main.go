package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/snapguard/pkg/api"
	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/client"
	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/metrics"
	"github.com/cuemby/snapguard/pkg/reconciler"
	"github.com/cuemby/snapguard/pkg/repository"
	"github.com/cuemby/snapguard/pkg/snapshot"
	"github.com/cuemby/snapguard/pkg/storage"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snapguard",
	Short: "Cluster-manager snapshot orchestration engine",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.AddCommand(managerCmd, nodeCmd, snapshotCmd, repositoryCmd, clusterCmd)
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: true, Output: os.Stdout})
}

// ---------------------------------------------------------------------
// manager: runs a cluster-manager node (Raft + engine + API + metrics)
// ---------------------------------------------------------------------

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run a cluster-manager node",
	RunE:  runManager,
}

func init() {
	managerCmd.Flags().String("node-id", "", "unique node ID (required)")
	managerCmd.Flags().String("raft-addr", "127.0.0.1:9000", "Raft bind address")
	managerCmd.Flags().String("api-addr", "127.0.0.1:8080", "gRPC API bind address")
	managerCmd.Flags().String("health-addr", "127.0.0.1:8090", "HTTP health/metrics bind address")
	managerCmd.Flags().String("data-dir", "./data", "local data directory (Raft log + repository store)")
	managerCmd.Flags().Bool("bootstrap", false, "bootstrap a new single-node cluster")
	managerCmd.Flags().String("join-addr", "", "API address of an existing cluster manager to join through")
	_ = managerCmd.MarkFlagRequired("node-id")
}

func runManager(cmd *cobra.Command, args []string) error {
	initLogging(cmd)

	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	joinAddr, _ := cmd.Flags().GetString("join-addr")

	bus, err := clusterstate.New(&clusterstate.Config{
		NodeID:   nodeID,
		BindAddr: raftAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create cluster-state bus: %w", err)
	}

	if bootstrap {
		if err := bus.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	} else {
		if joinAddr != "" {
			if err := requestVoterMembership(joinAddr, nodeID, raftAddr); err != nil {
				return fmt.Errorf("failed to join via %s: %w", joinAddr, err)
			}
		}
		if err := bus.Join(); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open repository store: %w", err)
	}
	driver := repository.NewLocalDriver(store)

	engine := snapshot.New(bus, driver)
	rec := reconciler.NewReconciler(bus, engine)
	rec.Start()

	collector := metrics.NewCollector(bus)
	collector.Start()

	apiServer := api.NewServer(engine, bus)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			log.Logger.Error().Err(err).Msg("api server stopped")
		}
	}()

	healthServer := api.NewHealthServer(bus)
	go func() {
		if err := healthServer.Start(healthAddr); err != nil {
			log.Logger.Error().Err(err).Msg("health server stopped")
		}
	}()

	log.Logger.Info().Str("node_id", nodeID).Str("api_addr", apiAddr).Msg("snapguard manager started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	rec.Stop()
	collector.Stop()
	apiServer.Stop()
	engine.Stop()
	return bus.Shutdown()
}

// requestVoterMembership registers this node, as a manager-role Node,
// with the existing cluster manager at joinAddr before this process
// starts its own Raft participation — mirroring the teacher's
// out-of-band join-token exchange, minus the token (authentication is
// out of scope here). The RegisterNode RPC only records the node in
// cluster state; it does not add it to the Raft voter configuration
// (Bus.AddVoter is not called on this path).
func requestVoterMembership(joinAddr, nodeID, raftAddr string) error {
	c, err := client.NewClient(joinAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.RegisterNode(api.RegisterNodeRequest{
		NodeID:  nodeID,
		Role:    types.NodeRoleManager,
		Address: raftAddr,
	})
}

// ---------------------------------------------------------------------
// node: data-node membership commands
// ---------------------------------------------------------------------

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Cluster membership commands",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this node with a cluster manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		nodeID, _ := cmd.Flags().GetString("node-id")
		addr, _ := cmd.Flags().GetString("address")
		role, _ := cmd.Flags().GetString("role")

		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.RegisterNode(api.RegisterNodeRequest{
			NodeID:  nodeID,
			Role:    types.NodeRole(role),
			Address: addr,
		})
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cluster nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		nodes, err := c.ListNodes()
		if err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("%s\t%s\t%s\t%s\n", n.ID, n.Role, n.Status, n.Address)
		}
		return nil
	},
}

var nodeHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send a single heartbeat for this node",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		nodeID, _ := cmd.Flags().GetString("node-id")
		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Heartbeat(nodeID)
	},
}

func init() {
	for _, c := range []*cobra.Command{nodeRegisterCmd, nodeListCmd, nodeHeartbeatCmd} {
		c.Flags().String("server", "127.0.0.1:8080", "cluster manager API address")
	}
	nodeRegisterCmd.Flags().String("node-id", "", "node ID")
	nodeRegisterCmd.Flags().String("address", "", "this node's address")
	nodeRegisterCmd.Flags().String("role", string(types.NodeRoleData), "node role (manager|data)")
	nodeHeartbeatCmd.Flags().String("node-id", "", "node ID")
	nodeCmd.AddCommand(nodeRegisterCmd, nodeListCmd, nodeHeartbeatCmd)
}

// ---------------------------------------------------------------------
// snapshot: create/clone/delete/list
// ---------------------------------------------------------------------

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Snapshot lifecycle commands",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		repo, _ := cmd.Flags().GetString("repository")
		name, _ := cmd.Flags().GetString("name")
		indices, _ := cmd.Flags().GetStringSlice("index")
		partial, _ := cmd.Flags().GetBool("partial")

		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		idxs := make([]types.IndexId, 0, len(indices))
		for _, i := range indices {
			idxs = append(idxs, types.IndexId{Name: i})
		}

		id, err := c.CreateSnapshot(api.CreateSnapshotRequest{
			Repository: repo,
			Name:       name,
			Indices:    idxs,
			Partial:    partial,
		})
		if err != nil {
			return err
		}
		fmt.Printf("accepted: %s/%s (%s)\n", id.Repository, id.Name, id.UUID)
		return nil
	},
}

var snapshotCloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Clone a completed snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		repo, _ := cmd.Flags().GetString("repository")
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		indices, _ := cmd.Flags().GetStringSlice("index")

		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		idxs := make([]types.IndexId, 0, len(indices))
		for _, i := range indices {
			idxs = append(idxs, types.IndexId{Name: i})
		}

		id, err := c.CloneSnapshot(api.CloneSnapshotRequest{
			Repository: repo,
			SourceName: source,
			TargetName: target,
			Indices:    idxs,
		})
		if err != nil {
			return err
		}
		fmt.Printf("accepted: %s/%s (%s)\n", id.Repository, id.Name, id.UUID)
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one or more snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		repo, _ := cmd.Flags().GetString("repository")
		names, _ := cmd.Flags().GetStringSlice("name")

		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.DeleteSnapshots(api.DeleteSnapshotsRequest{Repository: repo, Names: names}); err != nil {
			return err
		}
		fmt.Println("deletion accepted")
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List in-progress snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		repo, _ := cmd.Flags().GetString("repository")

		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.CurrentSnapshots(repo)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s/%s\t%s\tstarted %s\n", e.ID.Repository, e.ID.Name, e.State, time.UnixMilli(e.StartTimeMillis).Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{snapshotCreateCmd, snapshotCloneCmd, snapshotDeleteCmd, snapshotListCmd} {
		c.Flags().String("server", "127.0.0.1:8080", "cluster manager API address")
		c.Flags().String("repository", "", "repository name")
	}
	snapshotCreateCmd.Flags().String("name", "", "snapshot name")
	snapshotCreateCmd.Flags().StringSlice("index", nil, "index name (repeatable)")
	snapshotCreateCmd.Flags().Bool("partial", false, "allow partial snapshot on unassigned shards")

	snapshotCloneCmd.Flags().String("source", "", "source snapshot name")
	snapshotCloneCmd.Flags().String("target", "", "target snapshot name")
	snapshotCloneCmd.Flags().StringSlice("index", nil, "index name (repeatable)")

	snapshotDeleteCmd.Flags().StringSlice("name", nil, "snapshot name (repeatable)")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotCloneCmd, snapshotDeleteCmd, snapshotListCmd)
}

// ---------------------------------------------------------------------
// repository: admin commands over the local repository store
// ---------------------------------------------------------------------

var repositoryCmd = &cobra.Command{
	Use:   "repository",
	Short: "Repository store maintenance commands",
}

var repositoryInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a repository's root generation and known snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		repo, _ := cmd.Flags().GetString("repository")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		driver := repository.NewLocalDriver(store)
		data, err := driver.GetRepositoryData(repo)
		if err != nil {
			return err
		}
		fmt.Printf("generation: %d\n", data.Generation)
		for uuid, name := range data.Snapshots {
			fmt.Printf("  %s -> %s\n", uuid, name)
		}
		return nil
	},
}

func init() {
	repositoryInspectCmd.Flags().String("data-dir", "./data", "local data directory")
	repositoryInspectCmd.Flags().String("repository", "", "repository name")
	repositoryCmd.AddCommand(repositoryInspectCmd)
}

// ---------------------------------------------------------------------
// cluster: read-only cluster diagnostics
// ---------------------------------------------------------------------

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster diagnostics",
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print cluster membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		c, err := client.NewClient(server)
		if err != nil {
			return err
		}
		defer c.Close()

		nodes, err := c.ListNodes()
		if err != nil {
			return err
		}
		fmt.Printf("%d node(s)\n", len(nodes))
		for _, n := range nodes {
			fmt.Printf("  %s\t%s\t%s\t%s\n", n.ID, n.Role, n.Status, n.Address)
		}
		return nil
	},
}

func init() {
	clusterInfoCmd.Flags().String("server", "127.0.0.1:8080", "cluster manager API address")
	clusterCmd.AddCommand(clusterInfoCmd)
}
