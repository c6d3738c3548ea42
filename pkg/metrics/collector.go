package metrics

import (
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/types"
)

// Collector polls the cluster state bus on an interval and republishes
// it as Prometheus gauges. Everything it reports is also derivable
// on-demand from the Bus, but scraping a live Apply callback for every
// request would couple metrics freshness to scrape timing; polling
// keeps the two independent the way the teacher's collector did for
// node/service counts.
type Collector struct {
	bus    *clusterstate.Bus
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over bus.
func NewCollector(bus *clusterstate.Bus) *Collector {
	return &Collector{
		bus:    bus,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectSnapshotMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	state := c.bus.Current()

	nodeCounts := make(map[string]map[string]int)
	for _, node := range state.Nodes {
		role := string(node.Role)
		status := string(node.Status)
		if nodeCounts[role] == nil {
			nodeCounts[role] = make(map[string]int)
		}
		nodeCounts[role][status]++
	}
	for role, statuses := range nodeCounts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectSnapshotMetrics() {
	state := c.bus.Current()

	perRepo := make(map[string]int)
	shardStates := make(map[types.ShardState]int)
	for _, entry := range state.SnapshotsInProgress {
		if !entry.State.Completed() {
			perRepo[entry.ID.Repository]++
		}
		for _, status := range entry.ShardMap() {
			shardStates[status.State]++
		}
	}
	for repo, count := range perRepo {
		SnapshotsInProgress.WithLabelValues(repo).Set(float64(count))
	}
	for st, count := range shardStates {
		ShardStateTotal.WithLabelValues(string(st)).Set(float64(count))
	}
	for repo, meta := range state.Repositories {
		RepositoryGeneration.WithLabelValues(repo).Set(float64(meta.Generation))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.bus.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
