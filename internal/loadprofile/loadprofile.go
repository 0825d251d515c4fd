// Package loadprofile stress-tests the claim path: it seeds synthetic
// agents and beads, fires concurrent claim rounds, and turns the measured
// latencies into a connection pool recommendation.
package loadprofile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/store"
)

// DefaultCallTimeoutMS bounds each claim call during profiling.
const DefaultCallTimeoutMS = 2000

// degradedP95ThresholdMS is the latency ceiling before the profile
// recommends throttling.
const degradedP95ThresholdMS = 300

// Store is the slice of the persistence layer the profiler drives.
type Store interface {
	RegisterRepo(ctx context.Context, repo ids.RepoID, name, path string) error
	RegisterAgent(ctx context.Context, agentID ids.AgentID) error
	EnqueueBead(ctx context.Context, repo ids.RepoID, bead ids.BeadID) error
	ClaimNext(ctx context.Context, agentID ids.AgentID, maxAttempts uint32, leaseMS int64) (*store.Claim, error)
}

// Params configures one profiling run.
type Params struct {
	Repo          ids.RepoID
	Agents        uint32
	Rounds        uint32
	CallTimeoutMS uint64
	MaxAttempts   uint32
}

// Buckets counts claim call outcomes.
type Buckets struct {
	Success  int `json:"success"`
	Empty    int `json:"empty"`
	Errors   int `json:"error"`
	Timeouts int `json:"timeout"`
}

// Latencies holds the percentile summary in milliseconds.
type Latencies struct {
	P50 int64 `json:"p50_ms"`
	P95 int64 `json:"p95_ms"`
	P99 int64 `json:"p99_ms"`
}

// Recommendation is the pool sizing advice derived from the run.
type Recommendation struct {
	Degraded       bool   `json:"degraded"`
	MaxConnections int    `json:"max_connections"`
	ConnectionCap  int    `json:"connection_cap"`
	Reason         string `json:"reason"`
}

// Report is the full result of a profiling run.
type Report struct {
	Agents         uint32         `json:"agents"`
	Rounds         uint32         `json:"rounds"`
	Calls          int            `json:"calls"`
	Buckets        Buckets        `json:"buckets"`
	Latencies      Latencies      `json:"latencies"`
	Recommendation Recommendation `json:"recommendation"`
}

type callOutcome struct {
	latencyMS int64
	claimed   bool
	empty     bool
	timedOut  bool
	failed    bool
}

// Run seeds agents and agents*rounds synthetic beads, then issues rounds
// of concurrent claims and summarizes the outcomes.
func Run(ctx context.Context, st Store, params Params) (*Report, error) {
	if params.Agents == 0 || params.Rounds == 0 {
		return nil, fmt.Errorf("load profile needs agents >= 1 and rounds >= 1")
	}
	timeoutMS := params.CallTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = DefaultCallTimeoutMS
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	if err := st.RegisterRepo(ctx, params.Repo, params.Repo.Value(), ""); err != nil {
		return nil, fmt.Errorf("seed repo: %w", err)
	}
	agents := make([]ids.AgentID, 0, params.Agents)
	for n := uint32(1); n <= params.Agents; n++ {
		agentID := ids.NewAgentID(params.Repo, n)
		if err := st.RegisterAgent(ctx, agentID); err != nil {
			return nil, fmt.Errorf("seed agent %s: %w", agentID, err)
		}
		agents = append(agents, agentID)
	}
	total := int(params.Agents) * int(params.Rounds)
	for i := 0; i < total; i++ {
		bead, _ := ids.NewBeadID("load-" + uuid.NewString())
		if err := st.EnqueueBead(ctx, params.Repo, bead); err != nil {
			return nil, fmt.Errorf("seed bead: %w", err)
		}
	}

	outcomes := make([]callOutcome, 0, total)
	var mu sync.Mutex
	for round := uint32(0); round < params.Rounds; round++ {
		var wg sync.WaitGroup
		for _, agentID := range agents {
			wg.Add(1)
			go func(agentID ids.AgentID) {
				defer wg.Done()
				outcome := profileClaim(ctx, st, agentID, maxAttempts, timeoutMS)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}(agentID)
		}
		wg.Wait()
	}

	report := summarize(params, outcomes)
	return report, nil
}

func profileClaim(ctx context.Context, st Store, agentID ids.AgentID, maxAttempts uint32, timeoutMS uint64) callOutcome {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	claim, err := st.ClaimNext(callCtx, agentID, maxAttempts, store.DefaultLeaseExtensionMS)
	outcome := callOutcome{latencyMS: time.Since(start).Milliseconds()}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome.timedOut = true
	case err != nil:
		outcome.failed = true
	case claim == nil:
		outcome.empty = true
	default:
		outcome.claimed = true
	}
	return outcome
}

func summarize(params Params, outcomes []callOutcome) *Report {
	report := &Report{
		Agents: params.Agents,
		Rounds: params.Rounds,
		Calls:  len(outcomes),
	}
	latencies := make([]int64, 0, len(outcomes))
	for _, o := range outcomes {
		latencies = append(latencies, o.latencyMS)
		switch {
		case o.timedOut:
			report.Buckets.Timeouts++
		case o.failed:
			report.Buckets.Errors++
		case o.empty:
			report.Buckets.Empty++
		case o.claimed:
			report.Buckets.Success++
		}
	}
	report.Latencies = Latencies{
		P50: Percentile(latencies, 50),
		P95: Percentile(latencies, 95),
		P99: Percentile(latencies, 99),
	}
	report.Recommendation = Recommend(int(params.Agents), report.Buckets, report.Latencies)
	return report
}

// Percentile computes the p-th percentile by nearest-rank over a copy of
// the samples: sorted[(len-1)*p/100].
func Percentile(samples []int64, p int) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(len(sorted)-1)*p/100]
}

// Recommend derives pool sizing from the run. Any timeout or error, or a
// p95 above the threshold, marks the store degraded and throttles.
func Recommend(agents int, buckets Buckets, latencies Latencies) Recommendation {
	degraded := buckets.Timeouts > 0 || buckets.Errors > 0 || latencies.P95 > degradedP95ThresholdMS
	if degraded {
		return Recommendation{
			Degraded:       true,
			MaxConnections: maxInt(agents/6, 8),
			ConnectionCap:  maxInt(agents*2/3, 8),
			Reason: fmt.Sprintf("degraded: %d timeouts, %d errors, p95 %dms",
				buckets.Timeouts, buckets.Errors, latencies.P95),
		}
	}
	return Recommendation{
		Degraded:       false,
		MaxConnections: maxInt(agents/4, 8),
		ConnectionCap:  agents,
		Reason:         "healthy",
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
