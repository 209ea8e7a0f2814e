package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rskv-p/toposcan/internal/blockstore"
	"github.com/rskv-p/toposcan/internal/config"
	"github.com/rskv-p/toposcan/internal/exchange"
	"github.com/rskv-p/toposcan/internal/monitor"
	"github.com/rskv-p/toposcan/internal/profiler"
	"github.com/rskv-p/toposcan/internal/telemetry"
)

// Inputs gathers the positional arguments and mesh-topology flags a
// single toposcan process needs to drive its share of the computation.
type Inputs struct {
	Input      string
	OutputTree string
	Diagrams   string // "" or "none" skips
	Integral   string // "" or "none" skips

	Rank       int
	NRanks     int
	ConnectURL string

	LogFilePath string
}

func wantsOutput(path string) bool {
	return path != "" && path != "none"
}

// run wires the telemetry logger, the exchange mesh, the block pager and
// the optional profiler/monitor surfaces, then dispatches to the
// uniform-grid (swap-reduce) or AMR (components fixed point) pipeline
// depending on the input's suffix, matching spec.md §6's "detected by
// suffix" rule.
func run(ctx context.Context, cfg *config.Config, in Inputs) error {
	log := telemetry.New(telemetry.Options{
		Level:    cfg.LogLevel,
		JSON:     cfg.LogJSON,
		FilePath: in.LogFilePath,
	}).With().Int("rank", in.Rank).Logger()

	if in.NRanks < 1 {
		in.NRanks = 1
	}

	mesh, err := exchange.NewMesh(exchange.Config{
		ClusterName:   cfg.ClusterName,
		Rank:          in.Rank,
		NRanks:        in.NRanks,
		Jobs:          cfg.Jobs,
		ConnectURL:    in.ConnectURL,
		ClusterSecret: cfg.ClusterToken,
	}, log)
	if err != nil {
		return fmt.Errorf("join mesh: %w", err)
	}
	defer mesh.Close()
	if in.ConnectURL == "" && in.NRanks > 1 {
		log.Info().Str("url", mesh.ClientURL()).Msg("hosting mesh; other ranks should --connect here")
	}

	store := blockstore.New(cfg.Storage, cfg.MaxMemory, log)
	if cfg.MaxMemory > 0 {
		wd := &blockstore.Watchdog{Store: store, Interval: 5 * time.Second, WarnPercent: 90, Log: log}
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go wd.Run(wctx)
	}

	var prof *profiler.Profiler
	if cfg.ProfilePath != "" || cfg.ProfileDSN != "" {
		runID := fmt.Sprintf("rank%d-%d", in.Rank, time.Now().UnixNano())
		prof, err = profiler.Open(cfg.ProfilePath, cfg.ProfileDSN, log, runID)
		if err != nil {
			return fmt.Errorf("open profiler: %w", err)
		}
		defer prof.Close()
	}

	var mon *monitor.Server
	if cfg.MonitorAddr != "" {
		var authorize func(*http.Request) bool
		if cfg.ClusterToken != "" {
			authorize = func(r *http.Request) bool {
				_, verr := exchange.VerifyRankToken(cfg.ClusterToken, r.Header.Get("Authorization"))
				return verr == nil
			}
		}
		mon = monitor.New(cfg.MonitorAddr, log, authorize)
		go func() {
			if lerr := mon.ListenAndServe(); lerr != nil {
				log.Warn().Err(lerr).Msg("monitor: stopped")
			}
		}()
	}

	pipeline := pipelineCtx{
		ctx: ctx, cfg: cfg, in: in, mesh: mesh, store: store, prof: prof, mon: mon, log: log,
	}

	if isNPY(in.Input) {
		return pipeline.runUniform()
	}
	return pipeline.runAMR()
}

func isNPY(path string) bool { return strings.HasSuffix(strings.ToLower(path), ".npy") }

// pipelineCtx bundles the shared run-time plumbing both pipelines drive.
type pipelineCtx struct {
	ctx   context.Context
	cfg   *config.Config
	in    Inputs
	mesh  *exchange.Mesh
	store *blockstore.Store
	prof  *profiler.Profiler
	mon   *monitor.Server
	log   zerolog.Logger
}

func (p *pipelineCtx) broadcast(phase string, round, notDone int) {
	if p.mon == nil {
		return
	}
	p.mon.Broadcast(monitor.Progress{
		Phase: phase, Round: round, NotDone: notDone,
		Resident: p.store.Resident(), Timestamp: time.Now(),
	})
}

func (p *pipelineCtx) record(component string, round, notDone int, dur time.Duration) {
	if p.prof == nil {
		return
	}
	evictions, loads := p.store.Stats()
	p.prof.Record(p.log, profiler.RoundSample{
		Component: component, Rank: p.in.Rank, Round: round, NotDone: notDone,
		Resident: p.store.Resident(), Evictions: evictions, Loads: loads,
		DurationMS: dur.Milliseconds(),
	})
}
