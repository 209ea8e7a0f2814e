package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rskv-p/toposcan/internal/amrbox"
	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/integral"
	"github.com/rskv-p/toposcan/internal/localtree"
	"github.com/rskv-p/toposcan/internal/reader"
	"github.com/rskv-p/toposcan/internal/swapreduce"
	"github.com/rskv-p/toposcan/internal/tree"
)

// runUniform drives spec.md §4.3's uniform-grid path (C4 local build,
// then C5 swap-reduce): one block per rank, a contiguous axis-0 slab of
// the dense field, periodic neighbors resolved from the same partition
// every rank can recompute independently.
func (p *pipelineCtx) runUniform() error {
	rdr, err := reader.OpenNPY(p.in.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer rdr.Close()

	shape := rdr.Shape()
	nblocks := p.in.NRanks
	if p.cfg.Blocks > 0 && p.cfg.Blocks != nblocks {
		p.log.Warn().Int("requested", p.cfg.Blocks).Int("used", nblocks).
			Msg("uniform grid: one block per rank, ignoring -b mismatch")
	}
	boxes := splitShape(shape, nblocks)
	gid := int64(p.in.Rank)
	core := boxes[p.in.Rank]
	domain := grid.Domain{Shape: shape, CellSize: onesOf(len(shape)), Wrap: p.cfg.Wrap}

	box := amrbox.New(gid, 0, 1, core, domain)
	if err := fillFromScalarReader(rdr, box); err != nil {
		return fmt.Errorf("read block %d: %w", gid, err)
	}

	var neighbors []amrbox.NeighborBox
	for _, nb := range sliceNeighbors(p.in.Rank, nblocks, p.cfg.Wrap) {
		neighbors = append(neighbors, amrbox.NeighborBox{GID: int64(nb), Refinement: 1, Level: 0, Bounds: boxes[nb].Grow(1)})
	}
	link := amrbox.Link{GID: gid, Neighbors: neighbors}
	box.InitMask(link, sliceLookup(boxes, p.in.Rank))

	effectiveRho, err := p.resolveRho(box)
	if err != nil {
		return err
	}
	box.ApplyThreshold(effectiveRho, p.cfg.Negate)

	res := localtree.Build(box, link, p.cfg.Negate)

	bounds := make(map[int64]grid.Box, nblocks)
	for i, b := range boxes {
		bounds[int64(i)] = b.Grow(1)
	}
	position := func(v tree.VertexID) []int {
		bx, ok := bounds[v.GID]
		if !ok {
			bx = box.Bounds
		}
		rel := bx.Shape().Vertex(v.Index)
		global := make([]int, len(rel))
		for i := range rel {
			global[i] = rel[i] + bx.Min[i]
		}
		return domain.Fold(global)
	}

	state := swapreduce.NewState(p.cfg.Negate, core, res.Tree, position)
	rounds := swapreduce.Rounds(nblocks)

	for round := 0; ; round++ {
		terminal := swapreduce.IsTerminal(round, nblocks)
		start := time.Now()

		outgoing := map[int]json.RawMessage{}
		var wantFrom []int
		partner, ok := swapreduce.Partner(p.in.Rank, nblocks, round)
		if !terminal && ok {
			payload, merr := marshalOutgoing(state.PrepareOutgoing(), p.cfg.Negate)
			if merr != nil {
				return fmt.Errorf("marshal swap-reduce round %d: %w", round, merr)
			}
			outgoing[partner] = payload
			wantFrom = []int{partner}
		}

		envs, err := p.mesh.Exchange(round, outgoing, wantFrom, 60*time.Second)
		if err != nil {
			return fmt.Errorf("swap-reduce round %d: %w", round, err)
		}
		var incoming []swapreduce.Incoming
		for _, env := range envs {
			in, uerr := unmarshalIncoming(env.Payload)
			if uerr != nil {
				return fmt.Errorf("swap-reduce round %d: %w", round, uerr)
			}
			incoming = append(incoming, in)
		}
		state.Round(incoming, terminal)

		notDone := 0
		if !terminal {
			notDone = 1
		}
		p.record("swapreduce", round, notDone, time.Since(start))
		p.broadcast("swapreduce", round, notDone)

		if terminal {
			break
		}
	}

	blk := components.Rehydrate(gid, p.cfg.Negate, state.Tree, map[tree.VertexID]tree.VertexID{})
	diagrams := blk.FinalDiagrams(effectiveRho)

	treePath := rankPath(p.in.OutputTree, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
	if err := writeTreeBlocks(treePath, map[int64]*components.Block{gid: blk}, map[int64]grid.Box{gid: core}); err != nil {
		return err
	}

	if wantsOutput(p.in.Diagrams) {
		path := rankPath(p.in.Diagrams, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
		if err := writeDiagrams(path, map[int64]map[tree.VertexID][]components.Pair{gid: diagrams}); err != nil {
			return err
		}
	}

	if wantsOutput(p.in.Integral) {
		sampler := integral.Sampler{Position: position, CellVolume: domain.CellVolume()}
		inCore := func(v tree.VertexID) bool { return v.GID == gid && core.Contains(position(v)) }
		items := integral.Trace(state.Tree, p.cfg.Negate, p.cfg.Theta, effectiveRho, inCore, sampler)
		items = integral.MergeShared(items)
		path := rankPath(p.in.Integral, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
		if err := writeIntegrals(path, domain, items, func(g, idx int64) []int { return position(tree.VertexID{GID: g, Index: idx}) }); err != nil {
			return err
		}
	}

	return nil
}
