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
	"github.com/rskv-p/toposcan/internal/tree"
)

// neighborInfo is the ownership-resolution view of one adjacent AMR box:
// its own (ungrown) core, the region InitMask's lookup tests against,
// as distinct from the ghost-addressing view (amrbox.NeighborBox.Bounds,
// grown by one cell) localtree.Build needs.
type neighborInfo struct {
	GID        int64
	Level      int
	Refinement int
	Core       grid.Box
}

func amrLookup(core grid.Box, selfRefinement int, infos []neighborInfo) amrbox.NeighborLookup {
	return func(folded []int) (int64, int, bool, bool) {
		if core.Contains(folded) {
			return 0, 0, false, false
		}
		for _, nb := range infos {
			if nb.Core.Contains(folded) {
				return nb.GID, nb.Level, nb.Refinement > selfRefinement, true
			}
		}
		return 0, 0, false, false
	}
}

type taggedDescriptor struct {
	DestGID int64                 `json:"dest_gid"`
	Desc    components.Descriptor `json:"desc"`
}

type ownedBox struct {
	meta reader.BoxMeta
	box  *amrbox.MaskedBox
	link amrbox.Link
}

// runAMR drives spec.md §4.4's AMR connected-components fixed point
// (C3 mask init, C4 local build, C6 edge exchange to convergence),
// assigning each box to a rank round-robin over reader.Boxes() order
// (spec.md leaves AMR load balancing implementation-defined).
func (p *pipelineCtx) runAMR() error {
	rdr, err := reader.OpenAMR(p.in.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer rdr.Close()

	domain := rdr.Domain()
	allBoxes := rdr.Boxes()
	nranks := p.in.NRanks
	if nranks < 1 {
		nranks = 1
	}

	ownerRank := make(map[int64]int, len(allBoxes))
	boundsAll := make(map[int64]grid.Box, len(allBoxes))
	for i, meta := range allBoxes {
		ownerRank[meta.GID] = ownerOfAMRBox(i, nranks)
		boundsAll[meta.GID] = meta.Core.Grow(1)
	}

	var owned []ownedBox
	var localSum float64
	var localCount int64

	for i, meta := range allBoxes {
		if ownerOfAMRBox(i, nranks) != p.in.Rank {
			continue
		}
		neighRecs := rdr.Neighbors(meta.GID)
		linkNeighbors := make([]amrbox.NeighborBox, 0, len(neighRecs))
		infos := make([]neighborInfo, 0, len(neighRecs))
		for _, nr := range neighRecs {
			linkNeighbors = append(linkNeighbors, amrbox.NeighborBox{
				GID: nr.GID, Refinement: nr.Refinement, Level: nr.Level, Bounds: nr.Bounds.Grow(1),
			})
			infos = append(infos, neighborInfo{GID: nr.GID, Level: nr.Level, Refinement: nr.Refinement, Core: nr.Bounds})
		}
		link := amrbox.Link{GID: meta.GID, Neighbors: linkNeighbors}

		box := amrbox.New(meta.GID, meta.Level, meta.Refinement, meta.Core, domain)
		values, err := rdr.ReadBoxValues(meta.GID, box.Bounds)
		if err != nil {
			return fmt.Errorf("read box %d: %w", meta.GID, err)
		}
		box.Values = values
		box.InitMask(link, amrLookup(meta.Core, meta.Refinement, infos))

		sum, count := box.SumCount()
		localSum += sum
		localCount += count

		owned = append(owned, ownedBox{meta: meta, box: box, link: link})
	}
	if len(owned) == 0 {
		p.log.Warn().Msg("amr: no boxes assigned to this rank")
	}

	effectiveRho := p.cfg.Rho
	if !p.cfg.Absolute {
		gsum, err := p.mesh.AllReduceSum(thresholdSumRound, localSum, 60*time.Second)
		if err != nil {
			return fmt.Errorf("allreduce threshold sum: %w", err)
		}
		gcount, err := p.mesh.AllReduceSum(thresholdCountRound, float64(localCount), 60*time.Second)
		if err != nil {
			return fmt.Errorf("allreduce threshold count: %w", err)
		}
		mean := 0.0
		if gcount > 0 {
			mean = gsum / gcount
		}
		effectiveRho = p.cfg.Rho * mean
	}

	blocks := make(map[int64]*components.Block, len(owned))
	cores := make(map[int64]grid.Box, len(owned))
	for _, ob := range owned {
		ob.box.ApplyThreshold(effectiveRho, p.cfg.Negate)
		res := localtree.Build(ob.box, ob.link, p.cfg.Negate)
		blocks[ob.meta.GID] = components.NewBlock(ob.meta.GID, p.cfg.Negate, res)
		cores[ob.meta.GID] = ob.meta.Core
	}

	watchdogBound := 10*len(allBoxes) + 50
	for round := 0; ; round++ {
		start := time.Now()

		perRank := make(map[int][]taggedDescriptor)
		for _, blk := range blocks {
			for destGID, descs := range blk.Send() {
				r, ok := ownerRank[destGID]
				if !ok {
					continue
				}
				for _, d := range descs {
					perRank[r] = append(perRank[r], taggedDescriptor{DestGID: destGID, Desc: d})
				}
			}
		}

		outgoing := make(map[int]json.RawMessage, nranks)
		for r := 0; r < nranks; r++ {
			data, err := json.Marshal(perRank[r])
			if err != nil {
				return fmt.Errorf("components round %d: marshal: %w", round, err)
			}
			outgoing[r] = data
		}
		wantFrom := make([]int, nranks)
		for r := range wantFrom {
			wantFrom[r] = r
		}

		envs, err := p.mesh.Exchange(round, outgoing, wantFrom, 60*time.Second)
		if err != nil {
			return fmt.Errorf("components round %d: %w", round, err)
		}

		byGID := make(map[int64][]components.Descriptor)
		for _, env := range envs {
			var tagged []taggedDescriptor
			if err := json.Unmarshal(env.Payload, &tagged); err != nil {
				return fmt.Errorf("components round %d: unmarshal: %w", round, err)
			}
			for _, td := range tagged {
				byGID[td.DestGID] = append(byGID[td.DestGID], td.Desc)
			}
		}
		for gid, descs := range byGID {
			if blk, ok := blocks[gid]; ok {
				blk.Receive(descs)
			}
		}

		localNotDone := 0
		for _, blk := range blocks {
			localNotDone += blk.NotDoneCount()
		}
		globalNotDone, err := p.mesh.AllReduceSum(round, float64(localNotDone), 60*time.Second)
		if err != nil {
			return fmt.Errorf("components round %d allreduce: %w", round, err)
		}

		p.record("components", round, int(globalNotDone), time.Since(start))
		p.broadcast("components", round, int(globalNotDone))

		if globalNotDone == 0 {
			break
		}
		if round == watchdogBound {
			p.log.Warn().Int("round", round).Msg("components: round count past expected bound, continuing (convergence is guaranteed, not timed)")
		}
	}

	diagrams := make(map[int64]map[tree.VertexID][]components.Pair, len(blocks))
	var integralItems []integral.MinIntegral
	position := func(v tree.VertexID) []int {
		bx, ok := boundsAll[v.GID]
		if !ok {
			return make([]int, domain.Shape.Dim())
		}
		rel := bx.Shape().Vertex(v.Index)
		global := make([]int, len(rel))
		for i := range rel {
			global[i] = rel[i] + bx.Min[i]
		}
		return domain.Fold(global)
	}

	for gid, blk := range blocks {
		diagrams[gid] = blk.FinalDiagrams(effectiveRho)

		if wantsOutput(p.in.Integral) {
			core := cores[gid]
			inCore := func(v tree.VertexID) bool { return v.GID == gid && core.Contains(position(v)) }
			sampler := integral.Sampler{Position: position, CellVolume: domain.CellVolume()}
			items := integral.Trace(blk.Tree, p.cfg.Negate, p.cfg.Theta, effectiveRho, inCore, sampler)
			integralItems = append(integralItems, items...)
		}
	}
	if wantsOutput(p.in.Integral) {
		integralItems = integral.MergeShared(integralItems)
	}

	treePath := rankPath(p.in.OutputTree, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
	if err := writeTreeBlocks(treePath, blocks, cores); err != nil {
		return err
	}

	if wantsOutput(p.in.Diagrams) {
		path := rankPath(p.in.Diagrams, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
		if err := writeDiagrams(path, diagrams); err != nil {
			return err
		}
	}

	if wantsOutput(p.in.Integral) {
		path := rankPath(p.in.Integral, p.in.Rank, p.in.NRanks, p.cfg.SplitIO)
		if err := writeIntegrals(path, domain, integralItems, func(g, idx int64) []int { return position(tree.VertexID{GID: g, Index: idx}) }); err != nil {
			return err
		}
	}

	return nil
}
