package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/integral"
	"github.com/rskv-p/toposcan/internal/persist"
	"github.com/rskv-p/toposcan/internal/tree"
)

// rankPath appends a "-rankN" suffix to path's base name whenever this
// process cannot be the sole writer of a shared file: spec.md's --split
// always does, and a multi-rank run does implicitly too, since every
// rank is a separate OS process with no in-process gather step (see
// DESIGN.md's simplification note on output-file gathering).
func rankPath(path string, rank, nranks int, split bool) string {
	if !split && nranks <= 1 {
		return path
	}
	return fmt.Sprintf("%s.rank%d", path, rank)
}

// writeTreeBlocks serializes every local block's final state as
// spec.md §6's "framework-native block serialization (opaque,
// versioned)", one persist.BlockRecord per line.
func writeTreeBlocks(path string, blocks map[int64]*components.Block, cores map[int64]grid.Box) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	for gid, b := range blocks {
		rec := persist.EncodeBlock(b, cores[gid])
		data, err := persist.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", gid, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write block %d: %w", gid, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// writeDiagrams writes spec.md §6's persistence-diagram text format: one
// `birth death` pair per line, grouped per component under a
// `# component gid=<gid> root=(<gid>,<index>)` header line (the grouping
// convention this
// implementation chooses for the spec's "implementation-defined"
// per-component grouping).
func writeDiagrams(path string, diagrams map[int64]map[tree.VertexID][]components.Pair) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	for gid, byRoot := range diagrams {
		for root, pairs := range byRoot {
			fmt.Fprintf(w, "# component gid=%d root=%s\n", gid, root)
			for _, pr := range pairs {
				fmt.Fprintf(w, "%g %g\n", pr.Birth, pr.Death)
			}
		}
	}
	return nil
}

// writeIntegrals writes spec.md §6's integral text format: one line per
// component, `<global_x> <global_y> <global_z> <integral> [<avg_field>
// ...]`, coordinates taken from the component's min_vertex position.
func writeIntegrals(path string, domain grid.Domain, items []integral.MinIntegral, position func(v int64, index int64) []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	for _, mi := range items {
		pos := position(mi.MinVertex.GID, mi.MinVertex.Index)
		coord := domain.GlobalCoord(pos)
		for len(coord) < 3 {
			coord = append(coord, 0)
		}
		fmt.Fprintf(w, "%g %g %g %g", coord[0], coord[1], coord[2], mi.Integral)
		for _, avg := range averages(mi) {
			fmt.Fprintf(w, " %g", avg)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func averages(mi integral.MinIntegral) []float64 {
	if mi.NCells == 0 {
		return nil
	}
	out := make([]float64, len(mi.AddSums))
	for i, s := range mi.AddSums {
		out[i] = s / float64(mi.NCells)
	}
	return out
}
