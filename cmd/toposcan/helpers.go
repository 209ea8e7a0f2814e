package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rskv-p/toposcan/internal/amrbox"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/reader"
	"github.com/rskv-p/toposcan/internal/swapreduce"
	"github.com/rskv-p/toposcan/internal/tree"
)

func onesOf(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// sliceLookup resolves ownership of a folded global index against the
// exact partition splitShape produced: every folded coordinate lies in
// exactly one box, including selfIdx's own (the self-wrap ghost case a
// fully-periodic run hits on every axis but 0, and on axis 0 too when
// there is a single rank).
func sliceLookup(boxes []grid.Box, selfIdx int) amrbox.NeighborLookup {
	return func(folded []int) (int64, int, bool, bool) {
		for i, b := range boxes {
			if b.Contains(folded) {
				return int64(i), 0, false, true
			}
		}
		return 0, 0, false, false
	}
}

// fillFromScalarReader populates box.Values cell by cell, folding each
// of box.Bounds's (possibly out-of-domain, ghost-grown) coordinates
// through the domain before asking the reader for it: ScalarReader.ReadBox
// has no wrap convention of its own (see internal/reader), so the block
// builder owns folding.
func fillFromScalarReader(rdr reader.ScalarReader, box *amrbox.MaskedBox) error {
	values := make([]grid.Value, len(box.Values))
	var ferr error
	box.Cells(func(global []int, c *amrbox.Cell) {
		if ferr != nil {
			return
		}
		folded := box.Domain.Fold(global)
		single := grid.NewBox(folded, folded)
		v, err := rdr.ReadBox(single)
		if err != nil {
			ferr = fmt.Errorf("read cell %v: %w", folded, err)
			return
		}
		values[box.Index(global)] = v[0]
	})
	if ferr != nil {
		return ferr
	}
	box.Values = values
	return nil
}

// thresholdSumRound and thresholdCountRound are the exchange round ids
// reserved for the pre-loop mean-threshold all-reduce (spec.md §4.2's
// "rho scaled by the global mean unless -a"); negative so they can never
// collide with a later swap-reduce or components round number.
const (
	thresholdSumRound   = -1
	thresholdCountRound = -2
)

// resolveRho turns cfg.Rho into an absolute threshold, all-reducing the
// global Active-core mean across every rank unless -a was given.
func (p *pipelineCtx) resolveRho(box *amrbox.MaskedBox) (float64, error) {
	if p.cfg.Absolute {
		return p.cfg.Rho, nil
	}
	sum, count := box.SumCount()
	gsum, err := p.mesh.AllReduceSum(thresholdSumRound, sum, 30*time.Second)
	if err != nil {
		return 0, fmt.Errorf("allreduce threshold sum: %w", err)
	}
	gcount, err := p.mesh.AllReduceSum(thresholdCountRound, float64(count), 30*time.Second)
	if err != nil {
		return 0, fmt.Errorf("allreduce threshold count: %w", err)
	}
	mean := 0.0
	if gcount > 0 {
		mean = gsum / gcount
	}
	return p.cfg.Rho * mean, nil
}

// treeNodeWire is the wire form of one tree.Node, used to ship a whole
// tree.TripletMergeTree across the mesh (swap-reduce's Outgoing message),
// since TripletMergeTree's node map is unexported and cannot round-trip
// through encoding/json directly — the same (vertex, value, through,
// parent, absorbed-vertices) quadruple persist.NodeRecord captures.
type treeNodeWire struct {
	Vertex   tree.VertexID       `json:"vertex"`
	Value    tree.Value          `json:"value"`
	Through  tree.VertexID       `json:"through"`
	Parent   tree.VertexID       `json:"parent"`
	Vertices []tree.ValuedVertex `json:"vertices,omitempty"`
}

type outgoingWire struct {
	Negate    bool           `json:"negate"`
	Nodes     []treeNodeWire `json:"nodes"`
	GlobalBox grid.Box       `json:"global_box"`
}

func marshalOutgoing(o swapreduce.Outgoing, negate bool) (json.RawMessage, error) {
	w := outgoingWire{Negate: negate, GlobalBox: o.GlobalBox}
	o.Tree.Nodes(func(n *tree.Node) {
		w.Nodes = append(w.Nodes, treeNodeWire{
			Vertex: n.Vertex, Value: n.Value, Through: n.Through, Parent: n.Parent, Vertices: n.Vertices,
		})
	})
	return json.Marshal(w)
}

func unmarshalIncoming(data json.RawMessage) (swapreduce.Incoming, error) {
	var w outgoingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return swapreduce.Incoming{}, fmt.Errorf("unmarshal swap-reduce payload: %w", err)
	}
	t := tree.New(w.Negate)
	for _, nr := range w.Nodes {
		n := t.Add(nr.Vertex, nr.Value)
		n.Through = nr.Through
		n.Parent = nr.Parent
		n.Vertices = nr.Vertices
	}
	return swapreduce.Incoming{Tree: t, GlobalBox: w.GlobalBox}, nil
}
