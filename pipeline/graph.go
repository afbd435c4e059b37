package pipeline

import (
	"fmt"
	"strings"

	"github.com/gogpu/vision"
)

// sortNodes returns nodes in topological order: every node comes after the
// nodes feeding its input ports. The search is depth-first over upstream
// links and fails as soon as a node is reached again while still on the
// stack.
//
// Each node linked to an input port must be part of nodes.
func sortNodes(nodes []Node) ([]Node, error) {
	byBase := make(map[*Base]Node, len(nodes))
	for _, n := range nodes {
		byBase[n.base()] = n
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[*Base]int, len(nodes))
	order := make([]Node, 0, len(nodes))

	var visit func(b *Base, path []string) error
	visit = func(b *Base, path []string) error {
		path = append(path, b.name)
		color[b] = grey
		for _, up := range b.upstream() {
			if _, ok := byBase[up]; !ok {
				return vision.IllegalOperation("pipeline: node %s feeds %s but is not part of the pipeline. Did you forget to add it?", up, b)
			}
			switch color[up] {
			case grey:
				return fmt.Errorf("%w: %s", vision.ErrCycleDetected, strings.Join(append(path, up.name), " <- "))
			case white:
				if err := visit(up, path); err != nil {
					return err
				}
			}
		}
		color[b] = black
		order = append(order, byBase[b])
		return nil
	}

	for _, n := range nodes {
		if color[n.base()] == white {
			if err := visit(n.base(), nil); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// validateSequence checks that a sorted sequence starts with a source and
// contains at least one sink.
func validateSequence(seq []Node) error {
	if len(seq) == 0 {
		return vision.IllegalOperation("pipeline: empty sequence of nodes")
	}
	if !seq[0].base().IsSource() {
		return vision.IllegalOperation("pipeline: the first node %s is not a source", seq[0].base())
	}
	for _, n := range seq {
		if isSink(n) {
			return nil
		}
	}
	return vision.IllegalOperation("pipeline: no sink node")
}

// isSink reports whether n is a sink: it has no output ports and exports a
// result.
func isSink(n Node) bool {
	_, ok := n.(Exporter)
	return ok && len(n.base().outputs) == 0
}
