package mcts

import (
	"strconv"

	"github.com/awalterschulze/gographviz"
)

// DOT renders the instance's live tree as Graphviz source, labeling
// each edge with its move, visit count, and mean value. Intended for
// cmd/treedump: the teacher never visualized its tree, but this pack
// carries gographviz unused otherwise, and a search tree is exactly
// the kind of structure it exists to draw.
func (m *Instance) DOT() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("tree"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	for id := range m.arena {
		name := nodeName(NodeID(id))
		attrs := map[string]string{"shape": "circle"}
		if m.arena[id].terminal {
			attrs["shape"] = "doublecircle"
		}
		if err := g.AddNode("tree", name, attrs); err != nil {
			return "", err
		}
	}

	for id := range m.arena {
		for _, e := range m.arena[id].edges {
			label := "\"move=" + strconv.Itoa(e.move) +
				" n=" + strconv.Itoa(int(e.visits)) +
				" q=" + strconv.FormatFloat(float64(e.q()), 'f', 3, 32) + "\""
			attrs := map[string]string{"label": label}
			if err := g.AddEdge(nodeName(NodeID(id)), nodeName(e.child), true, attrs); err != nil {
				return "", err
			}
		}
	}

	return g.String(), nil
}

func nodeName(id NodeID) string {
	return "n" + strconv.Itoa(int(id))
}
