package plan

// Index flattens a Root's node tree into a lookup table keyed by Key. The
// VM evaluator uses it to resolve a SubspaceReference back to the ancestor
// node whose field structure a recursive back-edge reuses.
func (r *Root) Index() map[Key]*Node {
	idx := map[Key]*Node{}
	for _, name := range r.Order {
		indexNode(r.Exports[name], idx)
	}
	return idx
}

func indexNode(n *Node, idx map[Key]*Node) {
	if n == nil {
		return
	}
	idx[n.Key] = n
	if n.Set != nil {
		indexNode(n.Set, idx)
	}
	for _, name := range n.childOrder {
		indexNode(n.Children[name], idx)
	}
}

// Shape returns the node whose Children describe n's field structure:
// n itself, unless n is a recursive back-edge (non-zero SubspaceReference,
// no children of its own), in which case it is the ancestor node named by
// SubspaceReference.
func Shape(n *Node, index map[Key]*Node) *Node {
	if len(n.Children) == 0 && n.Set == nil && !n.SubspaceReference.IsZero() {
		if anc, ok := index[n.SubspaceReference]; ok {
			return anc
		}
	}
	return n
}
