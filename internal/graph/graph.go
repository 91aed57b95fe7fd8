// Package graph derives the dependency DAG over Tasks (and Epics) from
// declared blockers and computes the views built on it: readiness, impact,
// longest chains, cycles, and effort-aware schedules.
//
// Views are recomputed on demand from the store's index; nothing here
// mutates artefacts.
package graph

import (
	"sort"

	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

// Node is one artefact in the graph with resolved edges.
type Node struct {
	ID         string
	Entry      *store.IndexEntry
	Blockers   []string // canonical IDs of artefacts that must finish first
	Dependents []string // reverse edges, derived in the same pass
}

// Graph is the blocker DAG over one artefact kind.
type Graph struct {
	Kind  types.Kind
	Nodes map[string]*Node

	// Dangling maps node ID -> blocker references that did not resolve to a
	// known artefact. Recorded for the validator; excluded from edges.
	Dangling map[string][]string

	order []string // node IDs sorted by key, for deterministic iteration
}

// Build constructs the graph for a kind from the store's index. Cancelled
// artefacts stay in the graph as nodes (their dependents need them for
// terminal checks) but contribute no blocking.
func Build(st *store.Store, kind types.Kind) (*Graph, error) {
	idx, err := st.Index(kind)
	if err != nil {
		return nil, err
	}
	resolver, err := st.Resolver(kind)
	if err != nil {
		return nil, err
	}

	g := &Graph{Kind: kind, Nodes: make(map[string]*Node, len(idx)), Dangling: map[string][]string{}}
	for key, e := range idx {
		g.Nodes[key] = &Node{ID: key, Entry: e}
		g.order = append(g.order, key)
	}
	sort.Strings(g.order)

	for _, id := range g.order {
		n := g.Nodes[id]
		seen := map[string]bool{}
		for _, ref := range n.Entry.Front.BlockedBy {
			canon := resolver.Resolve(ref)
			if canon == "" {
				g.Dangling[id] = append(g.Dangling[id], ref)
				continue
			}
			if canon == id || seen[canon] {
				// Self references and duplicates are validator findings, not
				// edges.
				continue
			}
			seen[canon] = true
			n.Blockers = append(n.Blockers, canon)
			g.Nodes[canon].Dependents = append(g.Nodes[canon].Dependents, id)
		}
	}
	return g, nil
}

// IDs returns every node ID in deterministic order.
func (g *Graph) IDs() []string { return g.order }

// status returns a node's canonical status ("" for degraded entries).
func (g *Graph) status(id string) string {
	return types.CanonicalStatus(g.Nodes[id].Entry.Front.Status)
}

// Ready returns the nodes whose status is Not Started and whose blockers are
// all terminal (Done or Cancelled) or absent. includeStarted also admits
// In Progress nodes. Results sort by bottleneck score descending, creation
// time ascending.
func (g *Graph) Ready(includeStarted bool) []*Node {
	chains, cyclic := g.longestChains()

	var out []*Node
	for _, id := range g.order {
		n := g.Nodes[id]
		switch g.status(id) {
		case types.StatusNotStarted:
		case types.StatusInProgress:
			if !includeStarted {
				continue
			}
		default:
			continue
		}
		if cyclic[id] {
			// A node on (or downstream of) a cycle can never be scheduled.
			continue
		}
		ready := true
		for _, b := range n.Blockers {
			if !types.IsTerminal(g.Nodes[b].Entry.Front.Status) {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := g.score(out[i].ID, chains), g.score(out[j].ID, chains)
		if si != sj {
			return si > sj
		}
		return out[i].Entry.CreatedAt.Before(out[j].Entry.CreatedAt)
	})
	return out
}

// BottleneckScore computes |direct dependents| * longest downstream chain.
// The boolean is false when the node sits on a cycle and the chain length is
// undefined.
func (g *Graph) BottleneckScore(id string) (int, bool) {
	chains, cyclic := g.longestChains()
	if cyclic[id] {
		return 0, false
	}
	return g.score(id, chains), true
}

func (g *Graph) score(id string, chains map[string]int) int {
	return len(g.Nodes[id].Dependents) * chains[id]
}

// LongestChain returns the length of the longest downstream chain from id:
// the number of distinct descendants on its longest path. False when the
// computation hit a cycle involving id.
func (g *Graph) LongestChain(id string) (int, bool) {
	chains, cyclic := g.longestChains()
	if cyclic[id] {
		return 0, false
	}
	n, ok := chains[id]
	return n, ok
}

// longestChains memoizes the downstream chain length per node with an
// iterative DFS over the dependent edges. Nodes involved in cycles are
// flagged instead of computed.
func (g *Graph) longestChains() (map[string]int, map[string]bool) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))
	chain := make(map[string]int, len(g.Nodes))
	cyclic := map[string]bool{}

	for _, scc := range g.Cycles() {
		for _, id := range scc {
			cyclic[id] = true
		}
	}

	var visit func(string)
	visit = func(id string) {
		type frame struct {
			id   string
			next int
		}
		stack := []frame{{id: id}}
		state[id] = inStack
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			n := g.Nodes[f.id]
			if f.next < len(n.Dependents) {
				dep := n.Dependents[f.next]
				f.next++
				if cyclic[dep] || cyclic[f.id] {
					cyclic[f.id] = true
					continue
				}
				if state[dep] == unvisited {
					state[dep] = inStack
					stack = append(stack, frame{id: dep})
				}
				continue
			}
			best := 0
			for _, dep := range n.Dependents {
				if cyclic[dep] {
					cyclic[f.id] = true
					break
				}
				if c := chain[dep] + 1; c > best {
					best = c
				}
			}
			chain[f.id] = best
			state[f.id] = done
			stack = stack[:len(stack)-1]
		}
	}

	for _, id := range g.order {
		if state[id] == unvisited && !cyclic[id] {
			visit(id)
		}
	}
	return chain, cyclic
}

// Cycles runs iterative Tarjan over the blocker edges of non-Cancelled nodes
// and returns each cycle as a closed path (first node repeated at the end).
// Self loops declared in blocked_by count as cycles of length one.
func (g *Graph) Cycles() [][]string {
	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	counter := 0
	var sccs [][]string

	edges := func(id string) []string {
		if types.IsCancelled(g.Nodes[id].Entry.Front.Status) {
			return nil
		}
		var out []string
		for _, b := range g.Nodes[id].Blockers {
			if !types.IsCancelled(g.Nodes[b].Entry.Front.Status) {
				out = append(out, b)
			}
		}
		return out
	}

	type frame struct {
		id   string
		next int
	}
	for _, start := range g.order {
		if _, seen := index[start]; seen {
			continue
		}
		callStack := []frame{{id: start}}
		index[start] = counter
		low[start] = counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(callStack) > 0 {
			f := &callStack[len(callStack)-1]
			succ := edges(f.id)
			if f.next < len(succ) {
				w := succ[f.next]
				f.next++
				if _, seen := index[w]; !seen {
					index[w] = counter
					low[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					callStack = append(callStack, frame{id: w})
				} else if onStack[w] {
					if index[w] < low[f.id] {
						low[f.id] = index[w]
					}
				}
				continue
			}

			v := f.id
			callStack = callStack[:len(callStack)-1]
			if len(callStack) > 0 {
				parent := callStack[len(callStack)-1].id
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] == index[v] {
				var scc []string
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				if len(scc) > 1 {
					sccs = append(sccs, g.cyclePath(scc))
				} else if g.selfLoop(scc[0]) {
					sccs = append(sccs, []string{scc[0], scc[0]})
				}
			}
		}
	}
	return sccs
}

func (g *Graph) selfLoop(id string) bool {
	for _, ref := range g.Nodes[id].Entry.Front.BlockedBy {
		if types.NormalizeID(g.Kind, ref) == id {
			return true
		}
	}
	return false
}

// cyclePath orders an SCC along its blocker edges into a closed path:
// [a b c a].
func (g *Graph) cyclePath(scc []string) []string {
	in := map[string]bool{}
	for _, id := range scc {
		in[id] = true
	}
	sort.Strings(scc)
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	cur := start
	for {
		advanced := false
		for _, b := range g.Nodes[cur].Blockers {
			if !in[b] {
				continue
			}
			if b == start && len(path) > 1 {
				return append(path, start)
			}
			if !visited[b] {
				visited[b] = true
				path = append(path, b)
				cur = b
				advanced = true
				break
			}
		}
		if !advanced {
			// Fall back to the unordered SCC; still a valid cycle report.
			return append(scc, scc[0])
		}
	}
}
