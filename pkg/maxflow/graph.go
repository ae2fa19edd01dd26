// Package maxflow computes minimum s-t cuts of capacitated graphs with
// float64 capacities.
//
// A Graph is filled incrementally with nodes, bidirectional edges and
// terminal (source/sink) capacities, then solved once with MaxFlow. After
// solving, Segment reports on which side of the minimum cut each node lies.
// Nodes that can still reach the sink through unsaturated residual arcs are
// on the Sink side, all others (including nodes with no connection at all)
// on the Source side.
//
// The solver is a highest-label push/relabel with exact initial distance
// labels. Only the first phase is run (a maximum preflow), which is all a
// minimum cut needs.
package maxflow

import (
	"container/heap"
	"math"
)

// Segment is the side of the cut a node ends up on.
type Segment int

const (
	Source Segment = iota
	Sink
)

func (s Segment) String() string {
	if s == Sink {
		return "SINK"
	}
	return "SOURCE"
}

// residual capacities at or below eps are treated as saturated
const eps = 1e-12

// Edge is a stored bidirectional edge.
type Edge struct {
	From, To int
	Capacity float64 // From -> To
	Reverse  float64 // To -> From
}

// Graph is a flow network under construction. The zero value is not usable;
// call NewGraph.
type Graph struct {
	nodes    int
	edges    []Edge
	tSource  []float64
	tSink    []float64
	solved   bool
	flow     float64
	segments []Segment
}

// NewGraph returns an empty graph. nodeHint and edgeHint only reserve
// capacity; the graph grows past them as needed.
func NewGraph(nodeHint, edgeHint int) *Graph {
	if nodeHint < 0 {
		nodeHint = 0
	}
	if edgeHint < 0 {
		edgeHint = 0
	}
	return &Graph{
		edges:   make([]Edge, 0, edgeHint),
		tSource: make([]float64, 0, nodeHint),
		tSink:   make([]float64, 0, nodeHint),
	}
}

// AddNodes appends n nodes and returns the id of the first one.
func (g *Graph) AddNodes(n int) int {
	first := g.nodes
	g.nodes += n
	g.tSource = append(g.tSource, make([]float64, n)...)
	g.tSink = append(g.tSink, make([]float64, n)...)
	return first
}

// Nodes returns the number of non-terminal nodes.
func (g *Graph) Nodes() int { return g.nodes }

// AddEdge adds an edge with capacity capUV from u to v and capVU from v to u.
// Repeated edges between the same nodes are kept as separate records.
func (g *Graph) AddEdge(u, v int, capUV, capVU float64) {
	g.checkNode(u)
	g.checkNode(v)
	g.edges = append(g.edges, Edge{From: u, To: v, Capacity: capUV, Reverse: capVU})
}

// AddTerminalWeights adds capacity from the source to node and from node to
// the sink. Cutting the source arc puts node on the Sink side, so
// sourceCap is the cost of labelling node Sink and sinkCap the cost of
// labelling it Source. Repeated calls accumulate.
func (g *Graph) AddTerminalWeights(node int, sourceCap, sinkCap float64) {
	g.checkNode(node)
	g.tSource[node] += sourceCap
	g.tSink[node] += sinkCap
}

// NumEdges returns the number of stored edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Edges returns the stored edges in insertion order. The slice must not be
// modified.
func (g *Graph) Edges() []Edge { return g.edges }

// TerminalWeights returns the accumulated terminal capacities of node.
func (g *Graph) TerminalWeights(node int) (sourceCap, sinkCap float64) {
	return g.tSource[node], g.tSink[node]
}

// Segment returns the side of the minimum cut node lies on. It returns
// Source for every node before MaxFlow has run.
func (g *Graph) Segment(node int) Segment {
	if !g.solved {
		return Source
	}
	return g.segments[node]
}

func (g *Graph) checkNode(n int) {
	if n < 0 || n >= g.nodes {
		panic("maxflow: node id out of range")
	}
}

// network is the residual graph in compressed adjacency form. Arcs are
// stored in pairs so that the reverse of arc a is a^1.
type network struct {
	n       int // including source and sink
	s, t    int
	first   []int32 // first[v]..first[v+1] index into order
	order   []int32 // arc ids grouped by tail node
	head    []int32 // arc id -> head node
	cap     []float64
	excess  []float64
	height  []int32
	current []int32
}

func (g *Graph) buildNetwork() (*network, float64) {
	n := g.nodes + 2
	s, t := g.nodes, g.nodes+1

	// Cancel the common part of each terminal pair: it is paid whatever the
	// label and does not need to pass through the network.
	var constant float64
	src := make([]float64, g.nodes)
	snk := make([]float64, g.nodes)
	terminalArcs := 0
	for v := 0; v < g.nodes; v++ {
		m := math.Min(g.tSource[v], g.tSink[v])
		constant += m
		src[v] = g.tSource[v] - m
		snk[v] = g.tSink[v] - m
		if src[v] > 0 {
			terminalArcs++
		}
		if snk[v] > 0 {
			terminalArcs++
		}
	}

	arcs := 2 * (len(g.edges) + terminalArcs)
	nw := &network{
		n:       n,
		s:       s,
		t:       t,
		first:   make([]int32, n+1),
		order:   make([]int32, arcs),
		head:    make([]int32, arcs),
		cap:     make([]float64, arcs),
		excess:  make([]float64, n),
		height:  make([]int32, n),
		current: make([]int32, n),
	}

	tails := make([]int32, 0, arcs)
	add := func(u, v int, cuv, cvu float64) {
		a := len(tails)
		nw.head[a], nw.cap[a] = int32(v), cuv
		nw.head[a+1], nw.cap[a+1] = int32(u), cvu
		tails = append(tails, int32(u), int32(v))
	}
	for _, e := range g.edges {
		add(e.From, e.To, e.Capacity, e.Reverse)
	}
	for v := 0; v < g.nodes; v++ {
		if src[v] > 0 {
			add(s, v, src[v], 0)
		}
		if snk[v] > 0 {
			add(v, t, snk[v], 0)
		}
	}

	// counting sort of arcs by tail
	for _, u := range tails {
		nw.first[u+1]++
	}
	for v := 0; v < n; v++ {
		nw.first[v+1] += nw.first[v]
	}
	fill := append([]int32(nil), nw.first[:n]...)
	for a, u := range tails {
		nw.order[fill[u]] = int32(a)
		fill[u]++
	}

	return nw, constant
}

// sinkDistances runs a reverse breadth-first search from the sink over arcs
// with residual capacity, returning the distance of each node to the sink or
// -1 when the sink is unreachable.
func (nw *network) sinkDistances() []int32 {
	dist := make([]int32, nw.n)
	for i := range dist {
		dist[i] = -1
	}
	dist[nw.t] = 0
	queue := []int32{int32(nw.t)}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for k := nw.first[x]; k < nw.first[x+1]; k++ {
			a := nw.order[k]
			y := nw.head[a]
			// the reverse arc y -> x must have residual capacity
			if dist[y] < 0 && nw.cap[a^1] > eps {
				dist[y] = dist[x] + 1
				queue = append(queue, y)
			}
		}
	}
	return dist
}

// MaxFlow solves the graph and returns the value of the maximum flow, which
// equals the total capacity of the minimum cut including the terminal
// capacity cancelled before solving. It may be called once.
func (g *Graph) MaxFlow() float64 {
	if g.solved {
		return g.flow
	}

	nw, constant := g.buildNetwork()
	limit := int32(nw.n)

	dist := nw.sinkDistances()
	for v := range nw.height {
		if dist[v] < 0 {
			nw.height[v] = limit
		} else {
			nw.height[v] = dist[v]
		}
		nw.current[v] = nw.first[v]
	}
	nw.height[nw.s] = limit

	active := &activeQueue{height: nw.height}

	// saturate every source arc
	for k := nw.first[nw.s]; k < nw.first[nw.s+1]; k++ {
		a := nw.order[k]
		c := nw.cap[a]
		if c <= 0 {
			continue
		}
		v := nw.head[a]
		nw.cap[a] = 0
		nw.cap[a^1] += c
		nw.excess[v] += c
		if int(v) != nw.t && nw.height[v] < limit && !active.contains(v) {
			heap.Push(active, v)
		}
	}

	for active.Len() > 0 {
		u := heap.Pop(active).(int32)
		nw.discharge(u, limit, active)
	}

	g.flow = nw.excess[nw.t] + constant

	dist = nw.sinkDistances()
	g.segments = make([]Segment, g.nodes)
	for v := 0; v < g.nodes; v++ {
		if dist[v] >= 0 {
			g.segments[v] = Sink
		}
	}
	g.solved = true
	return g.flow
}

// discharge pushes the excess of u to admissible neighbours, relabelling u
// whenever its arcs are exhausted. Nodes lifted to limit can no longer reach
// the sink and keep their excess.
func (nw *network) discharge(u, limit int32, active *activeQueue) {
	for nw.excess[u] > eps {
		if nw.current[u] == nw.first[u+1] {
			nw.relabel(u, limit)
			if nw.height[u] >= limit {
				return
			}
			nw.current[u] = nw.first[u]
			continue
		}

		a := nw.order[nw.current[u]]
		v := nw.head[a]
		if nw.cap[a] > eps && nw.height[u] == nw.height[v]+1 {
			delta := math.Min(nw.excess[u], nw.cap[a])
			if delta == nw.cap[a] {
				nw.cap[a] = 0
			} else {
				nw.cap[a] -= delta
			}
			nw.cap[a^1] += delta
			nw.excess[u] -= delta
			nw.excess[v] += delta
			if int(v) != nw.s && int(v) != nw.t && nw.height[v] < limit && !active.contains(v) {
				heap.Push(active, v)
			}
			continue
		}
		nw.current[u]++
	}
}

func (nw *network) relabel(u, limit int32) {
	h := limit
	for k := nw.first[u]; k < nw.first[u+1]; k++ {
		a := nw.order[k]
		if nw.cap[a] > eps {
			if hv := nw.height[nw.head[a]] + 1; hv < h {
				h = hv
			}
		}
	}
	nw.height[u] = h
}

// activeQueue is a max-heap of active nodes keyed on height.
type activeQueue struct {
	ids    []int32
	height []int32
	queued map[int32]struct{}
}

func (q *activeQueue) contains(v int32) bool {
	_, ok := q.queued[v]
	return ok
}

func (q *activeQueue) Len() int { return len(q.ids) }

func (q *activeQueue) Less(i, j int) bool {
	return q.height[q.ids[i]] > q.height[q.ids[j]]
}

func (q *activeQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }

func (q *activeQueue) Push(x any) {
	v := x.(int32)
	if q.queued == nil {
		q.queued = make(map[int32]struct{})
	}
	q.queued[v] = struct{}{}
	q.ids = append(q.ids, v)
}

func (q *activeQueue) Pop() any {
	n := len(q.ids)
	v := q.ids[n-1]
	q.ids = q.ids[:n-1]
	delete(q.queued, v)
	return v
}
