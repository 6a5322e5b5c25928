package graph

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ppiankov/verity/internal/model"
)

// Stats summarizes the graph shape
type Stats struct {
	TotalNodes          int            `json:"total_nodes"`
	TotalEdges          int            `json:"total_edges"`
	ClaimNodes          int            `json:"claim_nodes"`
	EntityNodes         int            `json:"entity_nodes"`
	SourceNodes         int            `json:"source_nodes"`
	SupportsEdges       int            `json:"supports_edges"`
	ContradictsEdges    int            `json:"contradicts_edges"`
	ConnectedComponents int            `json:"connected_components"`
	NodeTypes           map[string]int `json:"node_types"`
	EdgeTypes           map[string]int `json:"edge_types"`
}

// ClaimSummary is a neighboring claim in a ClaimContext
type ClaimSummary struct {
	ClaimID    string  `json:"claim_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// EntitySummary is an entity mentioned by a claim
type EntitySummary struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

// ClaimContext is the neighborhood of one claim
type ClaimContext struct {
	Claim       *model.Claim    `json:"claim"`
	Supports    []ClaimSummary  `json:"supports"`
	Contradicts []ClaimSummary  `json:"contradicts"`
	Related     []ClaimSummary  `json:"related"`
	Entities    []EntitySummary `json:"entities"`
	Sources     []*model.Source `json:"sources"`
}

// undirected builds an undirected gonum view over the nodes accepted by
// keep. Returned ids index into the names slice.
func (g *Graph) undirected(keep func(*Node) bool) (*simple.UndirectedGraph, []string) {
	ug := simple.NewUndirectedGraph()
	index := make(map[string]int64)
	var names []string
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if !keep(n) {
			continue
		}
		index[id] = int64(len(names))
		names = append(names, id)
		ug.AddNode(simple.Node(index[id]))
	}
	for _, k := range g.edgeOrder {
		from, okFrom := index[k.from]
		to, okTo := index[k.to]
		if !okFrom || !okTo || from == to {
			continue
		}
		ug.SetEdge(ug.NewEdge(simple.Node(from), simple.Node(to)))
	}
	return ug, names
}

// FindClusters groups claim ids into communities of the claim-only
// subgraph. Fewer than three claims form a single cluster.
func (g *Graph) FindClusters() (clusters [][]string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var claims []string
	for _, id := range g.nodeOrder {
		if g.nodes[id].Type == NodeClaim {
			claims = append(claims, strings.TrimPrefix(id, NodeClaim+":"))
		}
	}
	if len(claims) < 3 {
		return [][]string{claims}
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("community detection failed", zap.Any("panic", r))
			clusters = [][]string{claims}
		}
	}()

	ug, names := g.undirected(func(n *Node) bool { return n.Type == NodeClaim })
	reduced := community.Modularize(ug, 1, newClusterSource())
	for _, comm := range reduced.Communities() {
		ids := make([]int64, 0, len(comm))
		for _, n := range comm {
			ids = append(ids, n.ID())
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		cluster := make([]string, 0, len(ids))
		for _, id := range ids {
			cluster = append(cluster, strings.TrimPrefix(names[id], NodeClaim+":"))
		}
		clusters = append(clusters, cluster)
	}
	sortClusters(clusters, claims)
	return clusters
}

// clusterSeed fixes community detection so the same graph always yields
// the same clusters
const clusterSeed = 0x5eed

// splitMix is a seeded splitmix64 source for community.Modularize
type splitMix struct {
	state uint64
}

func newClusterSource() *splitMix {
	return &splitMix{state: clusterSeed}
}

func (s *splitMix) Seed(seed uint64) { s.state = seed }

func (s *splitMix) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// sortClusters orders clusters by size, then by first appearance
func sortClusters(clusters [][]string, order []string) {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	first := func(c []string) int {
		lowest := len(order)
		for _, id := range c {
			if p := pos[id]; p < lowest {
				lowest = p
			}
		}
		return lowest
	}
	for _, c := range clusters {
		sort.Slice(c, func(i, j int) bool { return pos[c[i]] < pos[c[j]] })
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if len(clusters[i]) != len(clusters[j]) {
			return len(clusters[i]) > len(clusters[j])
		}
		return first(clusters[i]) < first(clusters[j])
	})
}

// Statistics counts nodes and edges by type. Components are counted with
// edge direction ignored.
func (g *Graph) Statistics() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		TotalNodes: len(g.nodes),
		TotalEdges: len(g.edges),
		NodeTypes:  make(map[string]int),
		EdgeTypes:  make(map[string]int),
	}
	for _, n := range g.nodes {
		s.NodeTypes[n.Type]++
	}
	for k := range g.edges {
		s.EdgeTypes[k.relation]++
	}
	s.ClaimNodes = s.NodeTypes[NodeClaim]
	s.EntityNodes = s.NodeTypes[NodeEntity]
	s.SourceNodes = s.NodeTypes[NodeSource]
	s.SupportsEdges = s.EdgeTypes[string(model.RelationSupports)]
	s.ContradictsEdges = s.EdgeTypes[string(model.RelationContradicts)]

	if len(g.nodes) > 0 {
		ug, _ := g.undirected(func(*Node) bool { return true })
		s.ConnectedComponents = len(topo.ConnectedComponents(ug))
	}
	return s
}

// ClaimContext returns the neighborhood of a claim, or false when the
// claim is not in the graph
func (g *Graph) ClaimContext(claimID string) (ClaimContext, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id := ClaimNodeID(claimID)
	node, ok := g.nodes[id]
	if !ok {
		return ClaimContext{}, false
	}

	ctx := ClaimContext{Claim: node.Claim}
	seen := make(map[string]bool)
	for _, k := range g.edgeOrder {
		var other string
		switch id {
		case k.from:
			other = k.to
		case k.to:
			other = k.from
		default:
			continue
		}
		if seen[other] {
			continue
		}
		seen[other] = true

		n := g.nodes[other]
		switch n.Type {
		case NodeEntity:
			ctx.Entities = append(ctx.Entities, EntitySummary{Name: n.Label, Mentions: n.Mentions})
		case NodeSource:
			ctx.Sources = append(ctx.Sources, n.Source)
		case NodeClaim:
			summary := ClaimSummary{ClaimID: n.Claim.ID, Text: n.Claim.Text, Confidence: n.Claim.Confidence}
			switch k.relation {
			case string(model.RelationSupports):
				ctx.Supports = append(ctx.Supports, summary)
			case string(model.RelationContradicts):
				ctx.Contradicts = append(ctx.Contradicts, summary)
			default:
				ctx.Related = append(ctx.Related, summary)
			}
		}
	}
	return ctx, true
}
