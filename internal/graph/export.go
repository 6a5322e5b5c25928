package graph

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/ppiankov/verity/internal/model"
)

var nodeColors = map[string]string{
	NodeClaim:  "#3b82f6",
	NodeEntity: "#10b981",
	NodeSource: "#6b7280",
}

var edgeColors = map[string]string{
	string(model.RelationSupports):    "#10b981",
	string(model.RelationContradicts): "#ef4444",
	RelationAbout:                     "#9ca3af",
	RelationFrom:                      "#6b7280",
	string(model.RelationRelatedTo):   "#d1d5db",
}

const (
	defaultNodeColor = "#9ca3af"
	defaultEdgeColor = "#d1d5db"
)

// Visualization exports the graph for the browser view. Entities grow
// with their mention count and edges thicken with confidence.
func (g *Graph) Visualization() ([]model.GraphNode, []model.GraphEdge) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]model.GraphNode, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		color, ok := nodeColors[n.Type]
		if !ok {
			color = defaultNodeColor
		}
		size := 15
		if n.Type == NodeEntity {
			size = 10 + 2*n.Mentions
		}
		nodes = append(nodes, model.GraphNode{ID: n.ID, Label: n.Label, Type: n.Type, Color: color, Size: size})
	}

	edges := make([]model.GraphEdge, 0, len(g.edgeOrder))
	for _, k := range g.edgeOrder {
		e := g.edges[k]
		color, ok := edgeColors[e.Relation]
		if !ok {
			color = defaultEdgeColor
		}
		edges = append(edges, model.GraphEdge{
			From:  e.From,
			To:    e.To,
			Label: e.Relation,
			Color: color,
			Width: 1 + 3*e.Confidence,
		})
	}
	return nodes, edges
}

type snapshot struct {
	Nodes []model.GraphNode `json:"nodes"`
	Edges []model.GraphEdge `json:"edges"`
	Stats Stats             `json:"stats"`
}

// Snapshot renders the visualization and statistics as JSON for storage
func (g *Graph) Snapshot() (string, error) {
	nodes, edges := g.Visualization()
	data, err := json.Marshal(snapshot{Nodes: nodes, Edges: edges, Stats: g.Statistics()})
	if err != nil {
		return "", fmt.Errorf("graph: snapshot: %w", err)
	}
	return string(data), nil
}

type dotNode struct {
	id    int64
	name  string
	attrs []encoding.Attribute
}

func (n dotNode) ID() int64 {
	return n.id
}

func (n dotNode) DOTID() string {
	return n.name
}

func (n dotNode) Attributes() []encoding.Attribute {
	return n.attrs
}

type dotEdge struct {
	from, to dotNode
	attrs    []encoding.Attribute
}

func (e dotEdge) From() graph.Node {
	return e.from
}

func (e dotEdge) To() graph.Node {
	return e.to
}

func (e dotEdge) ReversedEdge() graph.Edge {
	return dotEdge{from: e.to, to: e.from, attrs: e.attrs}
}

func (e dotEdge) Attributes() []encoding.Attribute {
	return e.attrs
}

// DOT renders the graph in Graphviz format. When a node pair carries
// several relations only the first recorded one is drawn.
func (g *Graph) DOT(name string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dg := simple.NewDirectedGraph()
	byID := make(map[string]dotNode, len(g.nodeOrder))
	for i, id := range g.nodeOrder {
		n := g.nodes[id]
		color, ok := nodeColors[n.Type]
		if !ok {
			color = defaultNodeColor
		}
		dn := dotNode{
			id:   int64(i),
			name: id,
			attrs: []encoding.Attribute{
				{Key: "label", Value: n.Label},
				{Key: "color", Value: color},
			},
		}
		byID[id] = dn
		dg.AddNode(dn)
	}
	for _, k := range g.edgeOrder {
		from, to := byID[k.from], byID[k.to]
		if from.id == to.id || dg.HasEdgeFromTo(from.id, to.id) {
			continue
		}
		e := g.edges[k]
		dg.SetEdge(dotEdge{from: from, to: to, attrs: []encoding.Attribute{
			{Key: "label", Value: e.Relation},
			{Key: "penwidth", Value: fmt.Sprintf("%.2f", 1+3*e.Confidence)},
		}})
	}

	out, err := dot.Marshal(dg, name, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("graph: dot: %w", err)
	}
	return out, nil
}
