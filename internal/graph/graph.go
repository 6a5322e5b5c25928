// Package graph holds the per-session knowledge graph of claims, the
// entities they mention and the sources they come from.
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Node types
const (
	NodeClaim  = "claim"
	NodeEntity = "entity"
	NodeSource = "source"
)

// Edge relations beyond the claim relations in model
const (
	RelationAbout = "ABOUT"
	RelationFrom  = "FROM"
)

// LinkThreshold is the claim similarity above which claims are linked
const LinkThreshold = 0.75

const maxLabelLength = 100

var contradictionIndicators = []string{
	"however", "but", "contrary", "opposite", "disagree",
	"conflict", "dispute", "challenge", "refute", "debunk",
}

var supportIndicators = []string{
	"support", "confirm", "agree", "consistent", "similar",
	"likewise", "also", "additionally", "furthermore",
}

// Node is a graph vertex
type Node struct {
	ID    string
	Type  string
	Label string

	// claim
	Claim *model.Claim
	// entity
	Mentions int
	// source
	Source *model.Source
}

// Edge is a directed, typed edge. Identity is (From, To, Relation).
type Edge struct {
	From        string
	To          string
	Relation    string
	Confidence  float64
	Explanation string
}

type edgeKey struct {
	from, to, relation string
}

// Contradiction is a CONTRADICTS edge between two claims
type Contradiction struct {
	ClaimA     string
	ClaimB     string
	Confidence float64
}

// Graph is safe for concurrent use
type Graph struct {
	embedder embed.Embedder
	logger   *zap.Logger

	mu         sync.RWMutex
	nodes      map[string]*Node
	nodeOrder  []string
	edges      map[edgeKey]*Edge
	edgeOrder  []edgeKey
	embeddings map[string][]float32
	claimOrder []string
}

// New creates an empty graph
func New(embedder embed.Embedder, logger *zap.Logger) *Graph {
	return &Graph{
		embedder:   embedder,
		logger:     logging.OrNop(logger),
		nodes:      make(map[string]*Node),
		edges:      make(map[edgeKey]*Edge),
		embeddings: make(map[string][]float32),
	}
}

// ClaimNodeID returns the node id of a claim
func ClaimNodeID(claimID string) string { return NodeClaim + ":" + claimID }

// EntityNodeID returns the node id of an entity. Entities merge on
// lowercase text with spaces replaced by underscores.
func EntityNodeID(name string) string {
	return NodeEntity + ":" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// SourceNodeID returns the node id of a source
func SourceNodeID(sourceID string) string { return NodeSource + ":" + sourceID }

// DetermineRelation classifies how a newly added claim relates to a similar
// existing one, from the new claim's wording alone
func DetermineRelation(text string) model.RelationType {
	lower := strings.ToLower(text)
	for _, ind := range contradictionIndicators {
		if strings.Contains(lower, ind) {
			return model.RelationContradicts
		}
	}
	for _, ind := range supportIndicators {
		if strings.Contains(lower, ind) {
			return model.RelationSupports
		}
	}
	return model.RelationRelatedTo
}

// AddClaim inserts or updates a claim with its entities and source, then
// links it to every earlier claim whose embedding is similar enough
func (g *Graph) AddClaim(ctx context.Context, claim *model.Claim, source *model.Source) (string, error) {
	vec := claim.Embedding
	if len(vec) == 0 {
		if g.embedder == nil {
			return "", fmt.Errorf("graph: no embedding for claim %s", claim.ID)
		}
		var err error
		vec, err = embed.One(ctx, g.embedder, claim.Text)
		if err != nil {
			return "", fmt.Errorf("graph: embed claim %s: %w", claim.ID, err)
		}
		claim.Embedding = vec
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := ClaimNodeID(claim.ID)
	g.upsertNode(&Node{ID: id, Type: NodeClaim, Label: truncateLabel(claim.Text), Claim: claim})

	for _, entity := range claim.Entities {
		if strings.TrimSpace(entity) == "" {
			continue
		}
		eid := EntityNodeID(entity)
		if n, ok := g.nodes[eid]; ok {
			n.Mentions++
		} else {
			g.upsertNode(&Node{ID: eid, Type: NodeEntity, Label: entity, Mentions: 1})
		}
		g.setEdge(id, eid, RelationAbout, claim.Confidence, "")
	}

	if source != nil {
		sid := SourceNodeID(source.ID)
		if _, ok := g.nodes[sid]; !ok {
			label := source.Title
			if label == "" {
				label = source.Domain
			}
			if label == "" {
				label = "Unknown Source"
			}
			g.upsertNode(&Node{ID: sid, Type: NodeSource, Label: label, Source: source})
		}
		g.setEdge(id, sid, RelationFrom, 1.0, "")
	}

	if _, seen := g.embeddings[claim.ID]; !seen {
		g.claimOrder = append(g.claimOrder, claim.ID)
	}
	g.embeddings[claim.ID] = vec

	g.linkRelated(claim, vec)
	return id, nil
}

func (g *Graph) linkRelated(claim *model.Claim, vec []float32) {
	from := ClaimNodeID(claim.ID)
	for _, otherID := range g.claimOrder {
		if otherID == claim.ID {
			continue
		}
		sim := embed.Cosine(vec, g.embeddings[otherID])
		if sim <= LinkThreshold {
			continue
		}
		relation := DetermineRelation(claim.Text)
		g.setEdge(from, ClaimNodeID(otherID), string(relation), sim, "")
		g.logger.Debug("linked claims",
			zap.String("relation", string(relation)),
			zap.Float64("similarity", sim),
			zap.String("from", claim.ID),
			zap.String("to", otherID))
	}
}

// AddRelation records an explicit claim relation. It is ignored unless
// both claims are already in the graph.
func (g *Graph) AddRelation(rel model.ClaimRelation) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, to := ClaimNodeID(rel.SourceClaimID), ClaimNodeID(rel.TargetClaimID)
	if g.nodes[from] == nil || g.nodes[to] == nil {
		return false
	}
	g.setEdge(from, to, string(rel.RelationType), rel.Confidence, rel.Explanation)
	return true
}

func (g *Graph) upsertNode(n *Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	g.nodes[n.ID] = n
}

func (g *Graph) setEdge(from, to, relation string, confidence float64, explanation string) {
	key := edgeKey{from, to, relation}
	if e, ok := g.edges[key]; ok {
		e.Confidence = confidence
		if explanation != "" {
			e.Explanation = explanation
		}
		return
	}
	g.edges[key] = &Edge{From: from, To: to, Relation: relation, Confidence: confidence, Explanation: explanation}
	g.edgeOrder = append(g.edgeOrder, key)
}

// FindContradictions returns every CONTRADICTS edge in insertion order
func (g *Graph) FindContradictions() []Contradiction {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Contradiction
	for _, k := range g.edgeOrder {
		if k.relation != string(model.RelationContradicts) {
			continue
		}
		out = append(out, Contradiction{
			ClaimA:     strings.TrimPrefix(k.from, NodeClaim+":"),
			ClaimB:     strings.TrimPrefix(k.to, NodeClaim+":"),
			Confidence: g.edges[k].Confidence,
		})
	}
	return out
}

// Relations returns the claim-to-claim edges as persistable relations
func (g *Graph) Relations(sessionID string) []model.ClaimRelation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.ClaimRelation
	for _, k := range g.edgeOrder {
		if !isClaimNode(k.from) || !isClaimNode(k.to) {
			continue
		}
		e := g.edges[k]
		out = append(out, model.ClaimRelation{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			SourceClaimID: strings.TrimPrefix(k.from, NodeClaim+":"),
			TargetClaimID: strings.TrimPrefix(k.to, NodeClaim+":"),
			RelationType:  model.RelationType(k.relation),
			Confidence:    e.Confidence,
			Explanation:   e.Explanation,
		})
	}
	return out
}

// Node returns a copy of the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Edges returns copies of all edges in insertion order
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, k := range g.edgeOrder {
		out = append(out, *g.edges[k])
	}
	return out
}

func isClaimNode(id string) bool {
	return strings.HasPrefix(id, NodeClaim+":")
}

func truncateLabel(text string) string {
	r := []rune(text)
	if len(r) <= maxLabelLength {
		return text
	}
	return string(r[:maxLabelLength]) + "..."
}

// Rebuild reconstructs a session graph from persisted claims, sources and
// relations. Stored embeddings are reused; claims without one are embedded.
func Rebuild(ctx context.Context, embedder embed.Embedder, logger *zap.Logger, claims []*model.Claim, sources []*model.Source, relations []model.ClaimRelation) (*Graph, error) {
	g := New(embedder, logger)
	byID := make(map[string]*model.Source, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	for _, c := range claims {
		if _, err := g.AddClaim(ctx, c, byID[c.SourceID]); err != nil {
			return nil, err
		}
	}
	for _, rel := range relations {
		g.AddRelation(rel)
	}
	return g, nil
}
