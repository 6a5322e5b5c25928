package model

import "time"

// EventType names a streaming event kind
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventStatus         EventType = "status"
	EventSource         EventType = "source"
	EventClaim          EventType = "claim"
	EventGraph          EventType = "graph"
	EventDebate         EventType = "debate"
	EventReport         EventType = "report"
	EventError          EventType = "error"
)

// Event is one server-to-client notification. Fields not used by a kind
// are left zero and omitted from JSON.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// session_created
	Query string `json:"query,omitempty"`
	Mode  Mode   `json:"mode,omitempty"`

	// status, error
	Phase    Phase  `json:"phase,omitempty"`
	Message  string `json:"message,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Details  string `json:"details,omitempty"`

	// source, claim
	Source    *Source `json:"source,omitempty"`
	Claim     *Claim  `json:"claim,omitempty"`
	AgentName string  `json:"agent_name,omitempty"`

	// graph
	Nodes []GraphNode `json:"nodes,omitempty"`
	Edges []GraphEdge `json:"edges,omitempty"`

	// debate
	RoundNumber int      `json:"round_number,omitempty"`
	Argument    string   `json:"argument,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`

	// report
	Markdown string `json:"markdown,omitempty"`
	Complete bool   `json:"complete,omitempty"`
}

// GraphNode is a node of the graph visualization export
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Color string `json:"color"`
	Size  int    `json:"size"`
}

// GraphEdge is an edge of the graph visualization export
type GraphEdge struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Label string  `json:"label"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

func newEvent(t EventType, sessionID string) Event {
	return Event{Type: t, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// SessionCreatedEvent announces a new session
func SessionCreatedEvent(s *ResearchSession) Event {
	e := newEvent(EventSessionCreated, s.ID)
	e.Query = s.Query
	e.Mode = s.Mode
	return e
}

// StatusEvent reports a phase transition
func StatusEvent(sessionID string, phase Phase, message string) Event {
	e := newEvent(EventStatus, sessionID)
	e.Phase = phase
	e.Message = message
	e.Progress = phase.Progress()
	return e
}

// SourceEvent reports a fetched source
func SourceEvent(sessionID string, src *Source) Event {
	e := newEvent(EventSource, sessionID)
	e.Source = src
	return e
}

// ClaimEvent reports an extracted claim
func ClaimEvent(sessionID string, c *Claim) Event {
	e := newEvent(EventClaim, sessionID)
	e.Claim = c
	e.AgentName = c.AgentName
	return e
}

// GraphEvent carries a visualization snapshot
func GraphEvent(sessionID string, nodes []GraphNode, edges []GraphEdge) Event {
	e := newEvent(EventGraph, sessionID)
	e.Nodes = nodes
	e.Edges = edges
	return e
}

// DebateEvent reports one position of one round
func DebateEvent(sessionID string, round int, p DebatePosition) Event {
	e := newEvent(EventDebate, sessionID)
	e.RoundNumber = round
	e.AgentName = p.AgentName
	e.Argument = p.Argument
	conf := p.Confidence
	e.Confidence = &conf
	return e
}

// ReportEvent carries the final report
func ReportEvent(sessionID, markdown string) Event {
	e := newEvent(EventReport, sessionID)
	e.Markdown = markdown
	e.Complete = true
	return e
}

// ErrorEvent reports a terminal failure
func ErrorEvent(sessionID, message, details string) Event {
	e := newEvent(EventError, sessionID)
	e.Message = message
	e.Details = details
	return e
}

// Terminal reports whether the event ends a stream
func (e Event) Terminal() bool {
	return e.Type == EventReport || e.Type == EventError
}
