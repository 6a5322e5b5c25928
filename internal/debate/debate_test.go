package debate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/model"
)

// agentScript answers by agent name and round; prompts name the agent in
// their first line
type agentScript struct {
	positions map[string]string
	rebuttals map[string]string
}

func (s agentScript) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	first := strings.SplitN(req.Prompt, "\n", 2)[0]
	table := s.positions
	if strings.Contains(first, "responding to other agents") {
		table = s.rebuttals
	}
	for name, reply := range table {
		if strings.Contains(first, "the "+name+" agent") {
			if reply == "ERR" {
				return "", errors.New("provider down")
			}
			return reply, nil
		}
	}
	return "", errors.New("unscripted")
}

func pairs(n int) []Pair {
	out := make([]Pair, n)
	for i := range out {
		out[i] = Pair{
			A:          &model.Claim{ID: "a" + string(rune('0'+i)), Text: "coffee helps"},
			B:          &model.Claim{ID: "b" + string(rune('0'+i)), Text: "coffee hurts"},
			Confidence: 0.8,
		}
	}
	return out
}

var trio = []Participant{{Name: "scout"}, {Name: "skeptic"}, {Name: "analyst"}}

func TestShouldDebate(t *testing.T) {
	tests := []struct {
		name           string
		contradictions int
		confidences    []float64
		want           bool
	}{
		{"two contradictions", 2, nil, true},
		{"one contradiction, close agents", 1, []float64{0.7, 0.6, 0.75}, false},
		{"confidence gap", 0, []float64{0.7, 0.3}, true},
		{"single agent", 1, []float64{0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDebate(tt.contradictions, tt.confidences))
		})
	}
}

func TestConduct_EarlyConsensus(t *testing.T) {
	s := agentScript{positions: map[string]string{
		"scout":   `{"position":"A is right","confidence":0.8,"reasoning":"r1"}`,
		"skeptic": `{"position":"A mostly","confidence":0.75,"reasoning":"r2"}`,
		"analyst": `{"position":"A clearly","confidence":0.9,"reasoning":"r3"}`,
	}}
	res := New(s, 0, nil).Conduct(context.Background(), "q", pairs(5), trio)

	require.Len(t, res.Rounds, 1)
	assert.True(t, res.ConsensusReached)
	require.NotNil(t, res.WinningPosition)
	assert.Equal(t, "A clearly", *res.WinningPosition)
	assert.Equal(t, 0.9, res.Confidence)

	// only the top three pairs are cited
	assert.Len(t, res.Rounds[0][0].EvidenceClaimIDs, 6)
	assert.Equal(t, "r1", res.Rounds[0][0].Argument)
}

func TestConduct_RebuttalConsensus(t *testing.T) {
	s := agentScript{
		positions: map[string]string{
			"scout":   `{"position":"A","confidence":0.6}`,
			"skeptic": `{"position":"B","confidence":0.4}`,
		},
		rebuttals: map[string]string{
			"scout":   `{"rebuttal":"still A","new_confidence":0.7}`,
			"skeptic": `{"rebuttal":"fine, A","new_confidence":0.65}`,
		},
	}
	res := New(s, 0, nil).Conduct(context.Background(), "q", pairs(2), trio[:2])

	require.Len(t, res.Rounds, 2)
	assert.True(t, res.ConsensusReached)
	assert.Equal(t, "A", *res.WinningPosition)
	assert.InDelta(t, 0.675, res.Confidence, 1e-9)
	assert.Equal(t, "still A", res.Rounds[1][0].Argument)
	assert.Equal(t, "B", res.Rounds[1][1].Position)
}

func TestConduct_Disagreement(t *testing.T) {
	long := strings.Repeat("x", 80)
	s := agentScript{
		positions: map[string]string{
			"scout":   `{"position":"` + long + `","confidence":0.9}`,
			"skeptic": `not json`,
			"analyst": `{"position":"short","confidence":0.5}`,
		},
		rebuttals: map[string]string{
			"scout":   `{"rebuttal":"no","new_confidence":0.9}`,
			"skeptic": "ERR",
			"analyst": `{"rebuttal":"hmm"}`,
		},
	}
	res := New(s, 0, nil).Conduct(context.Background(), "q", pairs(1), trio)

	require.Len(t, res.Rounds, 2)
	r1 := res.Rounds[0]
	assert.Equal(t, "Error generating position", r1[1].Position)
	assert.Equal(t, 0.0, r1[1].Confidence)

	r2 := res.Rounds[1]
	// failed rebuttal keeps the round one position
	assert.Equal(t, r1[1], r2[1])
	// missing new_confidence keeps the old one
	assert.Equal(t, 0.5, r2[2].Confidence)

	assert.False(t, res.ConsensusReached)
	assert.Nil(t, res.WinningPosition)
	assert.InDelta(t, 1.4/3, res.Confidence, 1e-9)
	assert.Equal(t,
		"Genuine disagreement among agents. Positions: scout: "+strings.Repeat("x", 50)+"... | skeptic: Error generating position... | analyst: short...",
		res.Summary)
}

func TestConduct_NoProvider(t *testing.T) {
	res := New(nil, 0, nil).Conduct(context.Background(), "q", pairs(2), trio)

	require.Len(t, res.Rounds, 2)
	for _, pos := range res.Rounds[0] {
		assert.Equal(t, 0.0, pos.Confidence)
	}
	assert.False(t, res.ConsensusReached)
}

func TestConduct_SingleParticipant(t *testing.T) {
	s := agentScript{positions: map[string]string{"scout": `{"position":"A","confidence":0.2}`}}
	res := New(s, 0, nil).Conduct(context.Background(), "q", pairs(1), trio[:1])

	require.Len(t, res.Rounds, 1)
	assert.True(t, res.ConsensusReached)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "A", *res.WinningPosition)
}

func TestToRounds(t *testing.T) {
	res := model.DebateResult{Rounds: [][]model.DebatePosition{
		{{AgentName: "scout", Position: "A"}, {AgentName: "skeptic", Position: "B"}},
		{{AgentName: "scout", Position: "A", Argument: "rebut"}, {AgentName: "skeptic", Position: "B"}},
	}}
	rounds := ToRounds(res, "sess")

	require.Len(t, rounds, 4)
	assert.Equal(t, 1, rounds[0].RoundNumber)
	assert.Equal(t, 2, rounds[2].RoundNumber)
	assert.Equal(t, "rebut", rounds[2].Argument)
	assert.Equal(t, "sess", rounds[3].SessionID)
	assert.NotEqual(t, rounds[0].ID, rounds[1].ID)
}
