package llm

import (
	"errors"
	"testing"

	"github.com/ppiankov/verity/internal/model"
)

type stance struct {
	Position   string  `json:"position"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    stance
		wantErr bool
	}{
		{"plain", `{"position":"yes","confidence":0.8}`, stance{"yes", 0.8}, false},
		{"fenced", "```json\n{\"position\":\"no\",\"confidence\":0.4}\n```", stance{"no", 0.4}, false},
		{"prose around", `Sure! {"position":"maybe","confidence":0.5} Hope this helps.`, stance{"maybe", 0.5}, false},
		{"wrong type", `{"position":"x","confidence":"high"}`, stance{}, true},
		{"no object", `I cannot answer that.`, stance{}, true},
		{"truncated", `{"position":"x",`, stance{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSON[stance](tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, model.ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeJSON_Array(t *testing.T) {
	got, err := DecodeJSON[[]string](`["a","b"]`)
	if err != nil || len(got) != 2 {
		t.Errorf("Expected array decode, got %v, %v", got, err)
	}
}
