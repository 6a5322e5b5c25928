package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/verity/internal/model"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantName string
		wantErr  bool
	}{
		{"disabled", Config{}, "disabled", false},
		{"none", Config{Provider: "none"}, "disabled", false},
		{"ollama", Config{Provider: "ollama"}, "ollama", false},
		{"openai", Config{Provider: "OpenAI", APIKey: "k"}, "openai", false},
		{"openrouter", Config{Provider: "openrouter", APIKey: "k"}, "openrouter", false},
		{"claude alias", Config{Provider: "claude", APIKey: "k"}, "anthropic", false},
		{"openai without key", Config{Provider: "openai"}, "", true},
		{"unknown", Config{Provider: "mystery"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.wantName {
				t.Errorf("Expected provider %s, got %s", tt.wantName, p.Name())
			}
		})
	}
}

func TestDisabled_FailsWithMissingCredential(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if !errors.Is(err, model.ErrMissingCredential) {
		t.Errorf("Expected missing credential error, got %v", err)
	}
}

func TestConfigFromModel_EnvKeys(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")

	c := ConfigFromModel(model.LLMConfig{Provider: "openrouter"}, model.HTTPConfig{HTTPProxy: "http://p:1"})
	if c.APIKey != "or-key" {
		t.Errorf("Expected key from environment, got %q", c.APIKey)
	}
	if c.HTTPProxy != "http://p:1" {
		t.Errorf("Expected proxy to carry over, got %q", c.HTTPProxy)
	}

	c = ConfigFromModel(model.LLMConfig{Provider: "ollama"}, model.HTTPConfig{})
	if c.BaseURL != "http://gpu-box:11434" {
		t.Errorf("Expected base URL from environment, got %q", c.BaseURL)
	}

	c = ConfigFromModel(model.LLMConfig{Provider: "openrouter", APIKey: "explicit"}, model.HTTPConfig{})
	if c.APIKey != "explicit" {
		t.Errorf("Expected explicit key to win, got %q", c.APIKey)
	}
}
