package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/store"
)

func TestSetupViper_Defaults(t *testing.T) {
	v := viper.New()
	if err := setupViper(v, writeConfig(t, "")); err != nil {
		t.Fatalf("setupViper: %v", err)
	}

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	def := model.DefaultConfig()
	if cfg.HTTP.Timeout != def.HTTP.Timeout {
		t.Errorf("http timeout = %v, want %v", cfg.HTTP.Timeout, def.HTTP.Timeout)
	}
	if cfg.Server.Addr != def.Server.Addr {
		t.Errorf("server addr = %q, want %q", cfg.Server.Addr, def.Server.Addr)
	}
	if len(cfg.Search.Providers) != len(def.Search.Providers) {
		t.Errorf("search providers = %v, want %v", cfg.Search.Providers, def.Search.Providers)
	}
}

func TestSetupViper_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: ollama
  model: llama3
crawl:
  cache_ttl: 1h
server:
  addr: 127.0.0.1:9000
`)

	v := viper.New()
	if err := setupViper(v, path); err != nil {
		t.Fatalf("setupViper: %v", err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llama3" {
		t.Errorf("llm = %s/%s, want ollama/llama3", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Crawl.CacheTTL != time.Hour {
		t.Errorf("cache ttl = %v, want 1h", cfg.Crawl.CacheTTL)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	// Untouched keys keep their defaults
	if cfg.LLM.MaxTokens != model.DefaultConfig().LLM.MaxTokens {
		t.Errorf("max tokens = %d, want default", cfg.LLM.MaxTokens)
	}
}

func TestSetupViper_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "llm:\n  model: from-file\n")
	t.Setenv("VERITY_LLM_MODEL", "from-env")
	t.Setenv("VERITY_HTTP_TIMEOUT", "5s")
	t.Setenv("TAVILY_API_KEY", "tvly-test")

	v := viper.New()
	if err := setupViper(v, path); err != nil {
		t.Fatalf("setupViper: %v", err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LLM.Model != "from-env" {
		t.Errorf("llm model = %q, want from-env", cfg.LLM.Model)
	}
	if cfg.HTTP.Timeout != 5*time.Second {
		t.Errorf("http timeout = %v, want 5s", cfg.HTTP.Timeout)
	}
	if cfg.Search.TavilyAPIKey != "tvly-test" {
		t.Errorf("tavily key = %q, want alias value", cfg.Search.TavilyAPIKey)
	}
}

func TestSetupViper_MissingExplicitFile(t *testing.T) {
	err := setupViper(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Server.Addr != model.DefaultConfig().Server.Addr {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("expected error when config already exists")
	}
}

func TestRenderDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := renderDefaultConfig(&buf); err != nil {
		t.Fatalf("renderDefaultConfig: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# Verity Configuration File", "llm:", "curation:", "TAVILY_API_KEY"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config missing %q", want)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Search.TavilyAPIKey = "tvly-secret"

	redactSecrets(&cfg)

	if strings.Contains(cfg.LLM.APIKey, "secret") || strings.Contains(cfg.Search.TavilyAPIKey, "secret") {
		t.Errorf("secrets not redacted: %+v %+v", cfg.LLM, cfg.Search)
	}

	empty := model.DefaultConfig()
	redactSecrets(&empty)
	if empty.LLM.APIKey != "" {
		t.Errorf("empty key should stay empty, got %q", empty.LLM.APIKey)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Does coffee cause cancer?", "does-coffee-cause-cancer"},
		{"  spaces   and/slashes  ", "spaces-and-slashes"},
		{"???", "query"},
		{"Кофе и сон", "кофе-и-сон"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := slugify(strings.Repeat("word ", 40))
	if len(long) > maxSlugLen {
		t.Errorf("slug length = %d, want <= %d", len(long), maxSlugLen)
	}
	if strings.HasSuffix(long, "-") {
		t.Errorf("slug ends with dash: %q", long)
	}
}

func TestNewEmbedder_Hash(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 64

	e, err := newEmbedder(cfg)
	if err != nil {
		t.Fatalf("newEmbedder: %v", err)
	}
	h, ok := e.(*embed.HashEmbedder)
	if !ok {
		t.Fatalf("embedder = %T, want *embed.HashEmbedder", e)
	}
	if h.Dimension() != 64 {
		t.Errorf("dimension = %d, want 64", h.Dimension())
	}
}

func TestExportSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sess := model.NewSession("q", model.ModeQuick, 0)
	if err := st.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	out, err := exportSession(ctx, st, sess)
	if err != nil {
		t.Fatalf("exportSession: %v", err)
	}
	if out.Session != sess {
		t.Error("export should carry the session")
	}
	if len(out.Sources) != 0 || len(out.Claims) != 0 || len(out.Relations) != 0 {
		t.Errorf("unexpected rows: %+v", out)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
