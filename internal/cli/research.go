package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/verity/internal/graph"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/store"
)

var (
	outJSON       string
	outMD         string
	outDOT        string
	mode          string
	targetSources int
	noDebate      bool
	noStore       bool
	timeout       time.Duration
)

// researchCmd represents the research command
var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Research one question and write a cited report",
	Long: `Research runs one session from planning to the final report:
- Decompose the question into sub-queries
- Search, crawl and curate sources by credibility and relevance
- Extract claims with several agents and verify each against its source
- Build a knowledge graph and debate contradictions
- Write a Markdown report with per-claim verification status

Modes:
  quick     15 sources, no debate
  standard  --target-sources (default 30), debate on contradictions
  deep      50 sources, debate
  medical   40 sources, debate, evidence-level classification

Example:
  verity research "does intermittent fasting improve insulin sensitivity"
  verity research "statins and dementia" --mode medical --md report.md --json session.json
  verity research "rust vs go for network services" --mode quick --no-store`,
	Args: cobra.ExactArgs(1),
	RunE: runResearch,
}

func init() {
	rootCmd.AddCommand(researchCmd)

	researchCmd.Flags().StringVar(&mode, "mode", "standard", "research mode (quick, standard, deep, medical)")
	researchCmd.Flags().IntVar(&targetSources, "target-sources", 30, "target source count in standard mode")
	researchCmd.Flags().BoolVar(&noDebate, "no-debate", false, "skip the debate phase")
	researchCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (default: stdout)")
	researchCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (session, sources, claims, relations)")
	researchCmd.Flags().StringVar(&outDOT, "dot", "", "output Graphviz path for the knowledge graph")
	researchCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall research timeout")
	researchCmd.Flags().BoolVar(&noStore, "no-store", false, "keep the session in memory only")
}

func runResearch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if noStore {
		cfg.Store.Enabled = false
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess := model.NewSession(args[0], model.ParseMode(mode), targetSources)
	if noDebate {
		sess.EnableDebate = false
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Verity Research\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Query:     %s\n", sess.Query)
	fmt.Fprintf(os.Stderr, "  Mode:      %s\n", sess.Mode)
	fmt.Fprintf(os.Stderr, "  Target:    %d sources\n", sess.TargetSources)
	fmt.Fprintf(os.Stderr, "  Session:   %s\n", sess.ID)
	fmt.Fprintf(os.Stderr, "\n")

	sess = a.pipeline.Run(ctx, sess, progressPrinter(os.Stderr))
	if sess.Status == model.StatusError {
		return fmt.Errorf("research failed: %s", sess.ErrorMessage)
	}

	if err := writeOutputs(context.WithoutCancel(ctx), a, sess); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "✓ %d sources, %d claims, %d debate rounds\n", sess.SourceCount, sess.ClaimCount, sess.DebateRounds)
	return nil
}

// progressPrinter renders the event stream as terminal progress lines
func progressPrinter(w io.Writer) pipeline.Emitter {
	return pipeline.EmitterFunc(func(_ context.Context, e model.Event) error {
		var err error
		switch e.Type {
		case model.EventStatus:
			_, err = fmt.Fprintf(w, "⚙️  [%3d%%] %s\n", e.Progress, e.Message)
		case model.EventSource:
			if verbose && e.Source != nil {
				_, err = fmt.Fprintf(w, "     + %s\n", e.Source.URL)
			}
		case model.EventClaim:
			if verbose && e.Claim != nil {
				_, err = fmt.Fprintf(w, "     • [%s] %s\n", e.AgentName, e.Claim.Text)
			}
		case model.EventDebate:
			_, err = fmt.Fprintf(w, "     ⚖ round %d %s\n", e.RoundNumber, e.AgentName)
		case model.EventError:
			_, err = fmt.Fprintf(w, "✗ %s: %s\n", e.Message, e.Details)
		}
		return err
	})
}

// sessionExport is the JSON document written by --json
type sessionExport struct {
	Session      *model.ResearchSession `json:"session"`
	Sources      []*model.Source        `json:"sources"`
	Claims       []*model.Claim         `json:"claims"`
	Relations    []model.ClaimRelation  `json:"relations"`
	DebateRounds []model.DebateRound    `json:"debate_rounds,omitempty"`
}

func exportSession(ctx context.Context, st store.Store, sess *model.ResearchSession) (*sessionExport, error) {
	out := &sessionExport{Session: sess}
	var err error
	if out.Sources, err = st.ListSources(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if out.Claims, err = st.ListClaims(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	if out.Relations, err = st.ListRelations(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	if out.DebateRounds, err = st.ListDebateRounds(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("list debate rounds: %w", err)
	}
	return out, nil
}

func writeOutputs(ctx context.Context, a *app, sess *model.ResearchSession) error {
	if outMD != "" {
		if err := os.WriteFile(outMD, []byte(sess.FinalReport), 0644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Report written to %s\n", outMD)
	} else {
		fmt.Println(sess.FinalReport)
	}

	if outJSON == "" && outDOT == "" {
		return nil
	}
	export, err := exportSession(ctx, a.store, sess)
	if err != nil {
		return err
	}

	if outJSON != "" {
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		if err := os.WriteFile(outJSON, data, 0644); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Session written to %s\n", outJSON)
	}

	if outDOT != "" {
		g, err := graph.Rebuild(ctx, nil, a.logger, export.Claims, export.Sources, export.Relations)
		if err != nil {
			return fmt.Errorf("rebuild graph: %w", err)
		}
		data, err := g.DOT("research")
		if err != nil {
			return err
		}
		if err := os.WriteFile(outDOT, data, 0644); err != nil {
			return fmt.Errorf("write dot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Graph written to %s\n", outDOT)
	}
	return nil
}
