package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"repolens/internal/analysis"
)

var (
	analyzeBranch        string
	analyzeNoStructural  bool
	analyzeNoTechStack   bool
	analyzeNoCorrelation bool
	analyzeJSON          bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repository>...",
	Short: "Analyze one or more git repositories",
	Long: `Analyze git repositories and print the results. A repository is a
clone URL, optionally suffixed with @branch. With two or more
repositories a correlation graph is computed across them.

Unchanged repositories resolve from the cache without re-analysis.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeBranch, "branch", "main", "Default branch for repositories without @branch")
	analyzeCmd.Flags().BoolVar(&analyzeNoStructural, "no-structural", false, "Skip the structural stage")
	analyzeCmd.Flags().BoolVar(&analyzeNoTechStack, "no-techstack", false, "Skip the tech-stack stage")
	analyzeCmd.Flags().BoolVar(&analyzeNoCorrelation, "no-correlation", false, "Skip cross-repository correlation")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output raw JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := buildOrchestrator(cfg, st, logger)
	if err != nil {
		return err
	}
	defer orch.Stop()

	refs := make([]analysis.RepositoryRef, 0, len(args))
	for _, arg := range args {
		refs = append(refs, parseRepoArg(arg, analyzeBranch))
	}

	req := analysis.BatchRequest{
		Repositories:       refs,
		IncludeStructural:  !analyzeNoStructural,
		IncludeTechStack:   !analyzeNoTechStack,
		IncludeCorrelation: !analyzeNoCorrelation,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := orch.Submit(ctx, req)
	if err != nil {
		return err
	}

	if analyzeJSON {
		return printJSON(batch)
	}
	renderBatch(batch)
	return nil
}

// parseRepoArg splits "url@branch". The suffix is only treated as a
// branch when it cannot be part of the URL itself.
func parseRepoArg(arg, defaultBranch string) analysis.RepositoryRef {
	if i := strings.LastIndex(arg, "@"); i > 0 {
		branch := arg[i+1:]
		if branch != "" && !strings.ContainsAny(branch, "/:") {
			return analysis.RepositoryRef{URL: arg[:i], Branch: branch}
		}
	}
	return analysis.RepositoryRef{URL: arg, Branch: defaultBranch}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderBatch(batch *analysis.BatchResult) {
	fmt.Printf("Batch %s: %s\n\n", batch.BatchID, batch.Status)

	for _, outcome := range batch.Repositories {
		renderOutcome(outcome)
	}

	if len(batch.Graph.Edges) > 0 {
		fmt.Println("Correlations:")
		for _, edge := range batch.Graph.Edges {
			fmt.Printf("  %s <-> %s  %s (%.2f)\n", edge.RepoA, edge.RepoB, edge.Kind, edge.Confidence)
			for _, ev := range edge.Evidence {
				fmt.Printf("      %s\n", ev)
			}
		}
	}
}

func renderOutcome(outcome analysis.RepoOutcome) {
	marker := " "
	if outcome.Reused {
		marker = "~"
	}
	fmt.Printf("%s %s [%s]\n", marker, outcome.Repository.Name(), outcome.Status)
	fmt.Printf("    analysis: %s", outcome.AnalysisID)
	if outcome.Reused {
		fmt.Print(" (cached)")
	}
	fmt.Println()

	rec := outcome.Record
	if rec == nil {
		return
	}
	if rec.Error != "" {
		fmt.Printf("    error: %s\n", rec.Error)
	}
	if rec.Status == analysis.StatusCompleted {
		fmt.Printf("    files: %d, lines: %d\n", rec.Summary.FilesCount, rec.Summary.LinesOfCode)
		if len(rec.Summary.Languages) > 0 {
			fmt.Printf("    languages: %s\n", strings.Join(rec.Summary.Languages, ", "))
		}
		if len(rec.Summary.Frameworks) > 0 {
			fmt.Printf("    frameworks: %s\n", strings.Join(rec.Summary.Frameworks, ", "))
		}
	}
	for _, sr := range rec.StageResults {
		detail := ""
		if sr.Status == analysis.StageDegraded {
			detail = fmt.Sprintf(" (fallback: %s)", sr.Strategy)
		}
		if sr.ErrorDetail != "" && sr.Status == analysis.StageFailed {
			detail = " " + sr.ErrorDetail
		}
		fmt.Printf("    stage %-11s %s%s\n", sr.Stage+":", sr.Status, detail)
	}
	fmt.Println()
}
