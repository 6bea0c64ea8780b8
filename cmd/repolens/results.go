package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repolens/internal/analysis"
	"repolens/internal/store"
)

var (
	resultsStatus string
	resultsLimit  int
	resultsJSON   bool
)

var resultsCmd = &cobra.Command{
	Use:   "results [analysis-id]",
	Short: "List stored analysis results or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResults,
}

var batchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show a batch result with its correlation graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(batchCmd)

	resultsCmd.Flags().StringVar(&resultsStatus, "status", "", "Filter by status: pending, running, completed, failed")
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Maximum number of results")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Output raw JSON")
	batchCmd.Flags().BoolVar(&resultsJSON, "json", false, "Output raw JSON")
}

func runResults(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		rec, err := st.GetRecord(args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no analysis record %s", args[0])
		}
		if resultsJSON {
			return printJSON(rec)
		}
		renderOutcome(analysis.RepoOutcome{
			Repository: rec.Repository,
			AnalysisID: rec.AnalysisID,
			Status:     rec.Status,
			Record:     rec,
		})
		return nil
	}

	opts := store.ListOptions{Limit: resultsLimit}
	if resultsStatus != "" {
		opts.Status = []analysis.Status{analysis.Status(resultsStatus)}
	}
	records, err := st.ListRecords(opts)
	if err != nil {
		return err
	}
	if resultsJSON {
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No analysis records.")
		return nil
	}
	for _, rec := range records {
		commit := rec.Fingerprint.CommitHash
		if len(commit) > 12 {
			commit = commit[:12]
		}
		fmt.Printf("%s  %-9s  %-30s  %s\n",
			rec.AnalysisID, rec.Status, rec.Repository.Name(), commit)
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
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

	batch, err := st.GetBatch(args[0])
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("no batch %s", args[0])
	}
	if resultsJSON {
		return printJSON(batch)
	}
	renderBatch(batch)
	return nil
}
