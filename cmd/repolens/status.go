package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repolens/internal/analysis"
	"repolens/internal/gitrepo"
	"repolens/internal/store"
	"repolens/internal/version"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local state: config, store, and tooling",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	fmt.Printf("repolens %s\n\n", version.Full())

	fmt.Printf("config root:    %s\n", rootFlag)
	fmt.Printf("store:          %s\n", resolvePath(cfg.Store.Path))
	fmt.Printf("server addr:    %s\n", cfg.Server.Addr)
	fmt.Printf("auth:           %v\n", cfg.Server.AuthTokenHash != "")
	fmt.Printf("git available:  %v\n", gitrepo.IsGitAvailable())
	fmt.Printf("structural:     %v (required: %v)\n", cfg.Stages.Structural.Strategies, cfg.Stages.Structural.Required)
	fmt.Printf("techstack:      %v (required: %v)\n", cfg.Stages.TechStack.Strategies, cfg.Stages.TechStack.Required)

	st, err := openStore(cfg, logger)
	if err != nil {
		fmt.Printf("store error:    %v\n", err)
		return nil
	}
	defer st.Close()

	for _, status := range []analysis.Status{analysis.StatusCompleted, analysis.StatusFailed, analysis.StatusRunning} {
		records, err := st.ListRecords(store.ListOptions{Status: []analysis.Status{status}, Limit: 1000})
		if err != nil {
			continue
		}
		fmt.Printf("records %-10s %d\n", string(status)+":", len(records))
	}
	return nil
}
