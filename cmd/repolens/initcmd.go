package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"repolens/internal/auth"
	"repolens/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .repolens state directory",
	RunE:  runInit,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an API token and store its hash in the config",
	Long: `Generate a new API token. The token is printed once; only its
bcrypt hash is written to the config. The running server picks it up on
next start.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tokenCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(rootFlag, config.ConfigDirName, "config.json")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(rootFlag); err != nil {
		return err
	}
	fmt.Printf("Initialized %s\n", configPath)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	cfg.Server.AuthTokenHash = hash
	if err := cfg.Save(rootFlag); err != nil {
		return err
	}

	fmt.Println("API token (store it now, it will not be shown again):")
	fmt.Println()
	fmt.Printf("  %s\n", token)
	fmt.Println()
	return nil
}
