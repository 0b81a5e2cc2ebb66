package commands

import (
	"fmt"

	"github.com/YananZhang666/wopihost/pkg/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample wopihost configuration file to the path given by
--config (default: ./wopihost.yaml).

Examples:
  wopihost init
  wopihost init --config /etc/wopihost/config.yaml`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = "wopihost.yaml"
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set storage backend and access token secret")
	fmt.Printf("  2. Start the server with: wopihost serve --config %s\n", path)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The generated access.secret is a placeholder. For production, set a real")
	fmt.Println("  32+ byte secret via the WOPIHOST_ACCESS_SECRET environment variable:")
	fmt.Println("    export WOPIHOST_ACCESS_SECRET=$(openssl rand -hex 32)")

	return nil
}
