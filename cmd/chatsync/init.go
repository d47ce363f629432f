package main

import (
	"fmt"

	chatsync "github.com/krishnaT07/freelancer-chatsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initUserID, "user", "", "session user ID")
	initCmd.Flags().StringVar(&initToken, "token", "", "API bearer token")
}

var (
	initUserID string
	initToken  string
)

var initCmd = &cobra.Command{
	Use:   "init <endpoint>",
	Short: "Store the marketplace endpoint in ~/.chatsync/config.toml",
	Long:  "Initialize the chatsync CLI by storing the marketplace endpoint (and optionally a session user and token) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Endpoint = endpoint
		if cfg.Default.SocketPath == "" {
			cfg.Default.SocketPath = chatsync.DefaultSocketPath
		}
		if initUserID != "" {
			cfg.Session.UserID = initUserID
		}
		if initToken != "" {
			cfg.Default.Token = initToken
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Endpoint saved to %s\n", path)
		return nil
	},
}
