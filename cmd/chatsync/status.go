package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and check marketplace connectivity",
	Long:  "Display the current configuration, fetch a directory snapshot from the marketplace backend, and probe the messaging socket.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()

		fmt.Println("Configuration:")
		fmt.Printf("  Endpoint:    %s\n", cfg.Default.Endpoint)
		fmt.Printf("  Socket path: %s\n", cfg.Default.SocketPath)
		if cfg.Session.UserID != "" {
			fmt.Printf("  Session:     %s", cfg.Session.UserID)
			if cfg.Session.UserName != "" {
				fmt.Printf(" (%s)", cfg.Session.UserName)
			}
			fmt.Println()
		} else {
			fmt.Println("  Session:     (not set)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client := newAPIClient(cfg)
		dir, err := client.Directory(ctx)
		if err != nil {
			fmt.Printf("\nBackend:       unreachable (%v)\n", err)
		} else {
			fmt.Println("\nBackend:       ok")
			fmt.Printf("  Users:         %d\n", len(dir.Users))
			fmt.Printf("  Orders:        %d\n", len(dir.Orders))
			fmt.Printf("  Conversations: %d\n", len(dir.Conversations))
		}

		log := newLogger(cfg)
		engine := newEngine(cfg, client, log)
		if err := engine.Connect(ctx); err != nil {
			fmt.Printf("Socket:        unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("Socket:        %s\n", engine.ConnectionState())
		return engine.Close()
	},
}
