package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	chatsync "github.com/krishnaT07/freelancer-chatsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Chat from the terminal",
	Long: "Connect to the messaging server and chat interactively.\n" +
		"Without an argument, pick a conversation from the visible list.\n" +
		"Commands: /list, /search <text>, /quit",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()
		if cfg.Session.UserID == "" {
			return fmt.Errorf("no session user configured; run 'chatsync init <endpoint> --user <id>'")
		}

		log := newLogger(cfg)
		client := newAPIClient(cfg)
		engine := newEngine(cfg, client, log)

		ctx := context.Background()
		refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := engine.Refresh(refreshCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to fetch directory: %w", err)
		}

		names := userNames(ctx, client)

		engine.OnStateChange(func(s chatsync.ConnState) {
			fmt.Fprintf(os.Stderr, "-- %s --\n", s)
		})
		if err := engine.Connect(ctx); err != nil {
			return err
		}
		defer engine.Close()

		visible := engine.VisibleConversations(cfg.Session.UserID)
		if len(visible) == 0 {
			fmt.Println("No visible conversations. Conversations appear once you have an order with the other party.")
			return nil
		}

		var selected chatsync.Conversation
		if len(args) == 1 {
			found := false
			for _, c := range visible {
				if c.ID == args[0] {
					selected, found = c, true
					break
				}
			}
			if !found {
				return fmt.Errorf("conversation %q is not visible to %s", args[0], cfg.Session.UserID)
			}
		} else {
			printConversations(visible, cfg.Session.UserID, names)
			fmt.Print("Select conversation: ")
			var choice int
			if _, err := fmt.Scanln(&choice); err != nil || choice < 1 || choice > len(visible) {
				return fmt.Errorf("invalid selection")
			}
			selected = visible[choice-1]
		}

		engine.Join(ctx, selected.ID)
		engine.MarkRead(selected.ID)

		printed := 0
		printNew := func() {
			msgs := engine.Messages(selected.ID)
			for _, m := range msgs[min(printed, len(msgs)):] {
				printMessage(m, cfg.Session.UserID, names)
			}
			printed = len(msgs)
		}
		printNew()
		unsubscribe := engine.Subscribe(selected.ID, printNew)
		defer unsubscribe()

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Printf("Chatting in %s. Type a message, or /quit to exit.\n", selected.ID)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/list":
				printConversations(engine.VisibleConversations(cfg.Session.UserID), cfg.Session.UserID, names)
			case strings.HasPrefix(line, "/search "):
				for _, m := range engine.SearchMessages(strings.TrimPrefix(line, "/search "), selected.ID, 20) {
					printMessage(m, cfg.Session.UserID, names)
				}
			default:
				if _, err := engine.SendText(ctx, selected.ID, line); err != nil {
					if errors.Is(err, chatsync.ErrNotConnected) {
						fmt.Fprintln(os.Stderr, "Not connected; message not sent. It will NOT be retried automatically.")
						continue
					}
					fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
				}
			}
		}
		return scanner.Err()
	},
}

// userNames fetches display names; chat degrades to raw IDs if it fails.
func userNames(ctx context.Context, client *chatsync.Client) map[string]string {
	names := make(map[string]string)
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	users, err := client.Users.List(listCtx)
	if err != nil {
		return names
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names
}

func displayName(userID string, names map[string]string) string {
	if name, ok := names[userID]; ok {
		return name
	}
	return userID
}

func printConversations(convs []chatsync.Conversation, userID string, names map[string]string) {
	for i, c := range convs {
		line := fmt.Sprintf("%2d. %s", i+1, displayName(c.Counterpart(userID), names))
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		if c.LastMessage != nil {
			line += " — " + truncate(c.LastMessage.Text, 40)
		}
		fmt.Println(line)
	}
}

func printMessage(m chatsync.Message, userID string, names map[string]string) {
	who := displayName(m.SenderID, names)
	if m.SenderID == userID {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format("15:04"), who, m.Text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
