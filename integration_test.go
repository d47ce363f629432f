//go:build integration

package chatsync_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	chatsync "github.com/krishnaT07/freelancer-chatsync"
)

// helpers ---------------------------------------------------------------

func baseURL(t *testing.T) string {
	t.Helper()
	u := os.Getenv("CHATSYNC_BASE_URL_TEST")
	if u == "" {
		t.Fatal("CHATSYNC_BASE_URL_TEST environment variable is required")
	}
	return u
}

func testUserID(t *testing.T) string {
	t.Helper()
	id := os.Getenv("CHATSYNC_USER_ID_TEST")
	if id == "" {
		t.Fatal("CHATSYNC_USER_ID_TEST environment variable is required")
	}
	return id
}

func newAPIClient(t *testing.T) *chatsync.Client {
	t.Helper()
	opts := []chatsync.ClientOption{chatsync.WithTimeout(15 * time.Second)}
	if token := os.Getenv("CHATSYNC_TOKEN_TEST"); token != "" {
		opts = append(opts, chatsync.WithToken(token))
	}
	return chatsync.NewClient(baseURL(t), opts...)
}

// =======================================================================
// Group 1: Backend API
// =======================================================================

func TestIntegration_Directory(t *testing.T) {
	client := newAPIClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir, err := client.Directory(ctx)
	if err != nil {
		t.Fatalf("Directory returned error: %v", err)
	}
	t.Logf("Directory — users=%d orders=%d conversations=%d",
		len(dir.Users), len(dir.Orders), len(dir.Conversations))

	if len(dir.Users) == 0 {
		t.Error("expected at least one user")
	}
}

func TestIntegration_OrdersByUser(t *testing.T) {
	client := newAPIClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID := testUserID(t)
	orders, err := client.Orders.List(ctx, userID)
	if err != nil {
		t.Fatalf("Orders.List returned error: %v", err)
	}
	for _, o := range orders {
		if o.ClientID != userID && o.FreelancerID != userID {
			t.Errorf("order %s does not involve %s", o.ID, userID)
		}
	}
	t.Logf("Orders — %d for user %s", len(orders), userID)
}

// =======================================================================
// Group 2: Realtime sync
// =======================================================================

func TestIntegration_ConnectAndSend(t *testing.T) {
	engine := chatsync.New(baseURL(t), chatsync.DefaultSocketPath, testUserID(t),
		chatsync.WithDirectorySource(newAPIClient(t)))
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := engine.Connect(ctx); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if err := engine.Refresh(ctx); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	visible := engine.VisibleConversations(testUserID(t))
	if len(visible) == 0 {
		t.Skip("no visible conversations for test user")
	}
	convID := visible[0].ID
	engine.Join(ctx, convID)

	text := fmt.Sprintf("go integration test %d", time.Now().UnixNano())
	msg, err := engine.SendText(ctx, convID, text)
	if err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	t.Logf("SendText — id=%s conversation=%s", msg.ID, convID)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range engine.Messages(convID) {
			if m.ID == msg.ID {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("sent message never appeared in the local log")
}
