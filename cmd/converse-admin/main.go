// ABOUTME: Admin CLI for converse-gateway conversation inspection and management
// ABOUTME: Talks to the HTTP API acting as a configured user identity

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/flockline/converse/internal/httpapi"
)

const banner = `
  ___ ___  _ ____   _____ _ __ ___  ___        __ _  __| |_ __ ___ (_)_ __
 / __/ _ \| '_ \ \ / / _ \ '__/ __|/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| (_) | | | \ V /  __/ |  \__ \  __/_____| (_| | (_| | | | | | | | | | |
 \___\___/|_| |_|\_/ \___|_|  |___/\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CONVERSE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	userID := os.Getenv("CONVERSE_USER")

	cli := &client{baseURL: strings.TrimRight(baseURL, "/"), userID: userID}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(cli)
	case "conversations", "ls":
		err = cmdConversations(cli)
	case "participants":
		err = cmdParticipants(cli, args)
	case "messages":
		err = cmdMessages(cli, args)
	case "send":
		err = cmdSend(cli, args)
	case "retract":
		err = cmdRetract(cli, args)
	case "direct":
		err = cmdDirect(cli, args)
	case "group":
		err = cmdGroup(cli, args)
	case "add":
		err = cmdAdd(cli, args)
	case "remove":
		err = cmdRemove(cli, args)
	case "promote":
		err = cmdPromote(cli, args)
	case "rename":
		err = cmdRename(cli, args)
	case "leave":
		err = cmdLeave(cli, args)
	case "disband":
		err = cmdDisband(cli, args)
	case "read":
		err = cmdRead(cli, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: converse-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                         Check gateway health")
	fmt.Println("  conversations                  List your conversations with unread counts")
	fmt.Println("  participants <conv-id>         List a conversation's participants")
	fmt.Println("  messages <conv-id> [cursor]    Page through a conversation's messages")
	fmt.Println("  send <conv-id> <text...>       Send a message")
	fmt.Println("  retract <message-id>           Retract one of your recent messages")
	fmt.Println("  direct <peer-id>               Open (or find) a 1:1 conversation")
	fmt.Println("  group <name> <member-id...>    Create a group conversation")
	fmt.Println("  add <conv-id> <member-id...>   Add members to a group")
	fmt.Println("  remove <conv-id> <member-id>   Remove a member from a group")
	fmt.Println("  promote <conv-id> <member-id>  Transfer group admin")
	fmt.Println("  rename <conv-id> <name...>     Rename a group")
	fmt.Println("  leave <conv-id>                Leave a conversation")
	fmt.Println("  disband <conv-id>              Disband a group / delete your direct copy")
	fmt.Println("  read <conv-id>                 Mark a conversation read")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CONVERSE_URL    Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  CONVERSE_USER   User ID to act as (required for all but status)")
	fmt.Println()
}

// client is a thin wrapper over the gateway HTTP API
type client struct {
	baseURL string
	userID  string
}

func (c *client) do(method, path string, body, out any) error {
	if c.userID == "" && path != "/healthz" {
		return fmt.Errorf("CONVERSE_USER environment variable is required")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func cmdStatus(c *client) error {
	resp, err := http.Get(c.baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	color.Green("healthy")
	fmt.Printf("gateway: %s\n", c.baseURL)
	return nil
}

func cmdConversations(c *client) error {
	var resp struct {
		Conversations []httpapi.SummaryResponse `json:"conversations"`
	}
	if err := c.do(http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return err
	}

	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tUNREAD\tLAST MESSAGE")
	for _, sum := range resp.Conversations {
		preview := ""
		if sum.LastMessage != nil {
			preview = truncate(sum.LastMessage.Content, 40)
		}
		unread := strconv.Itoa(sum.Unread)
		if sum.Unread > 0 {
			unread = color.YellowString(unread)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sum.Conversation.ID, sum.Conversation.Kind, sum.Conversation.Name, unread, preview)
	}
	return w.Flush()
}

func cmdParticipants(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: participants <conv-id>")
	}

	var resp struct {
		Participants []httpapi.ParticipantResponse `json:"participants"`
	}
	if err := c.do(http.MethodGet, "/api/conversations/"+args[0]+"/participants", nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tADMIN\tJOINED")
	for _, p := range resp.Participants {
		admin := ""
		if p.IsAdmin {
			admin = color.GreenString("admin")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.UserID, admin, p.JoinedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdMessages(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: messages <conv-id> [cursor]")
	}

	path := "/api/conversations/" + args[0] + "/messages"
	if len(args) > 1 {
		path += "?cursor=" + args[1]
	}

	var page httpapi.PageResponse
	if err := c.do(http.MethodGet, path, nil, &page); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, msg := range page.Messages {
		gray.Printf("%s  ", msg.SentAt.Format("2006-01-02 15:04:05"))
		color.New(color.FgCyan).Printf("%s  ", msg.SenderID)
		if msg.Retracted {
			gray.Printf("%s", msg.Content)
		} else {
			fmt.Print(msg.Content)
		}
		gray.Printf("  [%s]\n", msg.ID)
	}
	if page.HasMore {
		fmt.Println()
		gray.Printf("more: converse-admin messages %s %s\n", args[0], page.NextCursor)
	}
	return nil
}

func cmdSend(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: send <conv-id> <text...>")
	}

	var msg httpapi.MessageResponse
	body := httpapi.SendMessageRequest{Content: strings.Join(args[1:], " ")}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/messages", body, &msg); err != nil {
		return err
	}
	color.Green("sent %s (seq %d)\n", msg.ID, msg.Seq)
	return nil
}

func cmdRetract(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: retract <message-id>")
	}

	var msg httpapi.MessageResponse
	if err := c.do(http.MethodPost, "/api/messages/"+args[0]+"/retract", nil, &msg); err != nil {
		return err
	}
	color.Green("retracted %s\n", msg.ID)
	return nil
}

func cmdDirect(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: direct <peer-id>")
	}

	var conv httpapi.ConversationResponse
	body := httpapi.CreateDirectRequest{PeerID: args[0]}
	if err := c.do(http.MethodPost, "/api/conversations/direct", body, &conv); err != nil {
		return err
	}
	fmt.Printf("conversation: %s\n", conv.ID)
	return nil
}

func cmdGroup(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: group <name> <member-id...>")
	}

	var conv httpapi.ConversationResponse
	body := httpapi.CreateGroupRequest{Name: args[0], MemberIDs: args[1:]}
	if err := c.do(http.MethodPost, "/api/conversations/group", body, &conv); err != nil {
		return err
	}
	color.Green("created group %s (%s)\n", conv.Name, conv.ID)
	return nil
}

func cmdAdd(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: add <conv-id> <member-id...>")
	}

	var resp struct {
		Added []string `json:"added"`
	}
	body := httpapi.AddMembersRequest{UserIDs: args[1:]}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/members", body, &resp); err != nil {
		return err
	}
	if len(resp.Added) == 0 {
		fmt.Println("no new members")
		return nil
	}
	color.Green("added %s\n", strings.Join(resp.Added, ", "))
	return nil
}

func cmdRemove(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: remove <conv-id> <member-id>")
	}
	if err := c.do(http.MethodDelete, "/api/conversations/"+args[0]+"/members/"+args[1], nil, nil); err != nil {
		return err
	}
	color.Green("removed %s\n", args[1])
	return nil
}

func cmdPromote(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: promote <conv-id> <member-id>")
	}
	body := httpapi.PromoteRequest{UserID: args[1]}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/promote", body, nil); err != nil {
		return err
	}
	color.Green("admin transferred to %s\n", args[1])
	return nil
}

func cmdRename(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rename <conv-id> <name...>")
	}
	body := httpapi.RenameRequest{Name: strings.Join(args[1:], " ")}
	if err := c.do(http.MethodPatch, "/api/conversations/"+args[0], body, nil); err != nil {
		return err
	}
	color.Green("renamed\n")
	return nil
}

func cmdLeave(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: leave <conv-id>")
	}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/leave", nil, nil); err != nil {
		return err
	}
	color.Green("left %s\n", args[0])
	return nil
}

func cmdDisband(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: disband <conv-id>")
	}
	if err := c.do(http.MethodDelete, "/api/conversations/"+args[0], nil, nil); err != nil {
		return err
	}
	color.Green("disbanded %s\n", args[0])
	return nil
}

func cmdRead(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: read <conv-id>")
	}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/read", nil, nil); err != nil {
		return err
	}
	color.Green("marked read\n")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
