package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/RichardoC/matrixchat/internal/client"
	"github.com/RichardoC/matrixchat/internal/models"
)

type ChatFlags struct {
	ServerURL string
}

func (f *ChatFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ServerURL, "server-url", "", "The matrixchat server to talk to (overrides SERVER_URL)")
}

func NewChatCommand() *cobra.Command {
	f := &ChatFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running matrixchat server from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			serverURL := cfg.Client.ServerURL
			if f.ServerURL != "" {
				serverURL = f.ServerURL
			}

			apiClient := client.NewAPIClient(
				client.WithServerURL(serverURL),
				client.WithTimeout(cfg.Client.Timeout),
			)
			session := client.NewSession(apiClient, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runChat(ctx, session, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

const chatHelp = `Commands:
  /new            start a new conversation
  /list           list conversations
  /switch <id>    switch to a conversation
  /delete <id>    delete a conversation
  /quit           exit
Anything else is sent as a message.`

func runChat(ctx context.Context, session *client.Session, in io.Reader, out io.Writer) error {
	if err := session.Conversations.Load(ctx); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	fmt.Fprintln(out, chatHelp)
	printEntries(out, session.Chat.Entries())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/new":
			conv, err := session.Conversations.Create(ctx, strings.TrimSpace(arg))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Started conversation %d\n", conv.ID)
		case "/list":
			printConversations(out, session.Conversations.Conversations(), session.Conversations.ActiveID())
		case "/switch":
			id, ok := parseID(out, arg)
			if !ok {
				continue
			}
			session.Conversations.Select(ctx, id)
			if err := session.Chat.Err(); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				session.Chat.ClearError()
				continue
			}
			printEntries(out, session.Chat.Entries())
		case "/delete":
			id, ok := parseID(out, arg)
			if !ok {
				continue
			}
			if err := session.Conversations.Delete(ctx, id); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Deleted conversation %d\n", id)
		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Fprintf(out, "unknown command %s\n", cmd)
				continue
			}
			if err := session.Send(ctx, line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				session.Chat.ClearError()
				continue
			}
			entries := session.Chat.Entries()
			if len(entries) > 0 {
				printEntries(out, entries[len(entries)-1:])
			}
		}
	}
}

func parseID(out io.Writer, arg string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(out, "invalid conversation id %q\n", arg)
		return 0, false
	}
	return id, true
}

func printConversations(out io.Writer, conversations []models.ConversationSummary, active int64) {
	if len(conversations) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	for _, c := range conversations {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %d  %s", marker, c.ID, c.Title)
		if c.Preview != nil {
			line += "  | " + truncate(c.Preview.Content, 50)
		}
		fmt.Fprintln(out, line)
	}
}

func printEntries(out io.Writer, entries []client.Entry) {
	for _, e := range entries {
		who := "you"
		if e.Message.Role == models.RoleAssistant {
			who = "assistant"
		}
		fmt.Fprintf(out, "%s: %s\n", who, e.Message.Content)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
