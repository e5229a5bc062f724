package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/glotlabs/glot/internal/chat"
	"github.com/glotlabs/glot/internal/health"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session.

Inside the session:
  /attach <file>   upload a document to the session
  /docs            list attached documents
  /history         list archived conversations
  /new             archive the chat and start fresh
  /quit            exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return runChat(cmd.Context(), a)
	},
}

func runChat(ctx context.Context, a *app) error {
	settings, err := a.settings()
	if err != nil {
		return err
	}
	if settings.APIKey == "" {
		return fmt.Errorf("no API key configured; run: glot settings set apiKey <key>")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := time.Duration(a.cfg.Backend.HealthIntervalSeconds) * time.Second
	prober := health.NewProber(a.client.Healthz, interval, func(online bool) {
		if online {
			printStep("backend online")
		} else {
			printWarning("backend offline")
		}
	}, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prober.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return chatLoop(ctx, a)
	})
	return g.Wait()
}

func chatLoop(ctx context.Context, a *app) error {
	printTranscript(a.session)
	fmt.Fprintln(os.Stderr, "Type a question, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runChatCommand(ctx, a, line); quit {
				return nil
			}
			continue
		}

		settings, err := a.settings()
		if err != nil {
			printError("loading settings: %v", err)
			continue
		}
		if err := a.runner.Submit(ctx, line, turnOptions(settings)); err != nil {
			if errors.Is(err, chat.ErrTurnInFlight) {
				printWarning("a turn is still running")
				continue
			}
			printError("%v", err)
			continue
		}
		fmt.Println(lastAnswer(a.session))
	}
}

// runChatCommand handles a /-prefixed REPL command. Returns true when
// the session should end.
func runChatCommand(ctx context.Context, a *app, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/new":
		a.session.ClearActive(ctx)
		printSuccess("Started a new chat")
	case "/attach":
		path := strings.TrimSpace(rest)
		if path == "" {
			printWarning("usage: /attach <file>")
			return false
		}
		if err := a.docs.AddFile(ctx, path); err != nil {
			printError("attach failed: %v", err)
		}
	case "/docs":
		records := a.docs.Records()
		if len(records) == 0 {
			fmt.Println("No documents attached.")
			return false
		}
		for _, rec := range records {
			fmt.Printf("%s  %d chars\n", rec.File, rec.Chars)
		}
	case "/history":
		conversations := a.session.Conversations()
		if len(conversations) == 0 {
			fmt.Println("No archived conversations.")
			return false
		}
		for _, c := range conversations {
			fmt.Printf("%s  %s\n", colorize(colorCyan, c.ID[:8]), c.Title)
		}
	default:
		printWarning("unknown command %s", cmd)
	}
	return false
}
