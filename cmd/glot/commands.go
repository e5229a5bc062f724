package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/glotlabs/glot/internal/chat"
	"github.com/glotlabs/glot/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the agent one question and print the answer",
	Long: `Ask the agent one question and print the answer.

Examples:
  glot ask "What changed in Go 1.22 slices?"
  glot ask --attach ./notes.pdf "Summarize the attached notes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		settings, err := a.settings()
		if err != nil {
			return err
		}

		attach, _ := cmd.Flags().GetStringSlice("attach")
		if len(attach) > 0 {
			if err := a.docs.AddFiles(cmd.Context(), attach); err != nil {
				return fmt.Errorf("attaching documents: %w", err)
			}
		}

		question := strings.Join(args, " ")
		if err := a.runner.Submit(cmd.Context(), question, turnOptions(settings)); err != nil {
			if errors.Is(err, chat.ErrNoAPIKey) {
				return fmt.Errorf("no API key configured; run: glot settings set apiKey <key>")
			}
			return err
		}

		fmt.Println(lastAnswer(a.session))
		return nil
	},
}

func init() {
	askCmd.Flags().StringSlice("attach", nil, "files to upload before asking")
}

// lastAnswer returns the content of the newest assistant message.
func lastAnswer(s *chat.Session) string {
	messages := s.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents attached to the session",
}

var docsAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Upload files to the current agent session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.docs.AddFiles(cmd.Context(), args); err != nil {
			return err
		}
		printSuccess("Attached %d document(s)", len(args))
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records := a.docs.Records()
		if len(records) == 0 {
			fmt.Println("No documents attached.")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %d chars\n", colorize(colorBold, rec.File), rec.Chars)
			if rec.Preview != "" {
				fmt.Printf("  %s\n", rec.Preview)
			}
		}
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsAddCmd)
	docsCmd.AddCommand(docsListCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse archived conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		conversations := a.session.Conversations()
		if len(conversations) == 0 {
			fmt.Println("No archived conversations.")
			return nil
		}
		for _, c := range conversations {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.CreatedAt.Format(time.RFC3339),
				c.Title,
			)
		}
		return nil
	},
}

var historyOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Load an archived conversation into the active chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolveConversationID(a.session, args[0])
		if err != nil {
			return err
		}
		if err := a.session.OpenConversation(id); err != nil {
			return err
		}
		printTranscript(a.session)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolveConversationID(a.session, args[0])
		if err != nil {
			return err
		}
		a.session.DeleteConversation(id)
		printSuccess("Deleted conversation %s", id[:8])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all archived conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL archived conversations. Use --confirm to proceed.")
			return nil
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.session.ClearAllConversations()
		printSuccess("Conversation archive cleared")
		return nil
	},
}

func init() {
	historyClearCmd.Flags().Bool("confirm", false, "confirm deleting all conversations")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyOpenCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// resolveConversationID accepts a full id or an unambiguous prefix.
func resolveConversationID(s *chat.Session, arg string) (string, error) {
	var match string
	for _, c := range s.Conversations() {
		if c.ID == arg {
			return c.ID, nil
		}
		if strings.HasPrefix(c.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("ambiguous conversation id prefix %q", arg)
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", chat.ErrNotFound
	}
	return match, nil
}

// printTranscript renders the active chat to stdout.
func printTranscript(s *chat.Session) {
	for _, m := range s.Messages() {
		label := "agent"
		color := colorCyan
		if m.Role == chat.RoleUser {
			label = "you"
			color = colorBold
		}
		fmt.Printf("%s %s\n", colorize(color, label+":"), m.Content)
	}
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Archive the current chat and start a fresh session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.session.ClearActive(cmd.Context())
		printSuccess("Started a new chat")
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.client.Healthz(cmd.Context()) {
			printStatus("Backend", "online at %s", a.cfg.Backend.BaseURL)
		} else {
			printStatus("Backend", "offline (%s)", a.cfg.Backend.BaseURL)
		}

		if id := a.session.SessionID(); id != "" {
			printStatus("Session", "%s", id)
		} else {
			printStatus("Session", "none")
		}
		printStatus("Messages", "%d", len(a.session.Messages()))
		printStatus("Documents", "%d", len(a.docs.Records()))
		printStatus("Conversations", "%d archived", len(a.session.Conversations()))
		printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update client configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ResetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Reset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update agent settings (API key, provider, model)",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored agent settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		settings, err := a.settings()
		if err != nil {
			return err
		}
		for _, k := range config.ShowSettings(settings) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set an agent setting",
	Long: fmt.Sprintf(`Set an agent setting.

Valid names: %s`, strings.Join(config.ValidSettingNames(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := config.SetSetting(a.store, args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Remove an agent setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := config.ResetSetting(a.store, args[0]); err != nil {
			return err
		}
		printSuccess("Reset %s", args[0])
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}
