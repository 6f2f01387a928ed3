package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parlebot/internal/bot"
	"github.com/kalambet/parlebot/internal/config"
	"github.com/kalambet/parlebot/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message to the running chatbot",
	Long: `Send one message to the running chatbot and print its reply.

Examples:
  parlebot ask bonjour
  parlebot ask "apprendre : capitale de la France = Paris"
  parlebot ask "recherche : tour eiffel"
  parlebot ask "mail : alice@example.com + Salut + Le message"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := sendChat(commandContext(cmd), client, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printChatResponse(cmd.OutOrStdout(), resp)
	},
}

func printChatResponse(w io.Writer, resp chatResponse) error {
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	fmt.Fprintln(w, resp.Reply)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s\n   %s\n", i+1, colorize(colorBold, r.Title), r.Link)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", r.Snippet)
		}
	}
	return nil
}

// --- facts ---

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect learned question/answer pairs",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned facts, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		facts, total, err := fetchFacts(commandContext(cmd), client, limit, offset)
		if err != nil {
			return err
		}

		if len(facts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No facts learned yet.")
			return nil
		}

		for _, f := range facts {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s → %s\n", colorize(colorBold, truncate(f.Question, 50)), truncate(f.Answer, 80))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d facts\n", len(facts), total)
		return nil
	},
}

var factsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all facts as JSON",
	Long: `Export all learned facts as a JSON object keyed by normalized question.

Examples:
  parlebot facts export > facts.json
  parlebot facts export --output facts.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(commandContext(cmd), "/facts")
		if err != nil {
			return err
		}

		var facts map[string]string
		if err := decodeJSON(resp, &facts); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(facts); err != nil {
			return err
		}

		if output != "" {
			printSuccess("Exported %d facts to %s", len(facts), output)
		}
		return nil
	},
}

func init() {
	factsListCmd.Flags().Int("limit", 20, "maximum number of facts (max 100)")
	factsListCmd.Flags().Int("offset", 0, "number of facts to skip")
	factsExportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsExportCmd)
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Inspect the conversation log",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged chat turns, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(commandContext(cmd), fmt.Sprintf("/messages?limit=%d", limit))
		if err != nil {
			return err
		}

		var msgs []storage.Message
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}

		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages found.")
			return nil
		}

		for _, m := range msgs {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m))
		}
		return nil
	},
}

func formatMessage(m storage.Message) string {
	role := colorize(colorCyan, fmt.Sprintf("%-4s", m.Role))
	if m.Role == storage.RoleBot {
		role = colorize(colorGreen, fmt.Sprintf("%-4s", m.Role))
	}
	return fmt.Sprintf("%s  %s  %s", m.CreatedAt.Local().Format(time.DateTime), role, truncate(m.Content, 100))
}

func init() {
	messagesListCmd.Flags().Int("limit", 20, "maximum number of messages (max 100)")
	messagesCmd.AddCommand(messagesListCmd)
}

// --- mail ---

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Check mail delivery",
}

var mailTestCmd = &cobra.Command{
	Use:   "test <recipient>",
	Short: "Send a test e-mail with the configured SMTP settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := args[0]
		if !bot.ValidEmail(to) {
			return fmt.Errorf("invalid e-mail address: %q", to)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		smtp := newMailer(cfg)
		if !smtp.IsConfigured() {
			return fmt.Errorf("mailer not configured: set smtp.host and smtp.from_address")
		}

		printStep("Sending test e-mail to %s via %s:%d", to, cfg.SMTP.Host, cfg.SMTP.Port)
		text := "Ceci est un e-mail de test envoyé par parlebot."
		if err := smtp.Send(commandContext(cmd), to, "parlebot : e-mail de test", bot.MailHTML(text), text); err != nil {
			return fmt.Errorf("sending test e-mail: %w", err)
		}

		printSuccess("Test e-mail sent to %s", to)
		return nil
	},
}

var mailLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List mail delivery attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(commandContext(cmd), fmt.Sprintf("/mail-logs?limit=%d", limit))
		if err != nil {
			return err
		}

		var logs []storage.MailLog
		if err := decodeJSON(resp, &logs); err != nil {
			return err
		}

		if len(logs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No mail sent yet.")
			return nil
		}

		for _, l := range logs {
			fmt.Fprintln(cmd.OutOrStdout(), formatMailLog(l))
		}
		return nil
	},
}

func formatMailLog(l storage.MailLog) string {
	status := colorize(colorGreen, l.Status)
	if l.Status != storage.MailSent {
		status = colorize(colorRed, l.Status)
	}
	line := fmt.Sprintf("%s  %s  %s  %s", l.CreatedAt.Local().Format(time.DateTime), status, l.Recipient, truncate(l.Subject, 60))
	if l.Error != "" {
		line += "  (" + l.Error + ")"
	}
	return line
}

func init() {
	mailLogsCmd.Flags().Int("limit", 20, "maximum number of entries (max 100)")
	mailCmd.AddCommand(mailTestCmd)
	mailCmd.AddCommand(mailLogsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", config.Path())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// commandContext returns cmd's context, falling back to Background for
// commands executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
