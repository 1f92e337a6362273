package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/legalmeet/intake/internal/config"
)

type options struct {
	apiURL string
	apiKey string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "intakectl",
		Short:        "Operate a running intake assistant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("INTAKE_API_URL", "http://localhost:8080"), "daemon URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("INTAKE_API_KEY"), "admin API key")

	root.AddCommand(
		newHealthCmd(opts),
		newChatCmd(opts),
		newStatsCmd(opts),
		newCasesCmd(opts),
		newAppointmentsCmd(opts),
		newSessionsCmd(opts),
		newLogsCmd(opts),
		newReferenceCmd(opts),
		newJobsCmd(opts),
		newConfigCmd(),
	)
	return root
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, "").get(cmd.Context(), "/health")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

// newChatCmd talks to the assistant through a generic webhook endpoint,
// one line per message.
func newChatCmd(opts *options) *cobra.Command {
	var endpoint, token, sender string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant through a webhook endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sender == "" {
				sender = "cli-" + uuid.NewString()[:8]
			}
			c := newClient(opts.apiURL, "")
			path := "/api/webhook/" + url.PathEscape(endpoint)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "chatting as %s on %s (type 'quit' to exit)\n\n", sender, endpoint)
			return chatLoop(cmd.InOrStdin(), out, func(text string) ([]string, error) {
				body, err := c.post(cmd.Context(), path, map[string]string{
					"sender_id":  sender,
					"message_id": uuid.NewString(),
					"text":       text,
				}, token)
				if err != nil {
					return nil, err
				}
				var resp struct {
					Replies []string `json:"replies"`
				}
				if err := json.Unmarshal(body, &resp); err != nil {
					return nil, fmt.Errorf("decode response: %w", err)
				}
				return resp.Replies, nil
			})
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", envOr("INTAKE_WEBHOOK_NAME", "web"), "webhook endpoint name")
	cmd.Flags().StringVar(&token, "token", os.Getenv("INTAKE_WEBHOOK_TOKEN"), "webhook bearer token")
	cmd.Flags().StringVar(&sender, "sender", "", "sender id (random when empty)")
	return cmd
}

func chatLoop(in io.Reader, out io.Writer, send func(string) ([]string, error)) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		replies, err := send(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		for _, r := range replies {
			fmt.Fprintln(out, r)
			fmt.Fprintln(out)
		}
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show case, revenue and appointment totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/stats")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newCasesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List and register cases",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered cases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/cases?limit="+strconv.Itoa(limit))
			if err != nil {
				return err
			}
			var cases []struct {
				ReferenceID      string    `json:"reference_id"`
				Category         string    `json:"category"`
				Urgency          string    `json:"urgency"`
				CreatedAt        time.Time `json:"created_at"`
				EstimatedRevenue int64     `json:"estimated_revenue"`
			}
			if err := json.Unmarshal(body, &cases); err != nil {
				return fmt.Errorf("decode cases: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REFERENCE\tCATEGORY\tURGENCY\tCREATED\tREVENUE")
			for _, c := range cases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", c.ReferenceID, c.Category, c.Urgency,
					c.CreatedAt.Format(time.RFC3339), c.EstimatedRevenue)
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max results")

	var req struct {
		Contact  string   `json:"contact"`
		Category string   `json:"category"`
		Urgency  string   `json:"urgency"`
		Title    string   `json:"title"`
		Summary  string   `json:"summary,omitempty"`
		Keywords []string `json:"keywords,omitempty"`
	}
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a case taken outside the chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).post(cmd.Context(), "/api/cases", req, opts.apiKey)
			if err != nil {
				return err
			}
			var resp struct {
				ReferenceID string `json:"reference_id"`
				Ticket      string `json:"ticket"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Ticket)
			return nil
		},
	}
	register.Flags().StringVar(&req.Contact, "contact", "", "client contact (phone or email)")
	register.Flags().StringVar(&req.Category, "category", "", "case category, e.g. Labor")
	register.Flags().StringVar(&req.Urgency, "urgency", "MEDIUM", "HIGH, MEDIUM or LOW")
	register.Flags().StringVar(&req.Title, "title", "", "short case title")
	register.Flags().StringVar(&req.Summary, "summary", "", "case summary")
	register.Flags().StringSliceVar(&req.Keywords, "keyword", nil, "keyword (repeatable)")
	_ = register.MarkFlagRequired("category")
	_ = register.MarkFlagRequired("title")

	cmd.AddCommand(list, register)
	return cmd
}

func newAppointmentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "appointments [reference]",
		Short: "List appointments, or show the one booked for a case reference",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/appointments"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List live conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/sessions")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newLogsCmd(opts *options) *cobra.Command {
	var level, since, address string
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if level != "" {
				q.Set("level", level)
			}
			if address != "" {
				q.Set("address", address)
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				q.Set("since", time.Now().Add(-d).UTC().Format(time.RFC3339))
			}
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/logs?"+q.Encode())
			if err != nil {
				return err
			}
			var entries []struct {
				Time    time.Time `json:"time"`
				Level   string    `json:"level"`
				Message string    `json:"message"`
				Address string    `json:"address"`
			}
			if err := json.Unmarshal(body, &entries); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s %s %s\n", e.Time.Format(time.TimeOnly), e.Level, e.Message, e.Address)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than this duration, e.g. 15m")
	cmd.Flags().StringVar(&address, "address", "", "only entries for one conversation address")
	cmd.Flags().IntVar(&limit, "limit", 200, "max entries")
	return cmd
}

func newReferenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reference <id>",
		Short: "Check whether a reference id is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/references/"+url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newJobsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.apiURL, opts.apiKey).get(cmd.Context(), "/api/jobs")
			if err != nil {
				return err
			}
			var jobs []struct {
				Name     string    `json:"name"`
				Schedule string    `json:"schedule"`
				Next     time.Time `json:"next"`
				Runs     int64     `json:"runs"`
			}
			if err := json.Unmarshal(body, &jobs); err != nil {
				return fmt.Errorf("decode jobs: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCHEDULE\tNEXT\tRUNS")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", j.Name, j.Schedule, j.Next.Format(time.RFC3339), j.Runs)
			}
			return w.Flush()
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	})
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
