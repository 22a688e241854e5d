package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/settlement/internal/adapter/http/middleware"
	"github.com/iho/settlement/internal/infrastructure/postgres"
)

var (
	baseURL string
	timeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "settlement-cli",
		Short:         "Settlement CLI tool",
		Long:          `A command line interface for operating the marketplace settlement service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", envOr("SETTLEMENT_URL", "http://localhost:8080"), "Base URL of the settlement API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(
		migrateCmd(),
		ledgerCmd(),
		usersCmd(),
		payoutsCmd(),
		webhookCmd(),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Migrations

func migrateCmd() *cobra.Command {
	var databaseURL, migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}

	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&migrationsPath, "migrations", envOr("MIGRATIONS_PATH", "migrations"), "Directory holding the migration files")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return postgres.RunMigrations(databaseURL, migrationsPath, logger)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return postgres.RunMigrationsDown(databaseURL, migrationsPath, logger)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				version, dirty, err := postgres.MigrationVersion(databaseURL, migrationsPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %v\n", version, dirty)
				return nil
			},
		},
	)

	return cmd
}

// Ledger

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check that every order's entries conserve value",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := newAPIClient().do(http.MethodGet, "/api/v1/ledger/consistency", nil)
			if err != nil {
				return err
			}

			var report struct {
				Consistent bool              `json:"consistent"`
				Imbalances []json.RawMessage `json:"imbalances"`
			}
			if err := json.Unmarshal(body, &report); err != nil {
				return fmt.Errorf("failed to parse response (status %d): %w", status, err)
			}

			if !report.Consistent {
				printJSON(cmd.OutOrStdout(), json.RawMessage(body))
				return fmt.Errorf("consistency check FAILED: %d unbalanced entry sets", len(report.Imbalances))
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
			return nil
		},
	})

	return cmd
}

// Users

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Balances, credits and reconciliation",
	}

	var (
		actor string
		memo  string
		limit int
	)

	balance := &cobra.Command{
		Use:   "balance <user-id> <money|credits>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().show(cmd.OutOrStdout(), http.MethodGet, "/api/v1/users/"+args[0]+"/balances/"+args[1], nil)
		},
	}

	entries := &cobra.Command{
		Use:   "entries <user-id> <money|credits>",
		Short: "List a user's ledger entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/users/%s/entries?denomination=%s&limit=%d", args[0], args[1], limit)
			status, body, err := newAPIClient().do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var rows []struct {
				ID      string  `json:"id"`
				OrderID *string `json:"order_id"`
				Type    string  `json:"type"`
				Status  string  `json:"status"`
				From    string  `json:"from"`
				To      string  `json:"to"`
				Amount  int64   `json:"amount"`
			}
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tORDER\tTYPE\tSTATUS\tFROM\tTO\tAMOUNT")
			for _, e := range rows {
				order := "-"
				if e.OrderID != nil {
					order = truncate(*e.OrderID, 12)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					truncate(e.ID, 12), order, e.Type, e.Status, e.From, e.To, e.Amount)
			}
			return tw.Flush()
		},
	}
	entries.Flags().IntVar(&limit, "limit", 100, "Maximum entries to list")

	grant := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Grant platform credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			return newAPIClient().show(cmd.OutOrStdout(), http.MethodPost, "/api/v1/users/"+args[0]+"/credits", map[string]any{
				"amount": amount,
				"memo":   memo,
				"actor":  actor,
			})
		},
	}
	grant.Flags().StringVar(&memo, "memo", "", "Reason recorded with the grant")

	reconcile := &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Compare cached balances with a full ledger replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().show(cmd.OutOrStdout(), http.MethodPost, "/api/v1/users/"+args[0]+"/reconcile", nil)
		},
	}

	unfreeze := &cobra.Command{
		Use:   "unfreeze <user-id>",
		Short: "Lift a reconciliation freeze after review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().show(cmd.OutOrStdout(), http.MethodPost, "/api/v1/users/"+args[0]+"/unfreeze", map[string]string{"actor": actor})
		},
	}

	for _, c := range []*cobra.Command{grant, unfreeze} {
		c.Flags().StringVar(&actor, "actor", envOr("USER", "operator"), "Operator recorded in the audit log")
	}

	cmd.AddCommand(balance, entries, grant, reconcile, unfreeze)

	return cmd
}

// Payouts

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Seller payout batches",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run <method>",
			Short: "Run a payout batch for one payout method",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				status, body, err := newAPIClient().do(http.MethodPost, "/api/v1/payouts/batches", map[string]string{"method": args[0]})
				if err != nil {
					return err
				}

				switch {
				case status == http.StatusNoContent:
					fmt.Fprintln(cmd.OutOrStdout(), "No sellers eligible for payout")
					return nil
				case status >= http.StatusBadRequest:
					return apiError(status, body)
				}

				printJSON(cmd.OutOrStdout(), json.RawMessage(body))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <batch-id>",
			Short: "Show a payout batch and its lines",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newAPIClient().show(cmd.OutOrStdout(), http.MethodGet, "/api/v1/payouts/batches/"+args[0], nil)
			},
		},
	)

	return cmd
}

// Webhooks

func webhookCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Processor notification helpers",
	}
	cmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("WEBHOOK_SECRET"), "Shared webhook signing secret")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sign <file|->",
			Short: "Print the signature header value for a notification body",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				payload, err := readPayload(cmd, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), middleware.Sign(payload, secret))
				return nil
			},
		},
		&cobra.Command{
			Use:   "send <file|->",
			Short: "Sign and deliver a notification to the webhook endpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				payload, err := readPayload(cmd, args[0])
				if err != nil {
					return err
				}

				client := newAPIClient()
				client.headers[middleware.SignatureHeader] = middleware.Sign(payload, secret)

				return client.show(cmd.OutOrStdout(), http.MethodPost, "/api/v1/webhooks/processor", payload)
			},
		},
	)

	return cmd
}

func readPayload(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

// HTTP client

type apiClient struct {
	http    *http.Client
	base    string
	headers map[string]string
}

func newAPIClient() *apiClient {
	return &apiClient{
		http:    &http.Client{Timeout: timeout},
		base:    strings.TrimRight(baseURL, "/"),
		headers: map[string]string{},
	}
}

func (c *apiClient) do(method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case []byte:
		// Sent verbatim so a signature over these bytes stays valid.
		body = bytes.NewReader(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set(middleware.IdempotencyKeyHeader, uuid.NewString())
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, respBody, nil
}

// show performs the request and pretty-prints a successful JSON answer.
func (c *apiClient) show(w io.Writer, method, path string, payload any) error {
	status, body, err := c.do(method, path, payload)
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		if len(body) > 0 && json.Valid(body) {
			printJSON(w, json.RawMessage(body))
		}
		return apiError(status, body)
	}

	if len(body) == 0 {
		fmt.Fprintf(w, "OK (%d)\n", status)
		return nil
	}

	printJSON(w, json.RawMessage(body))
	return nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Message != "" {
			return fmt.Errorf("request failed (status %d): %s: %s", status, e.Error, e.Message)
		}
		return fmt.Errorf("request failed (status %d): %s", status, e.Error)
	}
	return fmt.Errorf("request failed (status %d): %s", status, truncate(string(body), 200))
}

func printJSON(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%v\n", v)
		return
	}
	fmt.Fprintln(w, string(b))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
