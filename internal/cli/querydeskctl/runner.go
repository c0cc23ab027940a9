package querydeskctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after argument parsing. They
// exit with 1; everything else is a usage error and exits with 2.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

type client struct {
	baseURL string
	output  string
	http    *http.Client
	stdout  io.Writer
	stderr  io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	c := &client{stdout: stdout, stderr: stderr}
	root := newRootCommand(c, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			_, _ = fmt.Fprintln(stderr, reqErr.Error())
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		_ = root.Usage()
		return 2
	}
	return 0
}

func newRootCommand(c *client, defaults Options) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:           "querydeskctl",
		Short:         "Command line client for the querydesk API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch c.output {
			case "json", "table":
			default:
				return fmt.Errorf("invalid --output %q: use json or table", c.output)
			}
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querydesk API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "output format: json or table")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.do(cmd.Context(), http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.do(cmd.Context(), http.MethodGet, "/v1/ready", nil)
			},
		},
		newQueryCommand(c),
		newTestCommand(c),
	)
	return root
}

func newQueryCommand(c *client) *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query against the warehouse or the cluster",
	}

	warehouseCmd := &cobra.Command{
		Use:   "warehouse <statement>",
		Short: "POST /v1/warehouse/query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"query": strings.Join(args, " ")}
			return c.do(cmd.Context(), http.MethodPost, "/v1/warehouse/query", body)
		},
	}

	var queryType string
	clusterCmd := &cobra.Command{
		Use:   "cluster <command or SELECT statement>",
		Short: "POST /v1/cluster/query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"query": strings.Join(args, " ")}
			if queryType != "" {
				body["queryType"] = queryType
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/cluster/query", body)
		},
	}
	clusterCmd.Flags().StringVarP(&queryType, "type", "t", "", "query type: kubectl (default) or sql")
	// kubectl flags such as -A belong to the query text.
	clusterCmd.Flags().SetInterspersed(false)
	warehouseCmd.Flags().SetInterspersed(false)

	queryCmd.AddCommand(warehouseCmd, clusterCmd)
	return queryCmd
}

func newTestCommand(c *client) *cobra.Command {
	paths := map[string]string{
		"warehouse": "/v1/warehouse/test",
		"cluster":   "/v1/cluster/test",
		"all":       "/v1/connections/test",
	}
	return &cobra.Command{
		Use:       "test <warehouse|cluster|all>",
		Short:     "Probe backend connectivity",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"warehouse", "cluster", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ok := paths[args[0]]
			if !ok {
				return fmt.Errorf("unknown test target %q", args[0])
			}
			return c.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
}

func (c *client) do(ctx context.Context, method, path string, payload any) error {
	code, responseBody, err := c.request(ctx, method, path, payload)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, failureText(responseBody))}
	}

	if c.output == "table" {
		if rendered, ok := renderTable(responseBody, isTerminal(c.stdout)); ok {
			_, _ = fmt.Fprint(c.stdout, rendered)
			return nil
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func (c *client) request(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func failureText(raw []byte) string {
	var failure struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
		return failure.Error + ": " + failure.Message
	}
	return strings.TrimSpace(string(raw))
}

// renderTable draws tabular query data with pterm. Message results print
// their text and row count. Anything else falls back to JSON. ANSI styling is
// kept only when styled is set.
func renderTable(raw []byte, styled bool) (string, bool) {
	var response struct {
		Data struct {
			Columns  []string `json:"columns"`
			Rows     [][]any  `json:"rows"`
			RowCount *int     `json:"rowCount"`
			Message  *string  `json:"message"`
		} `json:"data"`
		ExecutionTime string `json:"executionTime"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", false
	}

	data := response.Data
	switch {
	case data.Columns != nil:
		tableData := pterm.TableData{data.Columns}
		for _, row := range data.Rows {
			cells := make([]string, len(row))
			for i, value := range row {
				cells[i] = formatCell(value)
			}
			tableData = append(tableData, cells)
		}
		rendered, err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
		if err != nil {
			return "", false
		}
		if !styled {
			rendered = pterm.RemoveColorFromString(rendered)
		}
		return fmt.Sprintf("%s\n%d row(s) in %s\n", rendered, len(data.Rows), response.ExecutionTime), true
	case data.Message != nil:
		return fmt.Sprintf("%s\n", *data.Message), true
	default:
		return "", false
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64, bool:
		return fmt.Sprint(typed)
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(raw)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
