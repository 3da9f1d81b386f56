package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
)

const defaultServerURL = "http://127.0.0.1:8080"

// newAPIExecutor builds a retrying HTTP executor for talking to a running
// service instance. CLI output goes to stdout, so logs are discarded.
func newAPIExecutor() *client.Executor {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return client.NewExecutor(&http.Client{}, nil, logger)
}

// printJSON re-indents a JSON payload for terminal output.
func printJSON(cmd *cobra.Command, payload []byte) error {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		cmd.Println(string(payload))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func newSubmitCommand() *cobra.Command {
	var serverURL string
	var params []string

	cmd := &cobra.Command{
		Use:   "submit <kind>",
		Short: "Submit a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paramMap := make(map[string]any, len(params))
			for _, p := range params {
				key, value, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --param %q, want key=value", p)
				}
				paramMap[key] = value
			}

			body, err := json.Marshal(map[string]any{
				"kind":   args[0],
				"params": paramMap,
			})
			if err != nil {
				return err
			}

			payload, err := newAPIExecutor().Execute(cmd.Context(), client.Options{
				Method: http.MethodPost,
				URL:    serverURL + "/v1/jobs",
				Body:   body,
				Header: http.Header{"Content-Type": []string{"application/json"}},
			}, client.DefaultMaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "service base URL")
	cmd.Flags().StringArrayVar(&params, "param", nil, "workflow parameter as key=value (repeatable)")

	return cmd
}

func newStatusCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job's status, or the compute backend's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := serverURL + "/v1/backend/status"
			if len(args) == 1 {
				url = serverURL + "/v1/jobs/" + args[0]
			}

			payload, err := newAPIExecutor().Execute(cmd.Context(), client.Options{
				Method: http.MethodGet,
				URL:    url,
			}, client.DefaultMaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "service base URL")

	return cmd
}

func newJobsCommand() *cobra.Command {
	var serverURL string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/jobs?limit=%d&offset=%d", serverURL, limit, offset)

			payload, err := newAPIExecutor().Execute(cmd.Context(), client.Options{
				Method: http.MethodGet,
				URL:    url,
			}, client.DefaultMaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "service base URL")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}
