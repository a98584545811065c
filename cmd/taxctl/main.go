// taxctl submits clearance jobs to a go-clearflow gateway and waits for
// their outcome using the poller package.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taxops/go-clearflow/poller"
)

var (
	gatewayURL string
	clientID   string
	requestID  string
	timeout    time.Duration
	flatEvery  time.Duration
	noWait     bool
)

var rootCmd = &cobra.Command{
	Use:   "taxctl",
	Short: "Submit and track clearance jobs against a go-clearflow gateway",
}

var submitCmd = &cobra.Command{
	Use:   "submit [payload-file]",
	Short: "Submit a clearance and poll until it resolves",
	Long: `Reads a clearance submission from a JSON file (or stdin when the
argument is "-"), submits it, and polls the gateway until the job
completes, fails, times out, or is interrupted with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := newClient().Submit(ctx, payload, poller.SubmitOptions{
			RequestID: requestID,
			NoWait:    noWait,
		})
		if err != nil {
			return err
		}
		report(res)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [request-id]",
	Short: "Resume polling an existing clearance request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := newClient().Poll(ctx, args[0])
		if err != nil {
			return err
		}
		report(res)
		return nil
	},
}

func newClient() *poller.Client {
	cfg := poller.Config{
		BaseURL:  gatewayURL + "/clearances",
		ClientID: clientID,
		Timeout:  timeout,
	}
	if flatEvery > 0 {
		cfg.Schedule = poller.Flat{Interval: flatEvery}
	}
	return poller.New(cfg)
}

func readPayload(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return b, nil
}

func report(res *poller.Result) {
	fmt.Printf("request_id: %s\n", res.RequestID)
	fmt.Printf("outcome:    %s (%d calls)\n", res.Outcome, res.Calls)
	if res.Response != nil {
		fmt.Printf("status:     %d\n", res.Response.StatusCode)
		fmt.Printf("%s\n", res.Response.Body)
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "http://localhost:8080", "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", os.Getenv("CLEARFLOW_CLIENT_ID"), "authenticated subject")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "global polling ceiling")
	rootCmd.PersistentFlags().DurationVar(&flatEvery, "every", 0, "poll at a flat interval instead of backing off")

	submitCmd.Flags().StringVar(&requestID, "request-id", "", "reuse a request id (idempotent resubmission)")
	submitCmd.Flags().BoolVar(&noWait, "no-wait", false, "fire-and-forget: one call, answer returned as-is")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
