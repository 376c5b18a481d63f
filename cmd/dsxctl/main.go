// dsxctl is the operator CLI for a running exchange daemon. It talks to the
// daemon's HTTP API; DSX_API points at the daemon (default http://localhost:8080).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiBase() string {
	if v := os.Getenv("DSX_API"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func call(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, apiBase()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api returned %s", resp.Status)
	}
	return nil
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dsxctl",
		Short:         "Operator CLI for the exchange daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(crashCmd(), boomCmd(), splitCmd(), tickerCmd(), leaderboardCmd(), trendingCmd(), newsCmd())
	return root
}

func crashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crash",
		Short: "Force a market-wide crash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/admin/events", map[string]string{"type": "crash"})
		},
	}
}

func boomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boom",
		Short: "Force a market-wide boom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/v1/admin/events", map[string]string{"type": "boom"})
		},
	}
}

func splitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <security-id>",
		Short: "Force a 2-for-1 split on one security",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("security id must be numeric: %w", err)
			}
			return call(http.MethodPost, "/v1/admin/splits/"+args[0], nil)
		},
	}
}

func tickerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticker <security-id>",
		Short: "Show one security with its recent price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("security id must be numeric: %w", err)
			}
			return call(http.MethodGet, "/v1/ticker/"+args[0], nil)
		},
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the net-worth leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/leaderboard", nil)
		},
	}
}

func trendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trending",
		Short: "Show the biggest gainers today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/trending", nil)
		},
	}
}

func newsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "Show recent market news",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/news", nil)
		},
	}
}
