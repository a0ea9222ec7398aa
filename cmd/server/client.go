package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"groundzero-sync-service/internal/config"
)

// Subcommands below talk to a running service over its HTTP API.
var (
	apiAddr  string
	apiToken string
)

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, syncCmd, modeCmd} {
		cmd.Flags().StringVar(&apiAddr, "addr", "", "service base URL (defaults to the configured server address)")
		cmd.Flags().StringVar(&apiToken, "token", "", "API bearer token (defaults to server.auth_token)")
		rootCmd.AddCommand(cmd)
	}
	modeCmd.Flags().String("lan-endpoint", "", "persist a new LAN server base URL")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection mode, pending writes and the last sync result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAPI(cmd.Context(), http.MethodGet, "/api/v1/sync/status", nil)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending-write queue to the cloud now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAPI(cmd.Context(), http.MethodPost, "/api/v1/sync/trigger", nil)
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode [cloud|lan]",
	Short: "Show the connection mode, or force LAN mode on or off",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if len(args) == 1 {
			switch args[0] {
			case "lan":
				body["forced_lan"] = true
			case "cloud":
				body["forced_lan"] = false
			default:
				return fmt.Errorf("unknown mode %q, want cloud or lan", args[0])
			}
		}
		if endpoint, _ := cmd.Flags().GetString("lan-endpoint"); endpoint != "" {
			body["lan_endpoint"] = endpoint
		}

		if len(body) == 0 {
			return callAPI(cmd.Context(), http.MethodGet, "/api/v1/mode", nil)
		}
		return callAPI(cmd.Context(), http.MethodPut, "/api/v1/mode", body)
	},
}

func callAPI(ctx context.Context, method, path string, body any) error {
	base, token, err := apiTarget()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if json.Indent(&out, raw, "", "  ") != nil {
		out.Reset()
		out.Write(raw)
	}
	fmt.Fprintln(os.Stdout, out.String())

	if resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return nil
}

// apiTarget fills unset flags from the config file when it can be read.
func apiTarget() (string, string, error) {
	base, token := apiAddr, apiToken
	if base == "" || token == "" {
		cfg, err := config.Load(configPath)
		if err != nil && base == "" {
			return "", "", fmt.Errorf("no --addr given and %w", err)
		}
		if cfg != nil {
			if base == "" {
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				base = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
			}
			if token == "" {
				token = cfg.Server.AuthToken
			}
		}
	}
	return strings.TrimSuffix(base, "/"), token, nil
}
