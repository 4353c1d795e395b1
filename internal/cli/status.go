package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hollis/braid/pkg/gateway"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Query a running braid gateway for its health, uptime, and queue state.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/rpc", host, cfg.Gateway.Port)

	body, err := json.Marshal(gateway.RPCRequest{ID: "cli-status", Method: "status", JSONRPC: "2.0"})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(gateway.SecretHeader, cfg.Gateway.SharedSecret)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		// No gateway listening is a state, not an error.
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gateway rejected the shared secret; check gateway.shared_secret")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	var rpcResp gateway.RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode status response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("status call failed: %s", rpcResp.Error.Message)
	}

	result, ok := rpcResp.Result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected status payload")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Status: running")
	if up, ok := result["uptimeSeconds"].(float64); ok {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(up)*time.Second))
	}
	if clients, ok := result["clients"].(map[string]interface{}); ok {
		fmt.Fprintf(out, "Clients: %v connected, %v authenticated\n",
			clients["connected"], clients["authenticated"])
	}
	if sessions, ok := result["sessions"].(float64); ok {
		fmt.Fprintf(out, "Sessions: %d\n", int(sessions))
	}
	if queue, ok := result["queue"].(map[string]interface{}); ok {
		fmt.Fprintf(out, "Queue lanes: %d\n", len(queue))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
