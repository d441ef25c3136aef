package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/callbridge/callcapture/internal/server"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running monitor",
	Long: `Query the status endpoint of a running callcapture monitor and print the
current call state, recorder connectivity and the last transition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" && cfg != nil {
			addr = cfg.Server.StatusAddr
		}
		if addr == "" {
			return fmt.Errorf("no status address configured; set server.status_addr or pass --addr")
		}

		httpClient := &http.Client{Timeout: 5 * time.Second}
		resp, err := httpClient.Get(fmt.Sprintf("http://%s/api/status", addr))
		if err != nil {
			return fmt.Errorf("failed to reach monitor at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("monitor returned unexpected status %s", resp.Status)
		}

		var status server.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		fmt.Printf("Call state:         %s\n", status.CallState)
		fmt.Printf("Recorder connected: %t\n", status.RecorderConnected)
		fmt.Printf("Reconciled:         %t\n", status.Reconciled)
		if status.LastTransition != nil {
			fmt.Printf("Last transition:    %s\n", status.LastTransition.Format(time.RFC3339))
		}
		if status.LastError != "" {
			fmt.Printf("Last error:         %s\n", status.LastError)
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status endpoint address (host:port), overrides server.status_addr")
}
