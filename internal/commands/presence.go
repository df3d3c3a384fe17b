package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"parley/internal/api"
	"parley/internal/config"
)

// Presence prints the users a running server currently tracks, as reported
// by its admin API.
func Presence(out io.Writer, cfg *config.Config) error {
	url := fmt.Sprintf("http://%s/admin/presence", cfg.AdminAddr)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to read presence (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.PresenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Presence) == 0 {
		_, err := fmt.Fprintln(out, "Nobody is online.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "USER\tSTATUS\tCONNECTION")
	for _, e := range result.Presence {
		conn := e.ConnectionID
		if conn == "" {
			conn = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.UserID, e.Status, conn)
	}
	return tw.Flush()
}
