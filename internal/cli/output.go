// Package cli provides output formatting and an HTTP client for the guidechat command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a host search response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	fmt.Fprintf(w, "Keywords: %s\n\n", strings.Join(response.Keywords, ", "))
	for i, p := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Vector: %.4f, Keyword: %.4f)\n",
			i+1, p.Score, p.VectorScore, p.KeywordScore)
		fmt.Fprintf(w, "Block: %s\n", p.BlockID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(p.Content, 300))
	}
	return nil
}

// WriteTurnPage writes one page of conversation turns.
func WriteTurnPage(w io.Writer, page *models.TurnPage, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, page)
	}
	m := page.Meta
	fmt.Fprintf(w, "Page %d/%d (%d turns)\n\n", m.Page, m.TotalPages, m.Total)
	for _, t := range page.Items {
		writeTurn(w, t, true)
	}
	return nil
}

// WriteSession writes a whole conversation, oldest first.
func WriteSession(w io.Writer, session *models.SessionResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, session)
	}
	fmt.Fprintf(w, "Session %s (%d messages)\n\n", session.SessionID, len(session.Messages))
	for _, t := range session.Messages {
		writeTurn(w, t, false)
	}
	return nil
}

func writeTurn(w io.Writer, t *models.ConversationTurn, withSession bool) {
	fmt.Fprintf(w, "[%s] %s", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role)
	if withSession {
		fmt.Fprintf(w, " (session %s)", t.SessionID)
	}
	fmt.Fprintf(w, "\n%s\n", t.Content)
	if len(t.Metadata.ReferencedBlockIDs) > 0 {
		fmt.Fprintf(w, "  blocks: %s\n", strings.Join(t.Metadata.ReferencedBlockIDs, ", "))
	}
	fmt.Fprintln(w)
}

// WriteStatus writes store counts and configuration.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	fmt.Fprintf(w, "Guides:              %d\n", status.Guides)
	fmt.Fprintf(w, "Conversation turns:  %d\n", status.Turns)
	fmt.Fprintf(w, "Embeddings:          %d\n", status.Embeddings)
	if status.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:          %s\n", FormatBytes(status.DiskUsageBytes))
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w, "\nConfiguration:")
		for _, k := range sortedKeys(status.Config) {
			fmt.Fprintf(w, "  %-22s %v\n", k+":", status.Config[k])
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
