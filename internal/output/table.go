package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/keyrelay/keyrelay/internal/core"
)

// CredentialOptions tune credential rendering.
type CredentialOptions struct {
	RevealKeys bool
}

// Credentials renders credentials in format.
func Credentials(format Format, creds []core.Credential, opts CredentialOptions) (string, error) {
	rows := make([]core.Credential, len(creds))
	copy(rows, creds)
	if !opts.RevealKeys {
		for i := range rows {
			rows[i].Key = MaskKey(rows[i].Key)
		}
	}

	switch format {
	case FormatJSON:
		return JSON(rows)
	case FormatMarkdown:
		header := []string{"Owner", "Name", "Key", "Issued", "Requests"}
		lines := make([][]string, 0, len(rows))
		for _, c := range rows {
			lines = append(lines, []string{c.OwnerIdentity, c.Name, c.Key, formatTime(c.IssuedAt), fmt.Sprint(c.RequestCount)})
		}
		return markdownTable(header, lines), nil
	default:
		t := newTable("Owner", "Name", "Key", "Issued", "Requests")
		for _, c := range rows {
			t.AppendRow(table.Row{c.OwnerIdentity, c.Name, c.Key, formatTime(c.IssuedAt), c.RequestCount})
		}
		t.AppendFooter(table.Row{"", "", "", "total", len(rows)})
		return t.Render(), nil
	}
}

// RateWindows renders rate windows in format.
func RateWindows(format Format, windows []core.RateWindow) (string, error) {
	switch format {
	case FormatJSON:
		return JSON(windows)
	case FormatMarkdown:
		header := []string{"Client", "Count", "Window start", "Last seen", "Blocked"}
		lines := make([][]string, 0, len(windows))
		for _, w := range windows {
			lines = append(lines, []string{w.ClientID, fmt.Sprint(w.RequestCount), formatTime(w.WindowStart), formatTime(w.LastSeen), yesNo(w.Blocked)})
		}
		return markdownTable(header, lines), nil
	default:
		t := newTable("Client", "Count", "Window start", "Last seen", "Blocked")
		for _, w := range windows {
			t.AppendRow(table.Row{w.ClientID, w.RequestCount, formatTime(w.WindowStart), formatTime(w.LastSeen), yesNo(w.Blocked)})
		}
		return t.Render(), nil
	}
}

// Usage renders usage log entries in format.
func Usage(format Format, entries []core.UsageEntry) (string, error) {
	switch format {
	case FormatJSON:
		return JSON(entries)
	case FormatMarkdown:
		header := []string{"Recorded", "Endpoint", "Parameters"}
		lines := make([][]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, []string{formatTime(e.RecordedAt), e.Endpoint, formatParams(e.Parameters)})
		}
		return markdownTable(header, lines), nil
	default:
		t := newTable("Recorded", "Endpoint", "Parameters")
		for _, e := range entries {
			t.AppendRow(table.Row{formatTime(e.RecordedAt), e.Endpoint, formatParams(e.Parameters)})
		}
		return t.Render(), nil
	}
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(headers))
	return t
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatParams(params []core.QueryParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, "&")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
