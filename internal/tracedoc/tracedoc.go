// Package tracedoc renders a recorded sequence of internal/events.Event
// values into a human-readable HTML trace report — the "read this back
// after a run to see what the dispatcher did" counterpart to
// internal/debugws's live feed (spec.md §6 "Configuration"/"debug
// tooling"). It is grounded on the teacher's internal/email.ComposeMessage:
// build a markdown document, render it to HTML with goldmark, and wrap
// the result in the same minimal self-contained HTML envelope.
package tracedoc

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/dohiam/ble-protocol-runtime/internal/events"
)

// Render builds a markdown document describing trace (in timestamp
// order) and converts it to a self-contained HTML report.
func Render(title string, trace []events.Event) (string, error) {
	md := renderMarkdown(title, trace)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("tracedoc: render markdown: %w", err)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, title, buf.String())

	return html, nil
}

// renderMarkdown builds the intermediate markdown document: a one-line
// summary per event, grouped under a heading per source, sorted by
// timestamp within each group.
func renderMarkdown(title string, trace []events.Event) string {
	sorted := make([]events.Event, len(trace))
	copy(sorted, trace)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	bySource := make(map[string][]events.Event)
	var sources []string
	for _, e := range sorted {
		if _, ok := bySource[e.Source]; !ok {
			sources = append(sources, e.Source)
		}
		bySource[e.Source] = append(bySource[e.Source], e)
	}
	sort.Strings(sources)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "%d events across %d sources.\n\n", len(sorted), len(sources))

	for _, src := range sources {
		fmt.Fprintf(&b, "## %s\n\n", src)
		for _, e := range bySource[src] {
			fmt.Fprintf(&b, "- `%s` **%s**%s\n", formatTimestamp(e.Timestamp), e.Kind, formatData(e.Data))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "?"
	}
	return t.Format(time.RFC3339Nano)
}

func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return " - " + strings.Join(parts, ", ")
}
