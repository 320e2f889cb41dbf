package adapter

import (
	"html"
	"strings"

	kit "serverbot/internal/transport"
)

const recordSeparator = "\n\n"

// RenderHTML renders records into one Telegram HTML message, oldest first.
// Telegram has no embed colour or thumbnail, so those are dropped.
func RenderHTML(records []kit.Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		if s := renderRecord(r); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, recordSeparator)
}

func renderRecord(r kit.Record) string {
	var b strings.Builder
	line := func(s string) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}

	if a := strings.TrimSpace(r.Author); a != "" {
		line("<i>" + html.EscapeString(a) + "</i>")
	}
	if t := strings.TrimSpace(r.Title); t != "" {
		if u := strings.TrimSpace(r.URL); u != "" {
			line(`<b><a href="` + html.EscapeString(u) + `">` + html.EscapeString(t) + "</a></b>")
		} else {
			line("<b>" + html.EscapeString(t) + "</b>")
		}
	}
	if body := strings.TrimSpace(r.Body); body != "" {
		line("<pre>" + html.EscapeString(body) + "</pre>")
	}
	for _, f := range r.Fields {
		name := strings.TrimSpace(f.Name)
		val := strings.TrimSpace(f.Value)
		if name == "" && val == "" {
			continue
		}
		if name == "" {
			line(html.EscapeString(val))
			continue
		}
		line("<b>" + html.EscapeString(name) + ":</b> " + html.EscapeString(val))
	}
	if !r.Timestamp.IsZero() {
		line("<code>" + r.Timestamp.UTC().Format("2006-01-02 15:04 UTC") + "</code>")
	}
	return b.String()
}
