package templates

import (
	"context"
	"time"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/a-h/templ"
)

// History renders the most recent runs, newest first.
func History(records []core.RunRecord) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<section><h2>Run history</h2>`)
		if len(records) == 0 {
			h.raw(`<p>No runs yet.</p></section>`)
			return
		}
		h.raw(`<table><tr><th>Started</th><th>Source</th><th>Table</th><th>Images</th>`)
		h.raw(`<th>Processed</th><th>Failures</th><th>Success</th><th>Duration</th><th>Status</th></tr>`)
		for _, rec := range records {
			h.raw(`<tr><td>`)
			h.text(rec.StartedAt.Format("2006-01-02 15:04"))
			h.raw(`</td><td>`)
			h.textf("%s (%s)", rec.SourceName, rec.Source)
			h.raw(`</td><td>`)
			h.text(rec.MappingName)
			h.raw(`</td><td>`)
			h.textf("%d", rec.Total)
			h.raw(`</td><td>`)
			h.textf("%d", rec.Succeeded)
			h.raw(`</td><td>`)
			h.textf("%d", rec.Failed)
			h.raw(`</td><td>`)
			h.textf("%.1f%%", rec.SuccessRate())
			h.raw(`</td><td>`)
			h.text(rec.Duration().Round(100 * time.Millisecond).String())
			h.raw(`</td><td>`)
			switch {
			case rec.Error != "":
				h.raw(`<span class="error" title="`)
				h.text(rec.Error)
				h.raw(`">failed</span>`)
			case rec.Cancelled:
				h.raw(`<span class="warning">cancelled</span>`)
			default:
				h.raw(`complete`)
			}
			h.raw(`</td></tr>`)
		}
		h.raw(`</table></section>`)
	})
}
