package templates

import (
	"context"
	"sort"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/a-h/templ"
)

// RunPending renders a run that has not finished. The page reloads itself.
func RunPending(p core.RunProgress) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<meta http-equiv="refresh" content="2">`)
		h.raw(`<section><h2>Run in progress</h2><div class="bar"><div style="width:`)
		h.textf("%d", p.Percent())
		h.raw(`%"></div></div><p>`)
		h.textf("%s: %d/%d", p.Phase, p.Current, p.Total)
		if p.CurrentFile != "" {
			h.raw(` <code>`)
			h.text(p.CurrentFile)
			h.raw(`</code>`)
		}
		h.raw(`</p><form method="post" action="/api/runs/`)
		h.text(p.RunID)
		h.raw(`/cancel"><button type="submit">Cancel</button></form></section>`)
	})
}

// RunPage renders the summary of a finished run.
func RunPage(res *core.RunResult) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<section><h2>Run `)
		h.text(string(res.Phase()))
		h.raw(`</h2><p>`)
		h.text(res.SourceName)
		h.raw(` with `)
		h.text(res.MappingName)
		h.raw(` (`)
		h.textf("%d codes, %s, counter %s", res.MappedCodes, res.Encoding, res.CounterMode)
		h.raw(`)</p>`)
		if res.Error != "" {
			msg := core.MapError(errorString(res.Error))
			h.child(ctx, ErrorAlert(msg.Message, msg.Action, msg.Code))
		}
		h.raw(`</section>`)

		if r := res.Result; r != nil {
			metrics(h, r)
			groups(h, res)
			outputs(h, r)
			failures(h, r)
		}

		h.raw(`<section><h3>Downloads</h3><p>`)
		base := "/api/runs/" + res.RunID
		if res.HasArchive() {
			link(h, base+"/archive", "Renamed images (ZIP)")
		}
		if res.HasCSV() {
			link(h, base+"/csv", "Result table (CSV)")
		}
		link(h, base+"/log", "Log")
		if res.DestDir != "" {
			h.raw(`</p><p>Images written to <code>`)
			h.text(res.DestDir)
			h.raw(`</code>`)
		}
		h.raw(`</p></section>`)

		runLog(h, res.Events)
	})
}

func runLog(h *html, events []core.Event) {
	h.raw(`<section><h3>Log</h3><ul class="log">`)
	for _, ev := range events {
		h.raw(`<li class="log-`)
		h.text(string(ev.Severity))
		h.raw(`">`)
		h.text(ev.Time.Format("15:04:05"))
		h.raw(` `)
		h.text(ev.Message)
		h.raw(`</li>`)
	}
	h.raw(`</ul></section>`)
}

func metrics(h *html, r *core.Result) {
	h.raw(`<section class="metrics">`)
	metric(h, "Total images", "%d", r.Total)
	metric(h, "Processed", "%d", r.Succeeded)
	metric(h, "Failures", "%d", r.Failed())
	metric(h, "Success rate", "%.1f%%", r.SuccessRate())
	h.raw(`</section>`)
}

func metric(h *html, label, format string, v any) {
	h.raw(`<div class="metric">`)
	h.text(label)
	h.raw(`<b>`)
	h.textf(format, v)
	h.raw(`</b></div>`)
}

func groups(h *html, res *core.RunResult) {
	if res.Dropped() == 0 {
		return
	}
	h.raw(`<section><h3>Folders over the limit</h3><table><tr><th>Folder</th><th>Found</th><th>Processed</th></tr>`)
	for _, g := range res.Groups {
		if g.Dropped() == 0 {
			continue
		}
		name := g.Group
		if name == "" {
			name = "(root)"
		}
		h.raw(`<tr><td>`)
		h.text(name)
		h.raw(`</td><td>`)
		h.textf("%d", g.Found)
		h.raw(`</td><td>`)
		h.textf("%d", g.Kept)
		h.raw(`</td></tr>`)
	}
	h.raw(`</table></section>`)
}

func outputs(h *html, r *core.Result) {
	if len(r.Codes) == 0 {
		return
	}
	codes := append([]string(nil), r.Codes...)
	sort.Strings(codes)

	h.raw(`<section><h3>Images per code</h3><table><tr><th>Code</th><th>Images</th></tr>`)
	for _, code := range codes {
		h.raw(`<tr><td>`)
		h.text(code)
		h.raw(`</td><td>`)
		for i, name := range r.Groups[code] {
			if i > 0 {
				h.raw(`, `)
			}
			h.text(name)
		}
		h.raw(`</td></tr>`)
	}
	h.raw(`</table></section>`)
}

func failures(h *html, r *core.Result) {
	if len(r.Failures) == 0 {
		return
	}
	h.raw(`<section><h3>Failures</h3><table><tr><th>File</th><th>Reason</th><th>Detail</th></tr>`)
	for _, f := range r.Failures {
		h.raw(`<tr><td>`)
		h.text(f.File)
		h.raw(`</td><td>`)
		h.text(string(f.Reason))
		h.raw(`</td><td>`)
		h.text(f.Detail)
		h.raw(`</td></tr>`)
	}
	h.raw(`</table></section>`)
}

func link(h *html, href, label string) {
	h.raw(`<a href="`)
	h.text(href)
	h.raw(`">`)
	h.text(label)
	h.raw(`</a> `)
}

// errorString lets a stored message go through core.MapError.
type errorString string

func (e errorString) Error() string { return string(e) }
