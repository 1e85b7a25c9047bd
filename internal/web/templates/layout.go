package templates

import (
	"context"

	"github.com/a-h/templ"
)

const styles = `
body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1f2933}
header{background:#1f2933;color:#fff;padding:12px 24px;display:flex;gap:24px;align-items:center}
header a{color:#cbd2d9;text-decoration:none}
main{max-width:960px;margin:24px auto;padding:0 24px}
section{background:#fff;border-radius:8px;padding:16px 24px;margin-bottom:16px;box-shadow:0 1px 2px rgba(0,0,0,.08)}
label{display:block;margin:8px 0 4px;font-weight:600}
button{margin-top:12px;padding:8px 16px;border:0;border-radius:4px;background:#2563eb;color:#fff;cursor:pointer}
table{width:100%;border-collapse:collapse}
td,th{text-align:left;padding:4px 8px;border-bottom:1px solid #e4e7eb}
.metrics{display:flex;gap:16px}
.metric{flex:1;background:#f0f4f8;border-radius:6px;padding:12px}
.metric b{display:block;font-size:1.6em}
.bar{height:12px;background:#e4e7eb;border-radius:6px;overflow:hidden}
.bar div{height:100%;background:#2563eb;width:0}
.alert{border-left:4px solid #dc2626;background:#fef2f2}
.warning{color:#b45309}.error{color:#dc2626}
.log{list-style:none;margin:0;padding:12px;background:#1f2933;color:#e4e7eb;font:.85em monospace;max-height:400px;overflow:auto}
.log-warning{color:#fbbf24}.log-error{color:#f87171}
.check{font-size:.9em;margin-top:8px}
`

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(title)
		h.raw(` - SKU Renamer</title><style>`)
		h.raw(styles)
		h.raw(`</style></head><body><header><strong>SKU Renamer</strong>`)
		h.raw(`<a href="/">New run</a><a href="/history">History</a></header><main>`)
		h.child(ctx, body)
		h.raw(`</main></body></html>`)
	})
}

// ErrorPage renders a full page for an error shown to a browser.
func ErrorPage(message, action, code string) templ.Component {
	return Layout("Error", ErrorAlert(message, action, code))
}

// ErrorAlert renders an error box with the suggested action and code.
func ErrorAlert(message, action, code string) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<section class="alert" role="alert"><p><strong>`)
		h.text(message)
		h.raw(`</strong></p>`)
		if action != "" {
			h.raw(`<p>`)
			h.text(action)
			h.raw(`</p>`)
		}
		h.raw(`<p><small>Code: `)
		h.text(code)
		h.raw(`</small></p></section>`)
	})
}
