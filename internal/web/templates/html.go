// Package templates renders the renamer's HTML pages as templ components.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// html writes markup and remembers the first error.
type html struct {
	w   io.Writer
	err error
}

// raw writes trusted markup.
func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

// text writes escaped text.
func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

// textf formats then escapes.
func (h *html) textf(format string, args ...any) {
	h.text(fmt.Sprintf(format, args...))
}

// child renders a nested component.
func (h *html) child(ctx context.Context, c templ.Component) {
	if h.err == nil && c != nil {
		h.err = c.Render(ctx, h.w)
	}
}

// component adapts a render function to templ.Component.
func component(render func(ctx context.Context, h *html)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		render(ctx, h)
		return h.err
	})
}
