// Package templates holds the console's templ components.
package templates

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// htmlWriter accumulates the first write error so components read top to
// bottom like the markup they produce.
type htmlWriter struct {
	ctx context.Context
	w   io.Writer
	err error
}

func newWriter(ctx context.Context, w io.Writer) *htmlWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &htmlWriter{ctx: ctx, w: w}
}

// raw writes trusted markup.
func (hw *htmlWriter) raw(s string) {
	if hw.err == nil {
		_, hw.err = io.WriteString(hw.w, s)
	}
}

// text writes escaped text, safe in element content and quoted attributes.
func (hw *htmlWriter) text(s string) {
	hw.raw(templ.EscapeString(s))
}

func (hw *htmlWriter) int(n int) {
	hw.raw(strconv.Itoa(n))
}

func (hw *htmlWriter) component(c templ.Component) {
	if hw.err == nil {
		hw.err = c.Render(hw.ctx, hw.w)
	}
}

// StatusBadge shows the validation service's availability. The page script
// updates it in place from the status stream.
func StatusBadge(a core.Availability) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<span id="status" class="badge `)
		hw.text(string(a))
		hw.raw(`">`)
		hw.text(string(a))
		hw.raw(`</span>`)
		return hw.err
	})
}

// ErrorAlert renders a user-facing error with its suggested action and
// support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<div class="alert error" role="alert"><strong>`)
		hw.text(message)
		hw.raw(`</strong>`)
		if code != "" {
			hw.raw(` <span class="code">(`)
			hw.text(code)
			hw.raw(`)</span>`)
		}
		if action != "" {
			hw.raw(`<p>`)
			hw.text(action)
			hw.raw(`</p>`)
		}
		hw.raw(`</div>`)
		return hw.err
	})
}

// Notice renders a confirmation such as the save message.
func Notice(message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<div class="alert notice" role="status">`)
		hw.text(message)
		hw.raw(`</div>`)
		return hw.err
	})
}
