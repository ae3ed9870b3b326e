package vtparser

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

// RenderScrollback renders a Styled-format line list as plain scrolling
// output: each line followed by a newline, with no clear or cursor
// positioning. A client replaying this before RenderScreen sees its
// history scroll past exactly as it originally would have.
//
// Color/attribute encoding goes through termenv.Style, the direction
// its public API is actually built for (see DESIGN.md on why the
// opposite direction — decoding an SGR escape into Span's fields — is
// not a termenv concern).
func RenderScrollback(lines []Line) []byte {
	profile := termenv.ColorProfile()
	var b strings.Builder
	for _, line := range lines {
		for _, span := range line.Spans {
			b.WriteString(renderSpan(profile, span))
		}
		if line.Plain != "" {
			b.WriteString(line.Plain)
		}
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// RenderScreen converts a Styled-format line list plus cursor state
// back into raw ANSI bytes that restore a client's real terminal to
// that exact visual state: a full clear/home, each line redrawn in
// place, then a cursor-position (and visibility) escape. This is the
// "current screen with cursor restore" half of spec §4.8's AttachSession
// replay payload; RenderScrollback builds the scrollback half that
// precedes it.
func RenderScreen(lines []Line, cursor Cursor) []byte {
	profile := termenv.ColorProfile()
	var b strings.Builder
	b.WriteString("\x1b[2J\x1b[H")
	for i, line := range lines {
		fmt.Fprintf(&b, "\x1b[%d;1H\x1b[2K", i+1)
		for _, span := range line.Spans {
			b.WriteString(renderSpan(profile, span))
		}
		if line.Plain != "" {
			b.WriteString(line.Plain)
		}
	}
	fmt.Fprintf(&b, "\x1b[%d;%dH", cursor.Row+1, cursor.Col+1)
	if cursor.Visible {
		b.WriteString("\x1b[?25h")
	} else {
		b.WriteString("\x1b[?25l")
	}
	return []byte(b.String())
}

func renderSpan(profile termenv.Profile, span Span) string {
	if span.Text == "" {
		return ""
	}
	styled := termenv.String(span.Text)
	if span.FG != "" {
		styled = styled.Foreground(profile.Color(span.FG))
	}
	if span.BG != "" {
		styled = styled.Background(profile.Color(span.BG))
	}
	if span.Bold {
		styled = styled.Bold()
	}
	if span.Italic {
		styled = styled.Italic()
	}
	if span.Underline {
		styled = styled.Underline()
	}
	return styled.String()
}
