package panel

// Layout is the result of ComputeLayout: which panels fit in the
// terminal's current row count, and the resulting PTY viewport.
type Layout struct {
	Visible      []Panel
	Hidden       []Panel
	ViewportRows int
	TopRows      int
	BottomRows   int
}

// minViewportRows is the floor the PTY viewport is never pushed below,
// even if panels would otherwise claim every row.
const minViewportRows = 1

// ComputeLayout is a pure function of the panel list and the terminal's
// total row count: it decides, top-to-bottom in Z order, which panels
// fit before the PTY viewport would be pushed under minViewportRows,
// and returns the viewport row count the PTY and parser should be
// resized to. It has no side effects; callers apply the resize
// themselves after calling it.
func ComputeLayout(panels []Panel, terminalRows int) Layout {
	ordered := sortedByZ(panels)

	var visible, hidden []Panel
	remaining := terminalRows
	var topRows, bottomRows int

	for _, p := range ordered {
		if !p.Visible {
			hidden = append(hidden, p)
			continue
		}
		if remaining-p.Height < minViewportRows {
			hidden = append(hidden, p)
			continue
		}
		switch p.Position {
		case PositionTop:
			topRows += p.Height
		case PositionBottom:
			bottomRows += p.Height
		}
		remaining -= p.Height
		visible = append(visible, p)
	}

	viewport := terminalRows - topRows - bottomRows
	if viewport < minViewportRows {
		viewport = minViewportRows
	}

	return Layout{
		Visible:      visible,
		Hidden:       hidden,
		ViewportRows: viewport,
		TopRows:      topRows,
		BottomRows:   bottomRows,
	}
}

func sortedByZ(panels []Panel) []Panel {
	out := append([]Panel(nil), panels...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Z < out[j-1].Z; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
