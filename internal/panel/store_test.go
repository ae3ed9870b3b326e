package panel

import (
	"testing"

	"wsh/internal/overlay"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore(nil)
	id := s.Create(overlay.ModeNormal, PositionTop, 3, 0, "", nil)
	got, ok := s.Get(id)
	if !ok || got.Height != 3 || got.Position != PositionTop {
		t.Fatalf("unexpected panel: %+v ok=%v", got, ok)
	}
}

func TestPatchReportsGeometryChange(t *testing.T) {
	s := NewStore(nil)
	id := s.Create(overlay.ModeNormal, PositionTop, 3, 0, "", nil)

	bg := "blue"
	changed, err := s.Patch(id, Patch{BG: &bg})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if changed {
		t.Fatalf("BG-only patch should not report a geometry change")
	}

	height := 5
	changed, err = s.Patch(id, Patch{Height: &height})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !changed {
		t.Fatalf("height patch should report a geometry change")
	}
}

func TestDeleteByModeScoped(t *testing.T) {
	s := NewStore(nil)
	normalID := s.Create(overlay.ModeNormal, PositionTop, 2, 0, "", nil)
	s.Create(overlay.ModeAlt, PositionBottom, 2, 0, "", nil)

	s.DeleteByMode(overlay.ModeAlt)

	all := s.List()
	if len(all) != 1 || all[0].ID != normalID {
		t.Fatalf("expected only the normal panel to survive: %+v", all)
	}
}

func TestClearFiresOneChangeAndRemovesBothModes(t *testing.T) {
	var fired []overlay.ScreenMode
	s := NewStore(func(m overlay.ScreenMode) { fired = append(fired, m) })
	s.Create(overlay.ModeNormal, PositionTop, 2, 0, "", nil)
	s.Create(overlay.ModeAlt, PositionBottom, 2, 0, "", nil)
	fired = nil

	s.Clear()

	if len(s.List()) != 0 {
		t.Fatalf("expected no panels to remain, got %+v", s.List())
	}
	if len(fired) != 1 {
		t.Fatalf("expected exactly one onChange call, got %d: %v", len(fired), fired)
	}
}

func TestComputeLayoutFitsWithinBudget(t *testing.T) {
	panels := []Panel{
		{ID: "top", Position: PositionTop, Height: 2, Visible: true},
		{ID: "bottom", Position: PositionBottom, Height: 3, Visible: true},
	}
	layout := ComputeLayout(panels, 24)
	if layout.TopRows != 2 || layout.BottomRows != 3 {
		t.Fatalf("unexpected rows: top=%d bottom=%d", layout.TopRows, layout.BottomRows)
	}
	if layout.ViewportRows != 19 {
		t.Fatalf("expected viewport 19, got %d", layout.ViewportRows)
	}
	if len(layout.Hidden) != 0 {
		t.Fatalf("expected no hidden panels, got %+v", layout.Hidden)
	}
}

func TestComputeLayoutHidesWhatDoesNotFit(t *testing.T) {
	panels := []Panel{
		{ID: "big", Position: PositionTop, Height: 20, Visible: true, Z: 0},
		{ID: "bigger", Position: PositionBottom, Height: 10, Visible: true, Z: 1},
	}
	layout := ComputeLayout(panels, 24)
	if len(layout.Visible) != 1 || layout.Visible[0].ID != "big" {
		t.Fatalf("expected only the first panel (by Z order) to fit: %+v", layout.Visible)
	}
	if len(layout.Hidden) != 1 || layout.Hidden[0].ID != "bigger" {
		t.Fatalf("expected the second panel hidden: %+v", layout.Hidden)
	}
	if layout.ViewportRows < minViewportRows {
		t.Fatalf("viewport must never go below the floor, got %d", layout.ViewportRows)
	}
}

func TestComputeLayoutNeverHidesInvisiblePanelsAsFitting(t *testing.T) {
	panels := []Panel{
		{ID: "hidden-by-caller", Position: PositionTop, Height: 2, Visible: false},
	}
	layout := ComputeLayout(panels, 24)
	if len(layout.Visible) != 0 || len(layout.Hidden) != 1 {
		t.Fatalf("expected the invisible panel to land in Hidden: %+v", layout)
	}
	if layout.ViewportRows != 24 {
		t.Fatalf("expected full viewport when nothing is visible, got %d", layout.ViewportRows)
	}
}
