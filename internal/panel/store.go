// Package panel implements the PanelStore: docked UI regions (top or
// bottom strips of fixed height) that steal rows from the PTY's
// viewport, plus the pure layout computation that decides which panels
// fit.
//
// Grounded the same way internal/overlay is — generalizing the
// teacher's single fixed input-bar widget (ekain-fr-h2's
// internal/overlay/overlay.go, `ReservedRows`/`RenderBar`, since
// deleted) into a general registry — and on
// `_examples/original_source/panel/coordinator.rs`'s `reconfigure_layout`,
// which SPEC_FULL §12 calls out as adopted verbatim: layout
// recomputation is a pure function over the full panel list and
// terminal size, called after every mutating op and after every resize.
package panel

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"wsh/internal/overlay"
)

// Position is which edge of the terminal a panel docks to.
type Position int

const (
	PositionTop Position = iota
	PositionBottom
)

// ErrNotFound is returned by operations addressing a missing panel id.
var ErrNotFound = errors.New("panel: not found")

// Panel is one docked UI strip.
type Panel struct {
	ID         string
	Position   Position
	Height     int
	Z          int
	BG         string
	Spans      []overlay.Span
	ScreenMode overlay.ScreenMode
	Visible    bool
}

// Patch carries the optional fields of an atomic patch operation.
type Patch struct {
	Position *Position
	Height   *int
	Z        *int
	BG       *string
	Spans    []overlay.Span
}

// Store is the registry of panels for one session.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*Panel
	onChange func(overlay.ScreenMode)
}

// NewStore creates an empty panel registry. onChange may be nil.
func NewStore(onChange func(overlay.ScreenMode)) *Store {
	if onChange == nil {
		onChange = func(overlay.ScreenMode) {}
	}
	return &Store{items: make(map[string]*Panel), onChange: onChange}
}

func clonePanel(p *Panel) Panel {
	cp := *p
	cp.Spans = append([]overlay.Span(nil), p.Spans...)
	return cp
}

// Create adds a new panel and returns its id.
func (s *Store) Create(mode overlay.ScreenMode, pos Position, height, z int, bg string, spans []overlay.Span) string {
	id := uuid.NewString()
	p := &Panel{
		ID: id, Position: pos, Height: height, Z: z, BG: bg,
		Spans: append([]overlay.Span(nil), spans...), ScreenMode: mode, Visible: true,
	}
	s.mu.Lock()
	s.items[id] = p
	s.mu.Unlock()
	s.onChange(mode)
	return id
}

// Get returns a copy of the panel with the given id.
func (s *Store) Get(id string) (Panel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return Panel{}, false
	}
	return clonePanel(p), true
}

// List returns a copy of every panel.
func (s *Store) List() []Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Panel, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, clonePanel(p))
	}
	return out
}

// ListByMode returns a copy of every panel tagged with mode.
func (s *Store) ListByMode(mode overlay.ScreenMode) []Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Panel
	for _, p := range s.items {
		if p.ScreenMode == mode {
			out = append(out, clonePanel(p))
		}
	}
	return out
}

// Update replaces a panel's spans wholesale. This is content-only and
// does not require a layout recomputation.
func (s *Store) Update(id string, spans []overlay.Span) error {
	s.mu.Lock()
	p, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	p.Spans = append([]overlay.Span(nil), spans...)
	mode := p.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// UpdateSpans merges spans into the panel's existing spans by Name.
func (s *Store) UpdateSpans(id string, spans []overlay.Span) error {
	s.mu.Lock()
	p, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for _, span := range spans {
		replaced := false
		for i := range p.Spans {
			if p.Spans[i].Name != "" && p.Spans[i].Name == span.Name {
				p.Spans[i] = span
				replaced = true
				break
			}
		}
		if !replaced {
			p.Spans = append(p.Spans, span)
		}
	}
	mode := p.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// Patch applies every non-nil field atomically. Position/Height/Z
// changes require the caller to re-run layout afterward (Content-only
// patches — Spans/BG alone — do not).
func (s *Store) Patch(id string, patch Patch) (changedGeometry bool, err error) {
	s.mu.Lock()
	p, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	if patch.Position != nil && *patch.Position != p.Position {
		p.Position = *patch.Position
		changedGeometry = true
	}
	if patch.Height != nil && *patch.Height != p.Height {
		p.Height = *patch.Height
		changedGeometry = true
	}
	if patch.Z != nil {
		p.Z = *patch.Z
	}
	if patch.BG != nil {
		p.BG = *patch.BG
	}
	if patch.Spans != nil {
		p.Spans = append([]overlay.Span(nil), patch.Spans...)
	}
	mode := p.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return changedGeometry, nil
}

// Delete removes one panel.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	p, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.items, id)
	mode := p.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// DeleteByMode removes every panel tagged with mode.
func (s *Store) DeleteByMode(mode overlay.ScreenMode) {
	s.mu.Lock()
	for id, p := range s.items {
		if p.ScreenMode == mode {
			delete(s.items, id)
		}
	}
	s.mu.Unlock()
	s.onChange(mode)
}

// Clear removes every panel regardless of mode, firing a single
// PanelsChanged notification rather than one per mode.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make(map[string]*Panel)
	s.mu.Unlock()
	s.onChange(overlay.ModeNormal)
}

// SetVisible toggles one panel's visibility. Visibility changes affect
// layout, so callers must re-run layout after this call.
func (s *Store) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	p, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	p.Visible = visible
	mode := p.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}
