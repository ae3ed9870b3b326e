// Package overlay implements the OverlayStore: a registry of visual
// elements a client can draw on top of the PTY's own output, tagged by
// which screen mode (primary/alt) they belong to.
//
// Grounded on the shape of the teacher's old single-input-bar overlay
// package (internal/overlay/overlay.go in ekain-fr-h2, since deleted —
// see DESIGN.md) generalized from "one fixed input bar" into a general
// create/patch/delete registry, and on internal/overlay/render.go's
// span-rendering idiom (a sequence of styled runs per line) for the
// Span type shape. Id generation uses google/uuid, the same library the
// teacher uses for session identifiers.
package overlay

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ScreenMode tags an overlay with which VT screen it belongs to.
type ScreenMode int

const (
	ModeNormal ScreenMode = iota
	ModeAlt
)

// ErrNotFound is returned by operations addressing a missing overlay id.
var ErrNotFound = errors.New("overlay: not found")

// Span is one named, styled run of text within an overlay.
type Span struct {
	Name      string
	Text      string
	FG        string
	BG        string
	Bold      bool
	Italic    bool
	Underline bool
}

// Overlay is one visual element: a positioned, z-ordered box of spans.
type Overlay struct {
	ID         string
	X, Y, Z    int
	W, H       int
	BG         string
	Spans      []Span
	ScreenMode ScreenMode
	Visible    bool
}

// RegionWrite overwrites the spans at a given offset within an overlay's
// content without touching geometry.
type RegionWrite struct {
	Offset int
	Spans  []Span
}

// Patch carries the optional fields of an atomic patch operation; a nil
// field leaves that property unchanged.
type Patch struct {
	X, Y, Z, W, H *int
	BG            *string
	Spans         []Span
}

// Store is the registry of overlays for one session. Every mutation
// fires onChange(mode) once, after the write lock is released, matching
// spec's "mutation fires OverlaysChanged" contract — callers wire
// onChange to publish on the session's visual-update broadcast.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*Overlay
	onChange func(ScreenMode)
}

// NewStore creates an empty overlay registry. onChange may be nil.
func NewStore(onChange func(ScreenMode)) *Store {
	if onChange == nil {
		onChange = func(ScreenMode) {}
	}
	return &Store{items: make(map[string]*Overlay), onChange: onChange}
}

func clone(o *Overlay) Overlay {
	cp := *o
	cp.Spans = append([]Span(nil), o.Spans...)
	return cp
}

// Create adds a new overlay tagged with mode and returns its id.
func (s *Store) Create(mode ScreenMode, x, y, z, w, h int, bg string, spans []Span) string {
	id := uuid.NewString()
	o := &Overlay{
		ID: id, X: x, Y: y, Z: z, W: w, H: h, BG: bg,
		Spans: append([]Span(nil), spans...), ScreenMode: mode, Visible: true,
	}
	s.mu.Lock()
	s.items[id] = o
	s.mu.Unlock()
	s.onChange(mode)
	return id
}

// Get returns a copy of the overlay with the given id.
func (s *Store) Get(id string) (Overlay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.items[id]
	if !ok {
		return Overlay{}, false
	}
	return clone(o), true
}

// List returns a copy of every overlay, in no particular order.
func (s *Store) List() []Overlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Overlay, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, clone(o))
	}
	return out
}

// ListByMode returns a copy of every overlay tagged with mode.
func (s *Store) ListByMode(mode ScreenMode) []Overlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Overlay
	for _, o := range s.items {
		if o.ScreenMode == mode {
			out = append(out, clone(o))
		}
	}
	return out
}

// Update replaces an overlay's spans wholesale.
func (s *Store) Update(id string, spans []Span) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	o.Spans = append([]Span(nil), spans...)
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// UpdateSpans merges spans into the overlay's existing spans by Name:
// a span whose Name matches an existing one replaces it in place: a new
// Name is appended.
func (s *Store) UpdateSpans(id string, spans []Span) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for _, span := range spans {
		replaced := false
		for i := range o.Spans {
			if o.Spans[i].Name != "" && o.Spans[i].Name == span.Name {
				o.Spans[i] = span
				replaced = true
				break
			}
		}
		if !replaced {
			o.Spans = append(o.Spans, span)
		}
	}
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// RegionWrite overwrites spans starting at each write's Offset, growing
// the span slice as needed, without touching geometry.
func (s *Store) RegionWrite(id string, writes []RegionWrite) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for _, w := range writes {
		needed := w.Offset + len(w.Spans)
		if needed > len(o.Spans) {
			grown := make([]Span, needed)
			copy(grown, o.Spans)
			o.Spans = grown
		}
		copy(o.Spans[w.Offset:], w.Spans)
	}
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// MoveTo updates only geometry fields; nil fields are left unchanged.
func (s *Store) MoveTo(id string, x, y, z, w, h *int, bg *string) error {
	return s.Patch(id, Patch{X: x, Y: y, Z: z, W: w, H: h, BG: bg})
}

// Patch applies every non-nil field atomically under one write lock.
// This is the only mutation path that touches both geometry and
// content, so two concurrent callers (one moving, one updating spans)
// can never interleave a delete with a half-applied move.
func (s *Store) Patch(id string, p Patch) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if p.X != nil {
		o.X = *p.X
	}
	if p.Y != nil {
		o.Y = *p.Y
	}
	if p.Z != nil {
		o.Z = *p.Z
	}
	if p.W != nil {
		o.W = *p.W
	}
	if p.H != nil {
		o.H = *p.H
	}
	if p.BG != nil {
		o.BG = *p.BG
	}
	if p.Spans != nil {
		o.Spans = append([]Span(nil), p.Spans...)
	}
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// Delete removes one overlay.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.items, id)
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}

// DeleteByMode removes every overlay tagged with mode. Callers use this
// paired with an Alt->Normal screen-mode transition so alt-only UI does
// not leak back into the primary screen.
func (s *Store) DeleteByMode(mode ScreenMode) {
	s.mu.Lock()
	for id, o := range s.items {
		if o.ScreenMode == mode {
			delete(s.items, id)
		}
	}
	s.mu.Unlock()
	s.onChange(mode)
}

// Clear removes every overlay regardless of mode, firing a single
// OverlaysChanged notification rather than one per mode.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make(map[string]*Overlay)
	s.mu.Unlock()
	s.onChange(ModeNormal)
}

// SetVisible toggles one overlay's visibility without touching any
// other field.
func (s *Store) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	o, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	o.Visible = visible
	mode := o.ScreenMode
	s.mu.Unlock()
	s.onChange(mode)
	return nil
}
