package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// CreateSession is the 0x01 control frame payload.
type CreateSession struct {
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command,omitempty"`
	CWD     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Rows    int               `json:"rows"`
	Cols    int               `json:"cols"`
}

// CreateSessionResponse is the 0x02 control frame payload.
type CreateSessionResponse struct {
	Name string `json:"name"`
	PID  *int   `json:"pid,omitempty"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

// ScrollbackScope selects how much scrollback an AttachSession replay
// includes: "none", "all", or {"lines": n}.
type ScrollbackScope struct {
	Kind  string // "none" | "all" | "lines"
	Lines int    // valid when Kind == "lines"
}

// MarshalJSON encodes the scope per spec §6: a bare string for none/all,
// or {"lines": n} for a bounded window.
func (s ScrollbackScope) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case "", "none":
		return []byte(`"none"`), nil
	case "all":
		return []byte(`"all"`), nil
	case "lines":
		return []byte(`{"lines":` + strconv.Itoa(s.Lines) + `}`), nil
	default:
		return []byte(`"none"`), nil
	}
}

// UnmarshalJSON accepts "none", "all", or {"lines": n}.
func (s *ScrollbackScope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case `"none"`:
		*s = ScrollbackScope{Kind: "none"}
		return nil
	case `"all"`:
		*s = ScrollbackScope{Kind: "all"}
		return nil
	}
	var lines struct {
		Lines int `json:"lines"`
	}
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*s = ScrollbackScope{Kind: "lines", Lines: lines.Lines}
	return nil
}

// AttachSession is the 0x03 control frame payload.
type AttachSession struct {
	Name       string          `json:"name"`
	Scrollback ScrollbackScope `json:"scrollback"`
	Rows       int             `json:"rows"`
	Cols       int             `json:"cols"`
}

// AttachSessionResponse is the 0x04 control frame payload. Scrollback and
// Screen carry base64-encoded raw VT bytes (standard json encoding of
// []byte already base64-encodes, matching the "(b64)" notation in spec §6).
type AttachSessionResponse struct {
	Name       string `json:"name"`
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	Scrollback []byte `json:"scrollback"`
	Screen     []byte `json:"screen"`
	InputMode  string `json:"input_mode"`
	ScreenMode string `json:"screen_mode"`
	FocusedID  string `json:"focused_id,omitempty"`
}

// Resize is the 0x06 control frame payload.
type Resize struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Error is the 0x07 control frame payload.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListSessions is the 0x08 control frame payload (empty object).
type ListSessions struct{}

// SessionSummary is one entry of ListSessionsResponse.
type SessionSummary struct {
	Name    string `json:"name"`
	PID     *int   `json:"pid,omitempty"`
	Command string `json:"command"`
	Rows    int    `json:"rows"`
	Cols    int    `json:"cols"`
	Clients int    `json:"clients"`
}

// ListSessionsResponse is the 0x09 control frame payload.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// KillSession is the 0x0A control frame payload.
type KillSession struct {
	Name string `json:"name"`
}

// KillSessionResponse is the 0x0B control frame payload.
type KillSessionResponse struct {
	Name string `json:"name"`
}

// DetachSession is the 0x0C control frame payload (detach another client,
// identified by session name, from the daemon side).
type DetachSession struct {
	Name string `json:"name"`
}

// DetachSessionResponse is the 0x0D control frame payload.
type DetachSessionResponse struct {
	Name string `json:"name"`
}

// SpanPayload is one styled run of text, matching spec §6's
// {text, fg?, bg?, bold, italic, underline} shape, used by both
// OverlaySyncItem and PanelItem.
type SpanPayload struct {
	Text      string `json:"text"`
	FG        string `json:"fg,omitempty"`
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

// OverlaySyncItem is one entry of the 0x12 OverlaySync frame's payload,
// which is itself a bare JSON array of these (the full current list).
type OverlaySyncItem struct {
	ID      string        `json:"id"`
	X       int           `json:"x"`
	Y       int           `json:"y"`
	Z       int           `json:"z"`
	W       int           `json:"w"`
	H       int           `json:"h"`
	BG      string        `json:"bg,omitempty"`
	Spans   []SpanPayload `json:"spans,omitempty"`
	Visible bool          `json:"visible"`
}

// PanelItem is one entry of PanelSyncPayload.Panels.
type PanelItem struct {
	ID       string        `json:"id"`
	Position string        `json:"position"`
	Height   int           `json:"height"`
	Z        int           `json:"z"`
	BG       string        `json:"bg,omitempty"`
	Spans    []SpanPayload `json:"spans,omitempty"`
	Visible  bool          `json:"visible"`
}

// PanelSyncPayload is the 0x13 control frame payload.
type PanelSyncPayload struct {
	Panels             []PanelItem `json:"panels"`
	ScrollRegionTop    int         `json:"scroll_region_top"`
	ScrollRegionBottom int         `json:"scroll_region_bottom"`
}
