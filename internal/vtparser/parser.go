// Package vtparser implements the VT Parser task: a single long-lived
// goroutine that owns all virtual-terminal state for a session. It
// consumes raw PTY byte chunks and query requests, and emits state
// change events on a broadcast channel.
//
// The grid/cursor/SGR emulation itself is delegated to
// github.com/vito/midterm (grounded on
// internal/virtualterminal/vt.go's `Vt *midterm.Terminal` /
// `Scrollback *midterm.Terminal` fields and
// internal/overlay/render.go's use of `vt.Format.Regions(row)` for
// styled rendering). Everything around that — alt-screen tracking,
// cursor-visibility tracking, the query/event API — is new: the
// teacher never multiplexed more than one client against one VT, so it
// never needed a query/event boundary at all.
package vtparser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vito/midterm"

	"wsh/internal/broadcast"
)

// Format selects how ScreenResponse/ScrollbackResponse lines are encoded.
type Format int

const (
	FormatPlain Format = iota
	FormatStyled
)

// Span is one styled run within a Styled-format line, matching the
// wire shape of spec §6's styled line format exactly: {text, fg?, bg?,
// bold, italic, underline}. FG/BG are empty when the cell carries no
// explicit color (the client's own default applies).
type Span struct {
	Text      string
	FG        string
	BG        string
	Bold      bool
	Italic    bool
	Underline bool
}

// Line is one row of terminal content, in either Plain or Styled form.
type Line struct {
	Plain string
	Spans []Span
}

// Cursor is the current cursor position and visibility.
type Cursor struct {
	Row     int
	Col     int
	Visible bool
}

// Query is a tagged request; exactly one field should be set.
type Query struct {
	Screen     *ScreenQuery
	Scrollback *ScrollbackQuery
	Cursor     *CursorQuery
	Resize     *ResizeQuery
}

type ScreenQuery struct{ Format Format }

type ScreenResponse struct {
	Cols            int
	Rows            int
	Lines           []Line
	Cursor          Cursor
	AlternateActive bool
	TotalLines      int
	FirstLineIndex  int
	LastActivityMs  int64
}

type ScrollbackQuery struct {
	Format Format
	Offset int
	Limit  int
}

type ScrollbackResponse struct {
	Lines      []Line
	TotalLines int
}

type CursorQuery struct{}

type ResizeQuery struct {
	Cols int
	Rows int
}

// Reply carries the result of whichever Query variant was requested.
type Reply struct {
	Screen     *ScreenResponse
	Scrollback *ScrollbackResponse
	Cursor     *Cursor
}

type queryRequest struct {
	query Query
	reply chan Reply
}

// Event is a tagged state-change notification; exactly one field is set.
type Event struct {
	Line   *LineEvent
	Cursor *CursorEvent
	Mode   *ModeEvent
	Diff   *DiffEvent
	Reset  *ResetEvent
	Sync   *SyncEvent
}

type LineEvent struct {
	Index      int
	TotalLines int
	Content    string
}

type CursorEvent struct {
	Row int
	Col int
}

type ModeEvent struct {
	AlternateActive bool
	CursorVisible   bool
}

type DiffEvent struct {
	Rows []int
	Seq  uint64
}

type ResetEvent struct {
	Seq uint64
}

type SyncEvent struct {
	Seq             uint64
	Screen          ScreenResponse
	ScrollbackLines int
}

// Parser owns the VT state machine. Construct with New, then run Run in
// its own goroutine; feed it raw bytes via the chunks channel supplied
// to New (normally the broker's dedicated parser receiver).
type Parser struct {
	mu sync.Mutex

	primary *midterm.Terminal
	alt     *midterm.Terminal
	active  *midterm.Terminal

	scrollback *midterm.Terminal

	cols, rows    int
	altActive     bool
	cursorVisible bool
	lastActivity  time.Time
	seq           uint64

	lastPrimaryLines int
	lastAltLines     int
	lastCursorRow    int
	lastCursorCol    int

	carry []byte

	chunks   <-chan []byte
	queries  chan queryRequest
	events   *broadcast.Broadcaster[Event]
	logger   *slog.Logger
}

// New constructs a Parser for an initial terminal size, reading raw PTY
// bytes from chunks. scrollbackCapacity is accepted but not applied:
// the append-only scrollback terminal (midterm's AutoResizeY, matching
// `internal/virtualterminal/vt.go`'s append-only scrollback terminal)
// grows without bound, and no caller trims it; a Scrollback query's
// offset/limit window only selects which lines are returned.
func New(cols, rows, scrollbackCapacity int, chunks <-chan []byte, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	primary := midterm.NewTerminal(rows, cols)
	alt := midterm.NewTerminal(rows, cols)
	scrollback := midterm.NewTerminal(rows, cols)
	scrollback.AutoResizeY = true
	scrollback.AppendOnly = true

	_ = scrollbackCapacity // not applied; see the doc comment above

	return &Parser{
		primary:       primary,
		alt:           alt,
		active:        primary,
		scrollback:    scrollback,
		cols:          cols,
		rows:          rows,
		cursorVisible: true,
		lastActivity:  time.Now(),
		chunks:        chunks,
		queries:       make(chan queryRequest, 32),
		events:        broadcast.New[Event](64),
		logger:        logger,
	}
}

// Subscribe returns a new Event subscription (lossy, drop-oldest on a
// full subscriber — the parser's own event broadcaster, lossy like the
// broker's broadcast side and unlike the lossless parser input side).
func (p *Parser) Subscribe() *broadcast.Subscription[Event] {
	return p.events.Subscribe()
}

// Query submits a request to the parser's run loop and waits for its
// reply, or for ctx to be done.
func (p *Parser) Query(ctx context.Context, q Query) (Reply, error) {
	reply := make(chan Reply, 1)
	select {
	case p.queries <- queryRequest{query: q, reply: reply}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Run is the parser's single long-lived task. It returns when ctx is
// canceled or the chunks channel closes.
func (p *Parser) Run(ctx context.Context) {
	p.logger.Info("vt parser started", "cols", p.cols, "rows", p.rows)
	defer p.logger.Info("vt parser stopped")
	defer p.events.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-p.chunks:
			if !ok {
				return
			}
			p.mu.Lock()
			p.feed(chunk)
			p.mu.Unlock()
		case req := <-p.queries:
			p.mu.Lock()
			reply := p.handleQuery(req.query)
			p.mu.Unlock()
			req.reply <- reply
		}
	}
}

var modeSeqs = [][]byte{
	[]byte("\x1b[?1049h"),
	[]byte("\x1b[?1049l"),
	[]byte("\x1b[?25h"),
	[]byte("\x1b[?25l"),
}

// classifyEscape reports the fully-matched mode sequence at the start of
// tail, or needMore if tail is a strict prefix of one of modeSeqs and
// the caller should wait for more bytes before deciding.
func classifyEscape(tail []byte) (full []byte, needMore bool) {
	for _, seq := range modeSeqs {
		n := len(tail)
		if n > len(seq) {
			n = len(seq)
		}
		if !bytes.Equal(tail[:n], seq[:n]) {
			continue
		}
		if len(tail) >= len(seq) {
			return seq, false
		}
		needMore = true
	}
	return nil, needMore
}

// feed splits chunk at alt-screen/cursor-visibility escape boundaries,
// writing each segment to whichever terminal (primary or alt) is active
// at that point in the stream, then emits the resulting state-change
// events. Scrollback only ever receives primary-screen bytes, per the
// "scrollback untouched while alt is active" rule.
func (p *Parser) feed(chunk []byte) {
	p.lastActivity = time.Now()
	buf := chunk
	if len(p.carry) > 0 {
		buf = append(append([]byte(nil), p.carry...), chunk...)
		p.carry = nil
	}

	start := 0
	i := 0
	for i < len(buf) {
		idx := bytes.IndexByte(buf[i:], 0x1b)
		if idx < 0 {
			break
		}
		pos := i + idx
		full, needMore := classifyEscape(buf[pos:])
		if needMore {
			p.carry = append([]byte(nil), buf[pos:]...)
			buf = buf[:pos]
			break
		}
		if full == nil {
			i = pos + 1
			continue
		}
		p.writeActive(buf[start:pos])
		p.applyModeSeq(full)
		start = pos + len(full)
		i = start
	}
	if start < len(buf) {
		p.writeActive(buf[start:])
	}

	p.emitDeltas()
}

func (p *Parser) writeActive(b []byte) {
	if len(b) == 0 {
		return
	}
	p.active.Write(b)
	if !p.altActive {
		p.scrollback.Write(b)
	}
}

func (p *Parser) applyModeSeq(seq []byte) {
	switch string(seq) {
	case "\x1b[?1049h":
		if !p.altActive {
			p.altActive = true
			p.active = p.alt
			p.events.Publish(Event{Mode: &ModeEvent{AlternateActive: true, CursorVisible: p.cursorVisible}})
		}
	case "\x1b[?1049l":
		if p.altActive {
			p.altActive = false
			p.active = p.primary
			p.events.Publish(Event{Mode: &ModeEvent{AlternateActive: false, CursorVisible: p.cursorVisible}})
		}
	case "\x1b[?25h":
		if !p.cursorVisible {
			p.cursorVisible = true
			p.events.Publish(Event{Mode: &ModeEvent{AlternateActive: p.altActive, CursorVisible: true}})
		}
	case "\x1b[?25l":
		if p.cursorVisible {
			p.cursorVisible = false
			p.events.Publish(Event{Mode: &ModeEvent{AlternateActive: p.altActive, CursorVisible: false}})
		}
	}
}

// emitDeltas compares the active terminal's content/cursor against the
// last-observed snapshot and emits Line events for new rows, a Cursor
// event if the cursor moved, and one Diff event listing every row that
// existed before this chunk (whether or not its content changed).
func (p *Parser) emitDeltas() {
	content := p.active.Content
	lastLines := &p.lastPrimaryLines
	if p.altActive {
		lastLines = &p.lastAltLines
	}

	total := len(content)
	if total > *lastLines {
		for idx := *lastLines; idx < total; idx++ {
			p.events.Publish(Event{Line: &LineEvent{
				Index:      idx,
				TotalLines: total,
				Content:    string(content[idx]),
			}})
		}
	}
	changedRows := []int{}
	limit := *lastLines
	if total < limit {
		limit = total
	}
	for idx := 0; idx < limit; idx++ {
		changedRows = append(changedRows, idx)
	}
	*lastLines = total

	if len(changedRows) > 0 {
		p.seq++
		p.events.Publish(Event{Diff: &DiffEvent{Rows: changedRows, Seq: p.seq}})
	}

	row, col := p.active.Cursor.Y, p.active.Cursor.X
	if row != p.lastCursorRow || col != p.lastCursorCol {
		p.lastCursorRow, p.lastCursorCol = row, col
		p.events.Publish(Event{Cursor: &CursorEvent{Row: row, Col: col}})
	}
}

func (p *Parser) handleQuery(q Query) Reply {
	switch {
	case q.Screen != nil:
		return Reply{Screen: p.screenResponse(q.Screen.Format)}
	case q.Scrollback != nil:
		return Reply{Scrollback: p.scrollbackResponse(*q.Scrollback)}
	case q.Cursor != nil:
		c := p.cursorState()
		return Reply{Cursor: &c}
	case q.Resize != nil:
		p.resize(q.Resize.Cols, q.Resize.Rows)
		return Reply{Screen: p.screenResponse(FormatPlain)}
	default:
		return Reply{}
	}
}

func (p *Parser) cursorState() Cursor {
	return Cursor{Row: p.active.Cursor.Y, Col: p.active.Cursor.X, Visible: p.cursorVisible}
}

func linesFromTerminal(t *midterm.Terminal, format Format, start, limit int) []Line {
	content := t.Content
	end := len(content)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	lines := make([]Line, 0, end-start)
	for row := start; row < end; row++ {
		if format == FormatStyled {
			lines = append(lines, Line{Spans: styledSpans(t, row)})
			continue
		}
		lines = append(lines, Line{Plain: string(content[row])})
	}
	return lines
}

func styledSpans(t *midterm.Terminal, row int) []Span {
	if row >= len(t.Content) {
		return nil
	}
	line := t.Content[row]
	var spans []Span
	pos := 0
	for region := range t.Format.Regions(row) {
		end := pos + region.Size
		textEnd := end
		if textEnd > len(line) {
			textEnd = len(line)
		}
		var text string
		if pos < len(line) {
			text = string(line[pos:textEnd])
		}
		span := sgrToSpan(region.F.Render())
		span.Text = text
		spans = append(spans, span)
		pos = end
	}
	return spans
}

// sgrToSpan decodes the SGR parameter list midterm.Format.Render()
// produces (an ECMA-48 "\x1b[...m" escape) into the structured fields
// spec §6's styled line format carries over the wire. termenv's public
// API (Profile.Color/Style) only goes the other direction — building an
// escape sequence from a Color — so there is no corpus library for this
// parse; the parameter table itself (30-37/90-97 basic and bright
// colors, 38/48 ;5; indexed and ;2; truecolor, 1/3/4 and their 22/23/24
// resets) is implemented directly against the standard SGR numbering.
func sgrToSpan(sgr string) Span {
	var s Span
	body := strings.TrimSuffix(strings.TrimPrefix(sgr, "\x1b["), "m")
	if body == "" {
		return s
	}
	parts := strings.Split(body, ";")
	params := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		params = append(params, n)
	}
	for i := 0; i < len(params); i++ {
		n := params[i]
		switch {
		case n == 1:
			s.Bold = true
		case n == 3:
			s.Italic = true
		case n == 4:
			s.Underline = true
		case n == 22:
			s.Bold = false
		case n == 23:
			s.Italic = false
		case n == 24:
			s.Underline = false
		case n >= 30 && n <= 37:
			s.FG = strconv.Itoa(n - 30)
		case n >= 90 && n <= 97:
			s.FG = strconv.Itoa(n - 90 + 8)
		case n == 39:
			s.FG = ""
		case n >= 40 && n <= 47:
			s.BG = strconv.Itoa(n - 40)
		case n >= 100 && n <= 107:
			s.BG = strconv.Itoa(n - 100 + 8)
		case n == 49:
			s.BG = ""
		case n == 38 || n == 48:
			consumed, color := decodeExtendedColor(params[i:])
			if n == 38 {
				s.FG = color
			} else {
				s.BG = color
			}
			i += consumed - 1
		}
	}
	return s
}

// decodeExtendedColor parses a "38;5;N" (256-color) or "38;2;R;G;B"
// (truecolor) run starting at params[0]==38 or 48, returning how many
// entries it consumed and the color as a decimal index or "#rrggbb".
func decodeExtendedColor(params []int) (consumed int, color string) {
	if len(params) < 2 {
		return 1, ""
	}
	switch params[1] {
	case 5:
		if len(params) < 3 {
			return 2, ""
		}
		return 3, strconv.Itoa(params[2])
	case 2:
		if len(params) < 5 {
			return len(params), ""
		}
		return 5, fmt.Sprintf("#%02x%02x%02x", params[2], params[3], params[4])
	default:
		return 2, ""
	}
}

func (p *Parser) screenResponse(format Format) *ScreenResponse {
	content := p.active.Content
	sbTotal := len(p.scrollback.Content)
	firstLineIndex := 0
	if !p.altActive && sbTotal > len(content) {
		firstLineIndex = sbTotal - len(content)
	}
	return &ScreenResponse{
		Cols:            p.cols,
		Rows:            p.rows,
		Lines:           linesFromTerminal(p.active, format, 0, 0),
		Cursor:          p.cursorState(),
		AlternateActive: p.altActive,
		TotalLines:      sbTotalOrActive(p.altActive, sbTotal, len(content)),
		FirstLineIndex:  firstLineIndex,
		LastActivityMs:  time.Since(p.lastActivity).Milliseconds(),
	}
}

func sbTotalOrActive(altActive bool, sbTotal, activeTotal int) int {
	if altActive {
		return activeTotal
	}
	if sbTotal > activeTotal {
		return sbTotal
	}
	return activeTotal
}

func (p *Parser) scrollbackResponse(q ScrollbackQuery) *ScrollbackResponse {
	if p.altActive {
		return &ScrollbackResponse{
			Lines:      linesFromTerminal(p.active, q.Format, q.Offset, q.Limit),
			TotalLines: len(p.active.Content),
		}
	}
	return &ScrollbackResponse{
		Lines:      linesFromTerminal(p.scrollback, q.Format, q.Offset, q.Limit),
		TotalLines: len(p.scrollback.Content),
	}
}

func (p *Parser) resize(cols, rows int) {
	p.cols, p.rows = cols, rows
	p.primary.Resize(rows, cols)
	p.alt.Resize(rows, cols)
	p.scrollback.ResizeX(cols)
	p.seq++
	p.events.Publish(Event{Reset: &ResetEvent{Seq: p.seq}})
}
