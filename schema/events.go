package schema

import "encoding/json"

// Event is one raw terminal notification. The set of implementations is
// closed: every type below maps to exactly one Tag.
type Event interface {
	Tag() Tag
	event()
}

// InfoEvent describes the terminal surface.
type InfoEvent struct {
	SurfaceDescription string `json:"surfaceDescription"`
	SurfaceVersion     string `json:"surfaceVersion"`
}

// DataEvent carries one input unit and the post-transition buffer snapshot.
type DataEvent struct {
	Data         string `json:"data"`
	CurrentInput string `json:"currentInput"`
}

// EnterKeyEvent carries the line content at the moment of commit.
type EnterKeyEvent struct {
	CurrentInput string `json:"currentInput"`
}

// KeyEvent carries a key press. DOMEvent is opaque structured data.
type KeyEvent struct {
	Key      string          `json:"key"`
	DOMEvent json.RawMessage `json:"domEvent"`
}

// LineFeedEvent marks a line feed.
type LineFeedEvent struct{}

// ScrollEvent carries the viewport scroll position.
type ScrollEvent struct {
	Position int `json:"position"`
}

// ResizeEvent carries the terminal dimensions.
type ResizeEvent struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// SelectionChangeEvent carries the selected text.
type SelectionChangeEvent struct {
	Selection string `json:"selection"`
}

// TitleChangeEvent carries the new terminal title.
type TitleChangeEvent struct {
	Title string `json:"title"`
}

// BellEvent marks a bell.
type BellEvent struct{}

// UnknownEvent is a well-formed envelope whose type is not part of the protocol.
type UnknownEvent struct {
	Type Tag
	Raw  json.RawMessage
}

func (InfoEvent) Tag() Tag            { return TagInfo }
func (DataEvent) Tag() Tag            { return TagData }
func (EnterKeyEvent) Tag() Tag        { return TagEnterKey }
func (KeyEvent) Tag() Tag             { return TagKey }
func (LineFeedEvent) Tag() Tag        { return TagLineFeed }
func (ScrollEvent) Tag() Tag          { return TagScroll }
func (ResizeEvent) Tag() Tag          { return TagResize }
func (SelectionChangeEvent) Tag() Tag { return TagSelectionChange }
func (TitleChangeEvent) Tag() Tag     { return TagTitleChange }
func (BellEvent) Tag() Tag            { return TagBell }
func (e UnknownEvent) Tag() Tag       { return e.Type }

func (InfoEvent) event()            {}
func (DataEvent) event()            {}
func (EnterKeyEvent) event()        {}
func (KeyEvent) event()             {}
func (LineFeedEvent) event()        {}
func (ScrollEvent) event()          {}
func (ResizeEvent) event()          {}
func (SelectionChangeEvent) event() {}
func (TitleChangeEvent) event()     {}
func (BellEvent) event()            {}
func (UnknownEvent) event()         {}
