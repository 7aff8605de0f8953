package schema

import "github.com/google/uuid"

// SessionID identifies a bridge session (one terminal surface paired with one host).
type SessionID string

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Tag names the envelope type on the wire.
type Tag string

const (
	// TagInfo describes the surface; emitted once at session start.
	TagInfo Tag = "INFO"
	// TagData carries one raw input unit and the buffer snapshot.
	TagData Tag = "DATA"
	// TagEnterKey carries the committed line.
	TagEnterKey Tag = "ENTERKEY"
	// TagKey carries a key press.
	TagKey Tag = "KEY"
	// TagLineFeed marks a line feed on the terminal.
	TagLineFeed Tag = "LINEFEED"
	// TagScroll carries the scroll position.
	TagScroll Tag = "SCROLL"
	// TagResize carries the terminal dimensions.
	TagResize Tag = "RESIZE"
	// TagSelectionChange carries the selected text.
	TagSelectionChange Tag = "SELECTION_CHANGE"
	// TagTitleChange carries the terminal title.
	TagTitleChange Tag = "TITLE_CHANGE"
	// TagBell marks a bell.
	TagBell Tag = "BELL"
)

// Tags lists every known tag in wire order.
var Tags = []Tag{
	TagInfo,
	TagData,
	TagEnterKey,
	TagKey,
	TagLineFeed,
	TagScroll,
	TagResize,
	TagSelectionChange,
	TagTitleChange,
	TagBell,
}

// Known reports whether the tag is part of the protocol.
func (t Tag) Known() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

// OverflowPolicy selects which envelope is discarded when a bounded queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued envelope to admit the new one.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	// OverflowDropNewest discards the envelope being published.
	OverflowDropNewest OverflowPolicy = "drop-newest"
)

const (
	// CommitUnit ends a logical input line.
	CommitUnit = "\r"
	// EraseUnit deletes the previous character.
	EraseUnit = "\x7f"
)
