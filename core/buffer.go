package core

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"pkt.systems/termbridge/schema"
)

// UnitKind classifies a raw input unit.
type UnitKind int

const (
	// UnitAppend is appended verbatim.
	UnitAppend UnitKind = iota
	// UnitErase removes the last character.
	UnitErase
	// UnitCommit ends the line.
	UnitCommit
)

func (k UnitKind) String() string {
	switch k {
	case UnitErase:
		return "erase"
	case UnitCommit:
		return "commit"
	default:
		return "append"
	}
}

// Classify returns how the line buffer treats unit.
func Classify(unit string) UnitKind {
	switch unit {
	case schema.CommitUnit:
		return UnitCommit
	case schema.EraseUnit:
		return UnitErase
	default:
		return UnitAppend
	}
}

// Transition records the effect of one unit on a LineBuffer.
type Transition struct {
	Unit   string
	Kind   UnitKind
	Before string
	After  string
	// Committed is the line content at the moment of commit.
	Committed string
}

// Changed reports whether the buffer content changed.
func (t Transition) Changed() bool {
	return t.Before != t.After
}

// LineBuffer folds raw input units into the logical current input line.
//
// Commits report the content held before the commit and then clear the
// buffer. Clearing first would always report an empty line.
type LineBuffer struct {
	value string
}

// Apply runs one unit through the transition function.
func (b *LineBuffer) Apply(unit string) Transition {
	tr := Transition{Unit: unit, Kind: Classify(unit), Before: b.value}
	switch tr.Kind {
	case UnitCommit:
		tr.Committed = b.value
		b.value = ""
	case UnitErase:
		if b.value != "" {
			_, size := utf8.DecodeLastRuneInString(b.value)
			b.value = b.value[:len(b.value)-size]
		}
	default:
		b.value += unit
	}
	tr.After = b.value
	return tr
}

// String returns the current input.
func (b *LineBuffer) String() string {
	return b.value
}

// SplitUnits splits injected text into per-rune input units.
func SplitUnits(input string) []string {
	if input == "" {
		return nil
	}
	units := make([]string, 0, utf8.RuneCountInString(input))
	for len(input) > 0 {
		_, size := utf8.DecodeRuneInString(input)
		units = append(units, input[:size])
		input = input[size:]
	}
	return units
}

// EchoText renders the local echo of a transition for surfaces that have no
// line discipline of their own. Non-printable runes are not echoed.
func EchoText(tr Transition) string {
	switch tr.Kind {
	case UnitCommit:
		return "\r\n"
	case UnitErase:
		if !tr.Changed() {
			return ""
		}
		return "\b \b"
	default:
		var b strings.Builder
		for _, r := range tr.Unit {
			if r == '\t' || unicode.IsPrint(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
}
