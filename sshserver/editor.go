package sshserver

import (
	"bufio"
	"encoding/json"
	"io"
	"unicode"
	"unicode/utf8"
)

// keyPress is one decoded key: the raw bytes the terminal sent (the input
// unit) plus a DOM-style key name for KEY envelopes.
type keyPress struct {
	unit  string
	name  string
	ctrl  bool
	alt   bool
	shift bool
}

// domEvent renders the key press in the shape of a browser KeyboardEvent.
func (k keyPress) domEvent() json.RawMessage {
	data, err := json.Marshal(struct {
		Key      string `json:"key"`
		CtrlKey  bool   `json:"ctrlKey"`
		AltKey   bool   `json:"altKey"`
		ShiftKey bool   `json:"shiftKey"`
	}{Key: k.name, CtrlKey: k.ctrl, AltKey: k.alt, ShiftKey: k.shift})
	if err != nil {
		return nil
	}
	return data
}

func (k keyPress) isEOT() bool {
	return k.unit == "\x04"
}

var csiNames = map[string]string{
	"A":    "ArrowUp",
	"B":    "ArrowDown",
	"C":    "ArrowRight",
	"D":    "ArrowLeft",
	"H":    "Home",
	"F":    "End",
	"2~":   "Insert",
	"3~":   "Delete",
	"5~":   "PageUp",
	"6~":   "PageDown",
	"Z":    "Tab",
	"1;2Z": "Tab",
}

var ss3Names = map[byte]string{
	'A': "ArrowUp",
	'B': "ArrowDown",
	'C': "ArrowRight",
	'D': "ArrowLeft",
	'H': "Home",
	'F': "End",
	'P': "F1",
	'Q': "F2",
	'R': "F3",
	'S': "F4",
}

// readKeys decodes raw PTY bytes into key presses until r fails. A CR
// followed by LF is reported once.
func readKeys(r io.Reader, out chan<- keyPress) {
	defer close(out)
	br := bufio.NewReader(r)
	lastWasCR := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		if lastWasCR {
			lastWasCR = false
			if b == '\n' {
				continue
			}
		}
		switch {
		case b == 0x1b:
			out <- readEscape(br)
		case b == '\r':
			out <- keyPress{unit: "\r", name: "Enter"}
			lastWasCR = true
		case b == 0x7f:
			out <- keyPress{unit: "\x7f", name: "Backspace"}
		case b == '\t':
			out <- keyPress{unit: "\t", name: "Tab"}
		case b >= 0x01 && b <= 0x1a:
			out <- keyPress{unit: string(rune(b)), name: string(rune('a' + b - 1)), ctrl: true}
		case b < 0x20:
			out <- keyPress{unit: string(rune(b)), name: "Unidentified", ctrl: true}
		case b < utf8.RuneSelf:
			out <- keyPress{unit: string(rune(b)), name: string(rune(b)), shift: unicode.IsUpper(rune(b))}
		default:
			_ = br.UnreadByte()
			rn, _, err := br.ReadRune()
			if err != nil {
				return
			}
			out <- keyPress{unit: string(rn), name: string(rn)}
		}
	}
}

func readEscape(br *bufio.Reader) keyPress {
	// A lone ESC has nothing buffered behind it.
	if br.Buffered() == 0 {
		return keyPress{unit: "\x1b", name: "Escape"}
	}
	b, err := br.ReadByte()
	if err != nil {
		return keyPress{unit: "\x1b", name: "Escape"}
	}
	switch b {
	case '[':
		return readCSI(br)
	case 'O':
		return readSS3(br)
	default:
		return keyPress{unit: "\x1b" + string(rune(b)), name: string(rune(b)), alt: true}
	}
}

func readCSI(br *bufio.Reader) keyPress {
	seq := []byte{}
	for {
		b, err := br.ReadByte()
		if err != nil {
			break
		}
		seq = append(seq, b)
		if b == '~' || unicode.IsLetter(rune(b)) || len(seq) > 8 {
			break
		}
	}
	k := keyPress{unit: "\x1b[" + string(seq), name: "Unidentified"}
	if name, ok := csiNames[string(seq)]; ok {
		k.name = name
	}
	k.shift = string(seq) == "Z" || string(seq) == "1;2Z"
	return k
}

func readSS3(br *bufio.Reader) keyPress {
	b, err := br.ReadByte()
	if err != nil {
		return keyPress{unit: "\x1bO", name: "Unidentified"}
	}
	k := keyPress{unit: "\x1bO" + string(rune(b)), name: "Unidentified"}
	if name, ok := ss3Names[b]; ok {
		k.name = name
	}
	return k
}
