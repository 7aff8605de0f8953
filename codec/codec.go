// Package codec converts terminal events to and from the flat JSON envelope
// shape used on the wire: {"type": TAG, ...payload fields}.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"pkt.systems/termbridge/schema"
)

// Encode serializes the event into a single envelope.
func Encode(ev schema.Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", schema.ErrInvalidRequest)
	}
	if unknown, ok := ev.(schema.UnknownEvent); ok {
		return nil, fmt.Errorf("%w: cannot encode unrecognized type %q", schema.ErrInvalidRequest, unknown.Type)
	}
	if key, ok := ev.(schema.KeyEvent); ok && len(key.DOMEvent) > 0 && !json.Valid(key.DOMEvent) {
		return nil, fmt.Errorf("%w: domEvent is not valid json", schema.ErrInvalidRequest)
	}
	payload, err := marshal(ev)
	if err != nil {
		return nil, err
	}
	tag, err := marshal(string(ev.Tag()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(payload) > 2 {
		buf.WriteByte(',')
		buf.Write(payload[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// EncodeString is Encode for string transports.
func EncodeString(ev schema.Event) (string, error) {
	data, err := Encode(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// requiredFields lists the payload fields every producer writes. KEY.domEvent
// is opaque and may be absent or null.
var requiredFields = map[schema.Tag][]string{
	schema.TagInfo:            {"surfaceDescription", "surfaceVersion"},
	schema.TagData:            {"data", "currentInput"},
	schema.TagEnterKey:        {"currentInput"},
	schema.TagKey:             {"key"},
	schema.TagScroll:          {"position"},
	schema.TagResize:          {"cols", "rows"},
	schema.TagSelectionChange: {"selection"},
	schema.TagTitleChange:     {"title"},
}

// Decode parses one envelope. Malformed input fails with *schema.ProtocolError;
// a well-formed envelope with an unrecognized type yields schema.UnknownEvent.
func Decode(data []byte) (schema.Event, error) {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 {
		return nil, protocolError("empty envelope", raw, nil)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, protocolError("envelope is not a json object", raw, err)
	}
	if fields == nil {
		return nil, protocolError("envelope is not a json object", raw, nil)
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, protocolError("missing type", raw, nil)
	}
	var name string
	if err := json.Unmarshal(rawType, &name); err != nil {
		return nil, protocolError("type is not a string", raw, err)
	}

	tag := schema.Tag(name)
	for _, field := range requiredFields[tag] {
		value, ok := fields[field]
		if !ok || string(bytes.TrimSpace(value)) == "null" {
			return nil, protocolError(fmt.Sprintf("%s is missing %s", tag, field), raw, nil)
		}
	}
	switch tag {
	case schema.TagInfo:
		return decodePayload[schema.InfoEvent](tag, raw)
	case schema.TagData:
		return decodePayload[schema.DataEvent](tag, raw)
	case schema.TagEnterKey:
		return decodePayload[schema.EnterKeyEvent](tag, raw)
	case schema.TagKey:
		return decodePayload[schema.KeyEvent](tag, raw)
	case schema.TagLineFeed:
		return schema.LineFeedEvent{}, nil
	case schema.TagScroll:
		return decodePayload[schema.ScrollEvent](tag, raw)
	case schema.TagResize:
		return decodePayload[schema.ResizeEvent](tag, raw)
	case schema.TagSelectionChange:
		return decodePayload[schema.SelectionChangeEvent](tag, raw)
	case schema.TagTitleChange:
		return decodePayload[schema.TitleChangeEvent](tag, raw)
	case schema.TagBell:
		return schema.BellEvent{}, nil
	default:
		return schema.UnknownEvent{Type: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// DecodeString is Decode for string transports.
func DecodeString(data string) (schema.Event, error) {
	return Decode([]byte(data))
}

func decodePayload[T schema.Event](tag schema.Tag, raw []byte) (schema.Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, protocolError(fmt.Sprintf("invalid %s payload", tag), raw, err)
	}
	return ev, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func protocolError(reason string, raw []byte, err error) error {
	return &schema.ProtocolError{
		Reason: reason,
		Raw:    append([]byte(nil), raw...),
		Err:    err,
	}
}
