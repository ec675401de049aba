package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// decodeValue reads one JSON value from dec using its token stream, so that
// object field order survives round-tripping. firstToken, when non-nil, is
// a token already consumed by the caller (used when decodeValue is invoked
// recursively after peeking a delimiter).
func decodeValue(dec *json.Decoder, firstToken json.Token) (Value, error) {
	tok := firstToken
	var err error
	if tok == nil {
		tok, err = dec.Token()
		if err != nil {
			return Value{}, err
		}
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			fields := make([]ObjectField, 0)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: expected object key, got %v", keyTok)
				}
				fv, err := decodeValue(dec, nil)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, ObjectField{Key: key, Value: fv})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return Object(fields), nil
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				iv, err := decodeValue(dec, nil)
				if err != nil {
					return Value{}, err
				}
				items = append(items, iv)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Array(items), nil
		default:
			return Value{}, fmt.Errorf("value: unexpected delimiter %v", t)
		}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("value: unexpected token %v (%T)", tok, tok)
	}
}
