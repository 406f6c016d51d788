package repository

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cursor is an opaque resume position returned in Page.Next.
type Cursor string

// Position is the decoded form of a Cursor: the order value and key path of
// the last entity returned.
type Position struct {
	Value json.RawMessage `json:"v,omitempty"`
	Path  string          `json:"p"`
}

// EncodeCursor serializes p as base64url JSON.
func EncodeCursor(p Position) (Cursor, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return Cursor(base64.RawURLEncoding.EncodeToString(b)), nil
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(c Cursor) (Position, error) {
	var p Position
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if p.Path == "" {
		return p, fmt.Errorf("%w: missing path", ErrInvalidCursor)
	}
	return p, nil
}

// DecodeValue unmarshals the stored order value, keeping numbers as json.Number.
func (p Position) DecodeValue() (any, error) {
	if len(p.Value) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(p.Value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return v, nil
}

// Type ranks follow jsonb ordering: null < string < number < bool.
const (
	rankNull = iota
	rankString
	rankNumber
	rankBool
	rankOther
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// CompareValues orders two property values the way the Postgres engine orders jsonb.
func CompareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankString:
		return cmp.Compare(a.(string), b.(string))
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankOther:
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return bytes.Compare(ja, jb)
	}
	return 0
}
