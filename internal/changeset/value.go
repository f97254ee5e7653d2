package changeset

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// Kind is the SQLite storage class of a Value.
type Kind uint8

// Storage classes.
const (
	KindNull Kind = iota
	KindInt
	KindReal
	KindText
	KindBlob
)

var kindNames = [...]string{
	KindNull: "null",
	KindInt:  "int",
	KindReal: "real",
	KindText: "text",
	KindBlob: "blob",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// textBase64Tag marks text that is not valid UTF-8. JSON strings cannot carry
// such bytes, so the text travels base64 encoded and decodes back to KindText.
const textBase64Tag = "text64"

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindNull, fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, s)
}

// Value is one cell of a change: a column's new value, tagged with its
// storage class so integers and blobs survive a JSON round trip exactly.
//
// Value implements sql.Scanner and driver.Valuer, so it can be scanned from
// and bound to crsql_changes directly.
type Value struct {
	Kind Kind
	Int  int64
	Real float64
	Text string
	Blob []byte
}

// Null is the SQL NULL value.
var Null = Value{Kind: KindNull}

// IntValue returns an integer Value.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// RealValue returns a floating point Value.
func RealValue(v float64) Value { return Value{Kind: KindReal, Real: v} }

// TextValue returns a text Value.
func TextValue(v string) Value { return Value{Kind: KindText, Text: v} }

// BlobValue returns a blob Value. A nil slice is stored as an empty blob.
func BlobValue(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{Kind: KindBlob, Blob: v}
}

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Equal reports whether v and o hold the same storage class and contents.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindText:
		return v.Text == o.Text
	case KindBlob:
		return string(v.Blob) == string(o.Blob)
	default:
		return true
	}
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Null
	case int64:
		*v = IntValue(s)
	case float64:
		*v = RealValue(s)
	case bool:
		if s {
			*v = IntValue(1)
		} else {
			*v = IntValue(0)
		}
	case string:
		*v = TextValue(s)
	case []byte:
		*v = BlobValue(append([]byte(nil), s...))
	case time.Time:
		// go-sqlite3 parses TEXT in date-typed columns; keep the stored form.
		*v = TextValue(s.Format(time.RFC3339Nano))
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidValue, src)
	}
	return nil
}

// Value implements driver.Valuer.
func (v Value) Value() (driver.Value, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindInt:
		return v.Int, nil
	case KindReal:
		return v.Real, nil
	case KindText:
		return v.Text, nil
	case KindBlob:
		return v.Blob, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, v.Kind)
	}
}

// String renders v for logs.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.Text)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	default:
		return v.Kind.String()
	}
}

// wireValue is the JSON form: {"t":"int","v":"42"}.
// Numbers travel as strings so 64-bit integers are not rounded by
// decoders that read JSON numbers as doubles.
type wireValue struct {
	T string  `json:"t"`
	V *string `json:"v,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{T: v.Kind.String()}
	var s string
	switch v.Kind {
	case KindNull:
		return json.Marshal(w)
	case KindInt:
		s = strconv.FormatInt(v.Int, 10)
	case KindReal:
		s = strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindText:
		s = v.Text
		if !utf8.ValidString(s) {
			w.T = textBase64Tag
			s = base64.StdEncoding.EncodeToString([]byte(s))
		}
	case KindBlob:
		s = base64.StdEncoding.EncodeToString(v.Blob)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, v.Kind)
	}
	w.V = &s
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if w.T == textBase64Tag {
		if w.V == nil {
			return fmt.Errorf("%w: %s value missing", ErrInvalidValue, w.T)
		}
		b, err := base64.StdEncoding.DecodeString(*w.V)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		*v = TextValue(string(b))
		return nil
	}
	kind, err := parseKind(w.T)
	if err != nil {
		return err
	}
	if kind == KindNull {
		*v = Null
		return nil
	}
	if w.V == nil {
		return fmt.Errorf("%w: %s value missing", ErrInvalidValue, kind)
	}

	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(*w.V, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		*v = IntValue(n)
	case KindReal:
		f, err := strconv.ParseFloat(*w.V, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		*v = RealValue(f)
	case KindText:
		*v = TextValue(*w.V)
	case KindBlob:
		b, err := base64.StdEncoding.DecodeString(*w.V)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		*v = BlobValue(b)
	}
	return nil
}
