package pdfsign

import (
	"errors"
	"fmt"
)

var (
	// ErrPDFParse is returned for input that is not a readable PDF
	ErrPDFParse = errors.New("malformed pdf")
	// ErrSign wraps failures while building or applying a signature
	ErrSign = errors.New("pdf signing failed")
)

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPDFParse, fmt.Sprintf(format, args...))
}

func signErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSign, fmt.Sprintf(format, args...))
}

// Object is any PDF value: nil, bool, int64, float64, Name, String,
// HexString, Array, Dict, Ref or *Stream.
type Object interface{}

type Name string

// String is a literal string; HexString keeps the hex form when written back
type (
	String    []byte
	HexString []byte
)

type Array []Object

type Dict map[Name]Object

type Ref struct {
	Num int
	Gen int
}

func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.Num, r.Gen)
}

// Stream keeps the raw, still encoded, data
type Stream struct {
	Dict Dict
	Data []byte
}

// keyword is a bare token such as obj, endobj, R or stream
type keyword string

func (d Dict) Name(key Name) (Name, bool) {
	n, ok := d[key].(Name)
	return n, ok
}

// Clone returns a shallow copy
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func toInt(o Object) (int64, bool) {
	switch v := o.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func toFloat(o Object) (float64, bool) {
	switch v := o.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func toBytes(o Object) ([]byte, bool) {
	switch v := o.(type) {
	case String:
		return v, true
	case HexString:
		return v, true
	}
	return nil, false
}
