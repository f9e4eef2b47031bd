package mcu

import (
	"fmt"
	"strings"

	"anacomp/protocol"
)

// ParamType is the wire type of one message parameter.
type ParamType int

const (
	ParamUint32 ParamType = iota // %u
	ParamInt32                   // %i
	ParamUint16                  // %hu
	ParamInt16                   // %hi
	ParamByte                    // %c
	ParamString                  // %s, %*s
	ParamBuffer                  // %.*s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint32,
	"%i":   ParamInt32,
	"%hu":  ParamUint16,
	"%hi":  ParamInt16,
	"%c":   ParamByte,
	"%s":   ParamString,
	"%*s":  ParamString,
	"%.*s": ParamBuffer,
}

// Param is one name=%fmt pair of a message signature.
type Param struct {
	Name string
	Spec string // as written in the dictionary
	Type ParamType
}

// MessageFormat describes one dictionary entry: "name arg=%u ...".
type MessageFormat struct {
	ID     int
	Name   string
	Params []Param
}

// Args are command arguments by parameter name. Integer parameters accept
// any Go integer type or bool; %s and %.*s accept string or []byte.
type Args map[string]any

// Params are decoded response parameters by name: uint32 or int32 for
// integer types, string for %s and []byte for %.*s.
type Params map[string]any

// ParseFormat parses a dictionary signature.
func ParseFormat(id int, signature string) (*MessageFormat, error) {
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message signature")
	}
	f := &MessageFormat{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, spec, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: malformed parameter %q", f.Name, field)
		}
		typ, ok := paramTypes[spec]
		if !ok {
			return nil, fmt.Errorf("%s: unsupported format %q for %s", f.Name, spec, name)
		}
		f.Params = append(f.Params, Param{Name: name, Spec: spec, Type: typ})
	}
	return f, nil
}

// String renders the signature back in dictionary form.
func (f *MessageFormat) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	for _, p := range f.Params {
		b.WriteByte(' ')
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Spec)
	}
	return b.String()
}

// Encode writes args in signature order. Every parameter must be present.
func (f *MessageFormat) Encode(out protocol.OutputBuffer, args Args) error {
	for _, p := range f.Params {
		v, ok := args[p.Name]
		if !ok {
			return fmt.Errorf("%s: missing argument %s", f.Name, p.Name)
		}
		switch p.Type {
		case ParamString, ParamBuffer:
			switch s := v.(type) {
			case string:
				protocol.EncodeVLQString(out, s)
			case []byte:
				protocol.EncodeVLQBytes(out, s)
			default:
				return fmt.Errorf("%s: argument %s: expected string or []byte, got %T", f.Name, p.Name, v)
			}
		case ParamInt32, ParamInt16:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("%s: argument %s: %w", f.Name, p.Name, err)
			}
			protocol.EncodeVLQInt(out, int32(n))
		default:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("%s: argument %s: %w", f.Name, p.Name, err)
			}
			if n < 0 || n > int64(maxValue(p.Type)) {
				return fmt.Errorf("%s: argument %s: %d out of range", f.Name, p.Name, n)
			}
			protocol.EncodeVLQUint(out, uint32(n))
		}
	}
	return nil
}

// Decode reads the parameters following the message ID.
func (f *MessageFormat) Decode(data *[]byte) (Params, error) {
	params := make(Params, len(f.Params))
	for _, p := range f.Params {
		var (
			v   any
			err error
		)
		switch p.Type {
		case ParamString:
			v, err = protocol.DecodeVLQString(data)
		case ParamBuffer:
			v, err = protocol.DecodeVLQBytes(data)
		case ParamInt32, ParamInt16:
			v, err = protocol.DecodeVLQInt(data)
		default:
			var n uint32
			n, err = protocol.DecodeVLQUint(data)
			v = n & maxValue(p.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", f.Name, p.Name, err)
		}
		params[p.Name] = v
	}
	return params, nil
}

func maxValue(t ParamType) uint32 {
	switch t {
	case ParamByte:
		return 0xFF
	case ParamUint16:
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// Uint returns an unsigned parameter, or 0 when absent.
func (p Params) Uint(name string) uint32 {
	n, _ := p[name].(uint32)
	return n
}

// Int returns a signed parameter, or 0 when absent.
func (p Params) Int(name string) int32 {
	n, _ := p[name].(int32)
	return n
}

// Bool reports whether an integer parameter is non-zero.
func (p Params) Bool(name string) bool {
	return p.Uint(name) != 0
}

// Bytes returns a %.*s parameter, or the bytes of a %s parameter.
func (p Params) Bytes(name string) []byte {
	switch v := p[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}
