package cache

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Named carries keyword arguments. Its entries are encoded sorted by name, so
// the order a caller builds the map in never changes the fingerprint.
type Named map[string]any

// defaultKeySerializer encodes arguments into a canonical, type-tagged and
// length-prefixed form and digests it with xxhash64.
type defaultKeySerializer struct {
	namespace string
}

// NewDefaultKeySerializer creates the default key serializer. Keys are laid out
// as namespace::identity::digest; an empty namespace drops the first segment.
func NewDefaultKeySerializer(namespace string) KeySerializer {
	return &defaultKeySerializer{namespace: namespace}
}

// Prefix returns the key prefix shared by every entry of identity.
func (s *defaultKeySerializer) Prefix(identity string) string {
	if s.namespace == "" {
		return identity + KeySeparator
	}
	return s.namespace + KeySeparator + identity + KeySeparator
}

// SerializeKey builds the fingerprint for identity called with args.
func (s *defaultKeySerializer) SerializeKey(identity string, args ...any) (Fingerprint, error) {
	var b strings.Builder
	b.WriteString("a")
	b.WriteString(strconv.Itoa(len(args)))
	b.WriteByte('(')
	e := &encoder{}
	for i, arg := range args {
		if err := e.encode(&b, reflect.ValueOf(arg)); err != nil {
			return Fingerprint{}, fmt.Errorf("argument %d of %s: %w", i, identity, err)
		}
	}
	b.WriteByte(')')

	canonical := identity + KeySeparator + b.String()
	return Fingerprint{
		Key:       s.Prefix(identity) + fmt.Sprintf("%016x", xxhash.Sum64String(canonical)),
		Canonical: canonical,
	}, nil
}

// encoder walks one argument list. visiting holds the pointers, maps and
// slices on the current path; meeting one again means the value is cyclic.
type encoder struct {
	visiting map[visit]struct{}
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

func (e *encoder) enter(v reflect.Value) error {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if e.visiting == nil {
		e.visiting = make(map[visit]struct{})
	}
	if _, ok := e.visiting[key]; ok {
		return fmt.Errorf("%w: cyclic %s", ErrUnsupportedArgument, v.Type())
	}
	e.visiting[key] = struct{}{}
	return nil
}

func (e *encoder) leave(v reflect.Value) {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	delete(e.visiting, key)
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

// encode writes one value. Every branch starts with a distinct tag and every
// variable length payload is length prefixed, so no two distinct argument
// lists share an encoding.
func (e *encoder) encode(b *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		b.WriteString("n;")
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			b.WriteString("n;")
			return nil
		}
		if v.Kind() == reflect.Interface {
			return e.encode(b, v.Elem())
		}
		if v.Type().Implements(textMarshalerType) {
			return e.encodeText(b, v)
		}
		if err := e.enter(v); err != nil {
			return err
		}
		defer e.leave(v)
		return e.encode(b, v.Elem())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr:
		return fmt.Errorf("%w: %s", ErrUnsupportedArgument, v.Type())
	}

	if v.Type().Implements(textMarshalerType) {
		return e.encodeText(b, v)
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			b.WriteString("b1;")
		} else {
			b.WriteString("b0;")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString("i")
		b.WriteString(strconv.FormatInt(v.Int(), 10))
		b.WriteByte(';')
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString("u")
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
		b.WriteByte(';')
	case reflect.Float32, reflect.Float64:
		b.WriteString("f")
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
		b.WriteByte(';')
	case reflect.Complex64, reflect.Complex128:
		b.WriteString("c")
		b.WriteString(strconv.FormatComplex(v.Complex(), 'g', -1, 128))
		b.WriteByte(';')
	case reflect.String:
		writeString(b, 's', v.String())
	case reflect.Slice:
		if v.IsNil() {
			b.WriteString("n;")
			return nil
		}
		if err := e.enter(v); err != nil {
			return err
		}
		defer e.leave(v)
		return e.encodeList(b, v)
	case reflect.Array:
		return e.encodeList(b, v)
	case reflect.Map:
		if v.IsNil() {
			b.WriteString("n;")
			return nil
		}
		if err := e.enter(v); err != nil {
			return err
		}
		defer e.leave(v)
		return e.encodeMap(b, v)
	case reflect.Struct:
		return e.encodeStruct(b, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArgument, v.Type())
	}
	return nil
}

func (e *encoder) encodeText(b *strings.Builder, v reflect.Value) error {
	text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", v.Type(), err)
	}
	writeString(b, 'x', string(text))
	return nil
}

func (e *encoder) encodeList(b *strings.Builder, v reflect.Value) error {
	n := v.Len()
	b.WriteString("l")
	b.WriteString(strconv.Itoa(n))
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if err := e.encode(b, v.Index(i)); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// encodeMap sorts entries by their encoded key for deterministic output.
func (e *encoder) encodeMap(b *strings.Builder, v reflect.Value) error {
	type pair struct{ key, value string }
	pairs := make([]pair, 0, v.Len())

	iter := v.MapRange()
	for iter.Next() {
		var kb, vb strings.Builder
		if err := e.encode(&kb, iter.Key()); err != nil {
			return err
		}
		if err := e.encode(&vb, iter.Value()); err != nil {
			return err
		}
		pairs = append(pairs, pair{key: kb.String(), value: vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	b.WriteString("m")
	b.WriteString(strconv.Itoa(len(pairs)))
	b.WriteByte('{')
	for _, p := range pairs {
		b.WriteString(p.key)
		b.WriteString(p.value)
	}
	b.WriteByte('}')
	return nil
}

// encodeStruct writes exported fields by name, in declaration order.
func (e *encoder) encodeStruct(b *strings.Builder, v reflect.Value) error {
	t := v.Type()
	writeString(b, 't', t.String())
	b.WriteByte('{')
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		writeString(b, 'k', field.Name)
		if err := e.encode(b, v.Field(i)); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeString(b *strings.Builder, tag byte, value string) {
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}
