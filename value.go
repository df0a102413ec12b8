package atom

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Equaler is implemented by immutable values that define structural equality
type Equaler[T any] interface {
	Equal(other T) bool
}

// Hasher is implemented by values that provide their own structural hash
type Hasher interface {
	Hash() uint64
}

// Equal compares two values through their Equaler implementation
func Equal[T Equaler[T]](a, b T) bool {
	return a.Equal(b)
}

// HashOf returns the structural hash of a Hasher
func HashOf[T Hasher](v T) uint64 {
	return v.Hash()
}

// Field is one declared field of a record type
type Field[T any] interface {
	Name() string
	equal(a, b T) bool
	hash(d *xxhash.Digest, v T)
}

// Prop is a typed field accessor of record type T with field type F
type Prop[T any, F comparable] struct {
	name string
	get  func(T) F
	set  func(*T, F)
}

// NewProp declares a field by name with its getter and setter.
// The setter is only ever applied to a private copy of the record.
func NewProp[T any, F comparable](name string, get func(T) F, set func(*T, F)) Prop[T, F] {
	return Prop[T, F]{name: name, get: get, set: set}
}

func (p Prop[T, F]) Name() string {
	return p.name
}

// Get reads the field from v
func (p Prop[T, F]) Get(v T) F {
	return p.get(v)
}

// With builds an override assigning val to this field
func (p Prop[T, F]) With(val F) Override[T] {
	return Override[T]{
		field: p.name,
		apply: func(t *T) { p.set(t, val) },
	}
}

func (p Prop[T, F]) equal(a, b T) bool {
	return p.get(a) == p.get(b)
}

func (p Prop[T, F]) hash(d *xxhash.Digest, v T) {
	_, _ = d.WriteString(p.name)
	_, _ = d.Write([]byte{0})
	writeHashValue(d, p.get(v))
	_, _ = d.Write([]byte{0})
}

// Override is a single named field assignment applied by Derive
type Override[T any] struct {
	field string
	apply func(*T)
}

// Field returns the name of the overridden field
func (o Override[T]) Field() string {
	return o.field
}

// Schema enumerates the fields of record type T once, and derives
// equality, hashing and copying from that enumeration.
type Schema[T any] struct {
	fields []Field[T]
	names  []string
}

// NewSchema declares the fields of T. Field names must be unique.
func NewSchema[T any](fields ...Field[T]) *Schema[T] {
	seen := make(map[string]bool, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f.Name()] {
			panic(fmt.Sprintf("schema %s: duplicate field %q", reflect.TypeFor[T](), f.Name()))
		}
		seen[f.Name()] = true
		names = append(names, f.Name())
	}
	return &Schema[T]{fields: fields, names: names}
}

// Fields returns the declared field names in declaration order
func (s *Schema[T]) Fields() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Equal reports whether every declared field of a and b is equal
func (s *Schema[T]) Equal(a, b T) bool {
	for _, f := range s.fields {
		if !f.equal(a, b) {
			return false
		}
	}
	return true
}

// Hash computes an xxhash64 digest over every declared field
func (s *Schema[T]) Hash(v T) uint64 {
	d := xxhash.New()
	for _, f := range s.fields {
		f.hash(d, v)
	}
	return d.Sum64()
}

// Derive returns a copy of v with the overrides applied in order.
// v itself is never modified.
func (s *Schema[T]) Derive(v T, overrides ...Override[T]) T {
	out := v
	for _, o := range overrides {
		o.apply(&out)
	}
	return out
}

// CheckCoverage verifies that the schema declares exactly the struct
// fields of T. Field names are matched case-insensitively so that an
// unexported field "count" may be declared as "Count".
func (s *Schema[T]) CheckCoverage() error {
	typ := reflect.TypeFor[T]()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("schema %s: coverage check requires a struct type", typ)
	}

	declared := make(map[string]bool, len(s.names))
	for _, n := range s.names {
		declared[strings.ToLower(n)] = true
	}

	var missing []string
	actual := make(map[string]bool, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if sf.Name == "_" {
			continue
		}
		key := strings.ToLower(sf.Name)
		actual[key] = true
		if !declared[key] {
			missing = append(missing, sf.Name)
		}
	}

	var unknown []string
	for _, n := range s.names {
		if !actual[strings.ToLower(n)] {
			unknown = append(unknown, n)
		}
	}

	if len(missing) > 0 || len(unknown) > 0 {
		return fmt.Errorf("schema %s: undeclared fields %v, unknown fields %v", typ, missing, unknown)
	}
	return nil
}

func writeHashValue(d *xxhash.Digest, v any) {
	writeHashReflect(d, reflect.ValueOf(v))
}

// writeHashReflect hashes by kind so named types and composites follow the
// same rules as ==: floats are normalized, structs and arrays element-wise.
func writeHashReflect(d *xxhash.Digest, rv reflect.Value) {
	var buf [8]byte
	putUint := func(u uint64) {
		binary.LittleEndian.PutUint64(buf[:], u)
		_, _ = d.Write(buf[:])
	}

	if !rv.IsValid() {
		// nil interface
		_, _ = d.Write([]byte{0xff})
		return
	}
	if rv.CanInterface() {
		if h, ok := rv.Interface().(Hasher); ok {
			putUint(h.Hash())
			return
		}
	}

	switch rv.Kind() {
	case reflect.String:
		putUint(uint64(rv.Len()))
		_, _ = d.WriteString(rv.String())
	case reflect.Bool:
		if rv.Bool() {
			_, _ = d.Write([]byte{1})
		} else {
			_, _ = d.Write([]byte{0})
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		putUint(uint64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		putUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		putUint(math.Float64bits(normalizeFloat(rv.Float())))
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		putUint(math.Float64bits(normalizeFloat(real(c))))
		putUint(math.Float64bits(normalizeFloat(imag(c))))
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		putUint(uint64(rv.Pointer()))
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			writeHashReflect(d, rv.Index(i))
		}
	case reflect.Struct:
		typ := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			// == ignores blank fields
			if typ.Field(i).Name == "_" {
				continue
			}
			putUint(uint64(i))
			writeHashReflect(d, rv.Field(i))
		}
	case reflect.Interface:
		if rv.IsNil() {
			_, _ = d.Write([]byte{0xff})
			return
		}
		elem := rv.Elem()
		_, _ = d.WriteString(elem.Type().String())
		writeHashReflect(d, elem)
	default:
		// not reachable for comparable field types
		_, _ = d.WriteString(rv.Type().String())
	}
}

// normalizeFloat maps -0 to +0 so values that compare equal hash equally
func normalizeFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}
