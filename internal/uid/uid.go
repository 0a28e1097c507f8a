package uid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for name-derived identifiers.
// Version suffix enables future algorithm migration.
const Domain = "inox/uid/v1"

// UID is a 128-bit deterministic identifier.
type UID [16]byte

// Nil is the zero UID. It is never produced by FromString.
var Nil UID

// FromString derives a UID from a name.
// Format: SHA256(Domain + 0x00 + NFC(name))[:16]
//
// The name is NFC normalized first so that visually identical names typed
// with different code point sequences map to the same identifier.
func FromString(name string) UID {
	h := sha256.New()
	h.Write([]byte(Domain))
	h.Write([]byte{0x00})
	h.Write([]byte(norm.NFC.String(name)))

	var id UID
	copy(id[:], h.Sum(nil))
	return id
}

// For returns the UID of the Go type T.
// Pointer and value forms of the same named type yield the same UID.
func For[T any]() UID {
	return OfType(reflect.TypeOf((*T)(nil)).Elem())
}

// Of returns the UID of the dynamic type of v.
func Of(v any) UID {
	return OfType(reflect.TypeOf(v))
}

// OfType returns the UID of t, derived from its fully-qualified name.
func OfType(t reflect.Type) UID {
	return FromString(TypeName(t))
}

// TypeName returns the fully-qualified name used for type-derived UIDs:
// "<package path>.<type name>", pointers dereferenced.
// Unnamed types fall back to their string form.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// Parse decodes the 32-character hex form produced by String.
func Parse(s string) (UID, error) {
	var id UID
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("parse uid %q: %w", s, err)
	}
	if len(b) != len(id) {
		return Nil, fmt.Errorf("parse uid %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex form.
func (id UID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for log lines.
func (id UID) Short() string {
	return id.String()[:8]
}

// IsNil reports whether id is the zero UID.
func (id UID) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id UID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
