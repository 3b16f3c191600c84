package session

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyPhysicalAddress is returned by New and ID validation when the
// physical address component is empty; §3.2 requires it non-empty.
var ErrEmptyPhysicalAddress = errors.New("session: physical address must be non-empty")

// ID is the opaque identity of a session: a logical prefix (typically the
// configured address of the coordination-manager instance that owns it)
// paired with a physical transport address (typically a generated unique
// suffix, so that two instances sharing a prefix never collide).
type ID struct {
	Prefix          []byte
	PhysicalAddress []byte
}

// New builds a session ID from a caller-supplied logical prefix and a
// freshly generated physical address (a UUIDv4, per the convention seen
// across the example corpus for session/agent identity generation).
func New(prefix []byte) (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("session: generate physical address: %w", err)
	}
	return NewWithAddress(prefix, u[:])
}

// NewWithAddress builds a session ID from an explicit physical address,
// validating §3.2's non-empty-address invariant. Useful for session
// takeover, where the address must be reconstructed from persisted state
// rather than freshly generated.
func NewWithAddress(prefix, physicalAddress []byte) (ID, error) {
	if len(physicalAddress) == 0 {
		return ID{}, ErrEmptyPhysicalAddress
	}
	return ID{
		Prefix:          append([]byte(nil), prefix...),
		PhysicalAddress: append([]byte(nil), physicalAddress...),
	}, nil
}

// Equal reports whether two IDs denote the same session.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id.Prefix, other.Prefix) && bytes.Equal(id.PhysicalAddress, other.PhysicalAddress)
}

// IsZero reports whether id is the unset zero value.
func (id ID) IsZero() bool {
	return len(id.Prefix) == 0 && len(id.PhysicalAddress) == 0
}

// Compact renders the ID as a length-prefixed, base64url-encoded string
// suitable for use as a dictionary key in the external session store
// and on the wire (§3.2, §6.3).
func (id ID) Compact() string {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, id.Prefix)
	writeLenPrefixed(&buf, id.PhysicalAddress)
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

// ParseCompact is the inverse of Compact.
func ParseCompact(s string) (ID, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("session: decode compact id: %w", err)
	}
	r := bytes.NewReader(raw)
	prefix, err := readLenPrefixed(r)
	if err != nil {
		return ID{}, fmt.Errorf("session: decode prefix: %w", err)
	}
	addr, err := readLenPrefixed(r)
	if err != nil {
		return ID{}, fmt.Errorf("session: decode physical address: %w", err)
	}
	return NewWithAddress(prefix, addr)
}

// String renders a short human-readable form for logs; it is not the
// wire/dictionary-key encoding (use Compact for that).
func (id ID) String() string {
	return fmt.Sprintf("session(%x)", id.PhysicalAddress)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil && n > 0 {
		return nil, err
	}
	return out, nil
}
