package gossip

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ugorji/go/codec"
	"golang.org/x/crypto/sha3"
)

// HashSize is the size of an event hash in bytes.
const HashSize = 32

// Hash is a 256 bit content address, ordered lexicographically on its
// bytes.
type Hash [HashSize]byte

// ParseHash parses the hex encoding of a hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("decode hash: expected %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (h Hash) Compare(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as hex, so hashes are readable in JSON and
// YAML output.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ComputeHash returns the SHA3-256 digest of the canonical encoding of v.
//
// The canonical encoding is the same one used on the wire, so the hash a
// receiver computes for a decoded event matches the hash the sender
// computed before encoding it.
func ComputeHash(v interface{}) (Hash, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, newCodecHandle()).Encode(v); err != nil {
		return Hash{}, fmt.Errorf("encode: %w", err)
	}
	return Hash(sha3.Sum256(buf.Bytes())), nil
}
