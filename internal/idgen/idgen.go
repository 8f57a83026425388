// ===========================================
// Package idgen - Short Code Generation
// ===========================================
// Generated codes are snowflake IDs written in base62:
//
//   41 bits time | 10 bits node | 12 bits sequence  →  ~11 chars
//
// Codes are unique across nodes as long as every instance runs with
// its own NodeID (0-1023). No database round trip is needed to pick
// a code, so the bloom filter check on generated codes is only a
// safety net.
// ===========================================

package idgen

import (
	"errors"
	"fmt"
	"math"

	"github.com/bwmarrin/snowflake"
)

// Base62 alphabet: 0-9, A-Z, a-z.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = uint64(len(alphabet))

var (
	ErrInvalidCharacter = errors.New("invalid character in base62 string")
	ErrOverflow         = errors.New("decoded value exceeds uint64 range")
)

// Generator hands out short codes. Safe for concurrent use.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for nodeID.
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// NextCode returns a fresh short code.
func (g *Generator) NextCode() (string, error) {
	return Encode(uint64(g.node.Generate().Int64())), nil
}

// Encode writes n in base62.
func Encode(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// Decode parses a base62 string.
func Decode(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		v := indexOf(s[i])
		if v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCharacter, s[i])
		}
		if n > (math.MaxUint64-uint64(v))/base {
			return 0, ErrOverflow
		}
		n = n*base + uint64(v)
	}
	return n, nil
}

func indexOf(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 36
	default:
		return -1
	}
}
