package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Bytes32 is a 32 byte digest. It identifies channels and states.
type Bytes32 [32]byte

func (h Bytes32) String() string {
	return hex.EncodeToString(h[:])
}

func (h Bytes32) IsZero() bool {
	return h == Bytes32{}
}

// Compare orders digests bytewise.
func (h Bytes32) Compare(o Bytes32) int {
	return bytes.Compare(h[:], o[:])
}

func (h Bytes32) MarshalText() ([]byte, error) {
	text := [len(h) * 2]byte{}
	n := hex.Encode(text[:], h[:])
	if n != len(text) {
		return nil, hex.ErrLength
	}
	return text[:], nil
}

func (h *Bytes32) UnmarshalText(text []byte) error {
	if len(text) != len(h)*2 {
		return fmt.Errorf("unmarshaling bytes32: input length %d expected %d", len(text), len(h)*2)
	}
	n, err := hex.Decode(h[:], text)
	if err != nil {
		return fmt.Errorf("unmarshaling bytes32: %w", err)
	}
	if n != len(h) {
		return fmt.Errorf("unmarshaling bytes32: decoded length %d expected %d", n, len(h))
	}
	return nil
}

// ParseBytes32 parses the hex form produced by String.
func ParseBytes32(s string) (Bytes32, error) {
	h := Bytes32{}
	err := h.UnmarshalText([]byte(s))
	return h, err
}
