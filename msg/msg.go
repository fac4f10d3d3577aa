// Package msg contains the messages participants exchange and their gob
// encoding.
package msg

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
)

type Type int

const (
	TypeSignedStates Type = 10
	TypeObjectives   Type = 20
)

// SignedState is a signed state along with the constants of its channel, so
// that a recipient can learn of a channel from its first state.
type SignedState struct {
	Constants state.Constants
	state.SignedVariables
}

// ChannelID returns the identifier of the channel the state belongs to.
func (s SignedState) ChannelID() (state.Bytes32, error) {
	return s.Constants.ChannelID()
}

type Message struct {
	Type Type

	// Sender and Recipient are participant identifiers.
	Sender    string
	Recipient string

	SignedStates []SignedState
	Objectives   []objective.Objective
}

// ErrMalformed is returned for bytes that do not decode to a message.
var ErrMalformed = errors.New("malformed message")

type Encoder = gob.Encoder

func NewEncoder(w io.Writer) *Encoder {
	return gob.NewEncoder(w)
}

type Decoder = gob.Decoder

func NewDecoder(r io.Reader) *Decoder {
	return gob.NewDecoder(r)
}

// Marshal encodes a single message.
func Marshal(m Message) ([]byte, error) {
	buf := bytes.Buffer{}
	err := NewEncoder(&buf).Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single message encoded by Marshal.
func Unmarshal(b []byte) (Message, error) {
	m := Message{}
	err := NewDecoder(bytes.NewReader(b)).Decode(&m)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}
