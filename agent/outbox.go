package agent

import (
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
)

func participantID(p state.Participant) string {
	if p.ParticipantID != "" {
		return p.ParticipantID
	}
	return p.SigningAddress
}

// outbox gathers the messages an operation sends, one per recipient.
type outbox struct {
	byRecipient map[string]*msg.Message
	order       []string
}

func (o *outbox) message(sender, recipient string) *msg.Message {
	if o.byRecipient == nil {
		o.byRecipient = map[string]*msg.Message{}
	}
	m := o.byRecipient[recipient]
	if m == nil {
		m = &msg.Message{Type: msg.TypeSignedStates, Sender: sender, Recipient: recipient}
		o.byRecipient[recipient] = m
		o.order = append(o.order, recipient)
	}
	return m
}

// send queues the state, and any objectives, for every other participant of
// the channel.
func (o *outbox) send(c *channel.Channel, sv state.SignedVariables, objectives ...objective.Objective) {
	me := c.MyIndex()
	sender := participantID(c.Participants[me])
	for i, p := range c.Participants {
		if i == me {
			continue
		}
		m := o.message(sender, participantID(p))
		m.SignedStates = append(m.SignedStates, msg.SignedState{Constants: c.Constants, SignedVariables: sv})
		m.Objectives = append(m.Objectives, objectives...)
	}
}

func (o outbox) messages() []msg.Message {
	messages := make([]msg.Message, 0, len(o.order))
	for _, r := range o.order {
		messages = append(messages, *o.byRecipient[r])
	}
	return messages
}
