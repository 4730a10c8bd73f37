package escalate

import (
	"context"
	"fmt"
)

// Sender delivers one formatted message to one target over one channel.
// Implementations return the provider's message id on accept.
type Sender interface {
	Send(ctx context.Context, target string, msg Message) (string, error)
}

// MultiSender routes messages to the sender registered for each channel.
type MultiSender struct {
	senders map[string]Sender
}

// NewMultiSender creates a MultiSender from a map of channel name to sender.
func NewMultiSender(senders map[string]Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// SendVia delegates to the sender registered for the given channel.
func (m *MultiSender) SendVia(ctx context.Context, channel, target string, msg Message) (string, error) {
	s, ok := m.senders[channel]
	if !ok {
		return "", fmt.Errorf("no sender configured for channel %q", channel)
	}
	return s.Send(ctx, target, msg)
}
