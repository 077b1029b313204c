// Package notify delivers critical-event notifications over external
// transports. Delivery is best effort: failures leave the notification
// record pending and are retried only through an explicit resend.
package notify

import "context"

// Message is a rendered notification ready for transport.
type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentName string
	Attachment     []byte
}

// Channel delivers a rendered message to one recipient.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// MultiChannel fans a message out to several channels; the first
// failure is returned and the remaining channels are skipped so the
// notification stays pending for a later resend.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

// Send forwards the message to all channels.
func (m *MultiChannel) Send(ctx context.Context, msg Message) error {
	if m == nil {
		return nil
	}
	for _, channel := range m.channels {
		if channel == nil {
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
