package gossip

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

// MessageType identifies the payload carried by a gossip message.
type MessageType uint8

const (
	// MessageTypeEvent carries a single gossip graph event.
	MessageTypeEvent MessageType = iota + 1
	// MessageTypeHeartbeat carries a liveness signal. Heartbeats feed the
	// failure detector and never touch the graph.
	MessageTypeHeartbeat
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeEvent:
		return "event"
	case MessageTypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

const supportedVersion uint8 = 0

// Message is the envelope exchanged between nodes. The networking layer
// transmits encoded messages produced by Poll and HandleMessage and feeds
// received messages back into HandleMessage.
type Message struct {
	Type MessageType

	// Event is the carried event for event messages.
	Event *Event

	// From is the sending node for heartbeat messages.
	From NodeID
}

// NewEventMessage creates a message carrying the given event.
func NewEventMessage(event *Event) Message {
	return Message{
		Type:  MessageTypeEvent,
		Event: event,
	}
}

// NewHeartbeatMessage creates a liveness signal from the given node.
func NewHeartbeatMessage(from NodeID) Message {
	return Message{
		Type: MessageTypeHeartbeat,
		From: from,
	}
}

type heartbeatBody struct {
	From NodeID `codec:"from"`
}

// newCodecHandle returns the msgpack handle used for all encoding.
//
// The handle is canonical so identical logical content always encodes to
// identical bytes, which the content addressing in ComputeHash depends on.
func newCodecHandle() *codec.MsgpackHandle {
	handle := &codec.MsgpackHandle{}
	handle.Canonical = true
	return handle
}

// EncodeMessage encodes a message as a type byte, a version byte and the
// canonically encoded payload.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(msg.Type))
	_ = buf.WriteByte(supportedVersion)

	encoder := codec.NewEncoder(&buf, newCodecHandle())
	switch msg.Type {
	case MessageTypeEvent:
		if msg.Event == nil {
			return nil, fmt.Errorf("event message with no event")
		}
		if err := encoder.Encode(msg.Event); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	case MessageTypeHeartbeat:
		if err := encoder.Encode(&heartbeatBody{From: msg.From}); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported message type: %d", msg.Type)
	}

	return buf.Bytes(), nil
}

// DecodeMessage decodes a message encoded with EncodeMessage.
func DecodeMessage(b []byte) (Message, error) {
	r := bytes.NewBuffer(b)

	firstByte, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("read: %w", err)
	}
	messageType := MessageType(firstByte)

	version, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return Message{}, fmt.Errorf("unsupported version: %d", version)
	}

	decoder := codec.NewDecoder(r, newCodecHandle())
	switch messageType {
	case MessageTypeEvent:
		var event Event
		if err := decoder.Decode(&event); err != nil {
			return Message{}, fmt.Errorf("decode: %w", err)
		}
		return NewEventMessage(&event), nil
	case MessageTypeHeartbeat:
		var body heartbeatBody
		if err := decoder.Decode(&body); err != nil {
			return Message{}, fmt.Errorf("decode: %w", err)
		}
		return NewHeartbeatMessage(body.From), nil
	default:
		return Message{}, fmt.Errorf("unsupported message type: %s", messageType)
	}
}
