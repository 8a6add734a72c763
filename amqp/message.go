package amqp

import (
	"time"

	"github.com/vk/amqpgrid/internal/method"
	"github.com/vk/amqpgrid/internal/wire"
)

// Table is an AMQP field table, used for headers and declare arguments.
// Supported value types follow the wire format: bools, signed and unsigned
// integers, floats, strings, []byte, time.Time, nested Tables and slices.
type Table = map[string]any

// Message is an outgoing message: a body plus the standard basic-class
// properties. Zero-valued properties are omitted on the wire.
type Message struct {
	Body []byte

	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    byte
	Priority        byte
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

// Delivery modes for Message.DeliveryMode.
const (
	Transient  byte = 1
	Persistent byte = 2
)

func (m *Message) properties() method.Properties {
	return method.Properties{
		ContentType:     m.ContentType,
		ContentEncoding: m.ContentEncoding,
		Headers:         wire.Table(m.Headers),
		DeliveryMode:    m.DeliveryMode,
		Priority:        m.Priority,
		CorrelationID:   m.CorrelationID,
		ReplyTo:         m.ReplyTo,
		Expiration:      m.Expiration,
		MessageID:       m.MessageID,
		Timestamp:       m.Timestamp,
		Type:            m.Type,
		UserID:          m.UserID,
		AppID:           m.AppID,
	}
}

func messageFromContent(props *method.Properties, body []byte) Message {
	return Message{
		Body:            body,
		ContentType:     props.ContentType,
		ContentEncoding: props.ContentEncoding,
		Headers:         Table(props.Headers),
		DeliveryMode:    props.DeliveryMode,
		Priority:        props.Priority,
		CorrelationID:   props.CorrelationID,
		ReplyTo:         props.ReplyTo,
		Expiration:      props.Expiration,
		MessageID:       props.MessageID,
		Timestamp:       props.Timestamp,
		Type:            props.Type,
		UserID:          props.UserID,
		AppID:           props.AppID,
	}
}

// IncomingMessage is a message received from the broker, via a consumer or
// a synchronous get.
type IncomingMessage struct {
	Message

	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	ConsumerTag string

	ch    *Channel
	noAck bool
}

// Ack acknowledges the message. It is a no-op when the message was received
// in no-ack mode.
func (m *IncomingMessage) Ack() error {
	if m.noAck {
		return nil
	}
	return m.ch.send(&method.BasicAck{DeliveryTag: m.DeliveryTag})
}

// Reject refuses the message, optionally asking the broker to requeue it.
func (m *IncomingMessage) Reject(requeue bool) error {
	if m.noAck {
		return nil
	}
	return m.ch.send(&method.BasicReject{DeliveryTag: m.DeliveryTag, Requeue: requeue})
}

// ReturnedMessage is a mandatory publish the broker handed back because it
// could not be routed.
type ReturnedMessage struct {
	Message

	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}
