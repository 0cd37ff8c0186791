package models

import "time"

// MessageType describes the payload carried by a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
)

// ParseMessageType maps a wire value onto a known type, defaulting to text.
func ParseMessageType(v string) MessageType {
	switch MessageType(v) {
	case MessageImage, MessageVoice, MessageFile:
		return MessageType(v)
	default:
		return MessageText
	}
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// ParseMessageStatus maps a wire value onto a known status. Unknown or empty
// values are treated as sent.
func ParseMessageStatus(v string) MessageStatus {
	s := MessageStatus(v)
	if _, ok := statusRank[s]; ok || s == StatusFailed {
		return s
	}
	return StatusSent
}

// CanAdvanceTo reports whether a message in status s may move to next.
// Statuses only move forward; failed is reachable from sending and a failed
// message may be retried.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	switch {
	case s == next:
		return false
	case next == StatusFailed:
		return s == StatusSending
	case s == StatusFailed:
		return next == StatusSending
	}
	cur, ok := statusRank[s]
	if !ok {
		return true
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Message is a single chat message within a room.
type Message struct {
	ID        string        `db:"id" json:"id"`
	ClientID  string        `db:"client_id" json:"clientId,omitempty"`
	SenderID  string        `db:"sender_id" json:"senderId"`
	RoomID    string        `db:"room_id" json:"roomId"`
	Content   string        `db:"content" json:"content"`
	Type      MessageType   `db:"type" json:"type"`
	Status    MessageStatus `db:"status" json:"status"`
	Timestamp time.Time     `db:"sent_at" json:"timestamp"`
}

// Advance returns m with its status moved to next when the transition is
// allowed. The boolean reports whether anything changed.
func (m Message) Advance(next MessageStatus) (Message, bool) {
	if !m.Status.CanAdvanceTo(next) {
		return m, false
	}
	m.Status = next
	return m, true
}

// Matches reports whether other refers to the same logical message: equal
// server ids, equal client ids, or a server id echoing the client id.
func (m Message) Matches(other Message) bool {
	if other.ID != "" && (other.ID == m.ID || other.ID == m.ClientID) {
		return true
	}
	return other.ClientID != "" && (other.ClientID == m.ClientID || other.ClientID == m.ID)
}

// IsPending reports whether the message has not been acknowledged yet.
func (m Message) IsPending() bool {
	return m.Status == StatusSending || m.Status == StatusFailed
}

// MessageField flags a message field that an inbound payload actually
// carried, as opposed to one the decoder filled with its default.
type MessageField uint8

const (
	FieldContent MessageField = 1 << iota
	FieldSender
	FieldType
	FieldTimestamp

	AllMessageFields = FieldContent | FieldSender | FieldType | FieldTimestamp
)

// Has reports whether every flag in f is set.
func (p MessageField) Has(f MessageField) bool { return p&f == f }

// Merge folds an incoming copy of the same message into m. present lists the
// fields the incoming payload carried.
//
//   - ID: the incoming id wins, so a server id replaces the client id.
//   - ClientID, RoomID: incoming when non-empty, otherwise kept.
//   - Content, SenderID, Type: incoming only when present, otherwise kept.
//   - Timestamp: the server's timestamp replaces the local one when present.
//   - Status: never regresses; a copy of a pending message counts as its ack.
func (m Message) Merge(in Message, present MessageField) Message {
	out := m
	out.ID = in.ID
	if in.ClientID != "" {
		out.ClientID = in.ClientID
	}
	if in.RoomID != "" {
		out.RoomID = in.RoomID
	}
	if present.Has(FieldContent) {
		out.Content = in.Content
	}
	if present.Has(FieldSender) {
		out.SenderID = in.SenderID
	}
	if present.Has(FieldType) {
		out.Type = in.Type
	}
	if present.Has(FieldTimestamp) {
		out.Timestamp = in.Timestamp
	}
	switch {
	case m.IsPending():
		// a copy coming back from the server is itself an acknowledgement
		out.Status = in.Status
		if in.IsPending() {
			out.Status = StatusSent
		}
	case m.Status.CanAdvanceTo(in.Status):
		out.Status = in.Status
	default:
		out.Status = m.Status
	}
	return out
}
