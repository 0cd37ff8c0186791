package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// AnonymousSender is substituted when an inbound message names no sender.
const AnonymousSender = "anonymous"

// Decoder turns inbound payloads into records. It never fails: missing or
// wrong-typed fields are replaced by documented defaults.
type Decoder struct {
	Now   func() time.Time
	NewID func() string
}

// NewDecoder returns a decoder using the wall clock and random UUIDs.
func NewDecoder() Decoder {
	return Decoder{Now: time.Now, NewID: uuid.NewString}
}

// Incoming is a decoded message together with the fields its payload
// carried.
type Incoming struct {
	Message Message
	Present MessageField
}

// Message decodes a single message payload.
func (d Decoder) Message(raw []byte) Message {
	return d.Incoming(raw).Message
}

// Incoming decodes a single message payload and records which fields were
// taken from it rather than defaulted.
func (d Decoder) Incoming(raw []byte) Incoming {
	var present MessageField

	clientID := stringField(raw, "clientId")
	id := stringField(raw, "id")
	if id == "" {
		id = clientID
	}
	if id == "" {
		id = d.NewID()
	}
	sender := stringField(raw, "senderId")
	if sender == "" {
		sender = AnonymousSender
	} else {
		present |= FieldSender
	}
	roomID := stringField(raw, "roomId")
	if roomID == "" {
		roomID = stringField(raw, "groupId")
	}
	content, ok := stringValue(jsoniter.Get(raw, "content"), false)
	if ok {
		present |= FieldContent
	}
	rawType := stringField(raw, "type")
	typ := ParseMessageType(rawType)
	if rawType != "" && string(typ) == rawType {
		present |= FieldType
	}
	ts := timeField(jsoniter.Get(raw, "timestamp"), time.Time{})
	if ts.IsZero() {
		ts = d.Now()
	} else {
		present |= FieldTimestamp
	}

	return Incoming{
		Message: Message{
			ID:        id,
			ClientID:  clientID,
			SenderID:  sender,
			RoomID:    roomID,
			Content:   content,
			Type:      typ,
			Status:    ParseMessageStatus(stringField(raw, "status")),
			Timestamp: ts,
		},
		Present: present,
	}
}

// Messages decodes the array stored under key. A non-array yields nil.
func (d Decoder) Messages(raw []byte, key string) []Message {
	items := d.IncomingList(raw, key)
	out := make([]Message, 0, len(items))
	for _, item := range items {
		out = append(out, item.Message)
	}
	return out
}

// IncomingList is Messages with field presence kept.
func (d Decoder) IncomingList(raw []byte, key string) []Incoming {
	items := rawList(raw, key)
	out := make([]Incoming, 0, len(items))
	for _, item := range items {
		out = append(out, d.Incoming(item))
	}
	return out
}

// User decodes a user payload. Users without an id are reported as invalid.
func (d Decoder) User(raw []byte) (User, bool) {
	u := User{
		ID:          stringField(raw, "id"),
		Username:    stringField(raw, "username"),
		DisplayName: stringField(raw, "displayName"),
		Email:       stringField(raw, "email"),
		Avatar:      stringField(raw, "avatar"),
		FriendIDs:   stringList(jsoniter.Get(raw, "friends")),
		IsOnline:    boolField(raw, "isOnline"),
		LastSeen:    timeField(jsoniter.Get(raw, "lastSeen"), time.Time{}),
	}
	if u.ID == "" {
		u.ID = stringField(raw, "_id")
	}
	if u.DisplayName == "" {
		u.DisplayName = stringField(raw, "name")
	}
	if len(u.FriendIDs) == 0 {
		u.FriendIDs = stringList(jsoniter.Get(raw, "friendIds"))
	}
	return u, u.ID != ""
}

// Users decodes a list of users stored under key, or the payload itself when
// key is empty. Entries without an id are skipped.
func (d Decoder) Users(raw []byte, key string) []User {
	items := rawList(raw, key)
	out := make([]User, 0, len(items))
	for _, item := range items {
		if u, ok := d.User(item); ok {
			out = append(out, u)
		}
	}
	return out
}

// Room decodes a room payload.
func (d Decoder) Room(raw []byte) (ChatRoom, bool) {
	r := ChatRoom{
		ID:          stringField(raw, "id"),
		Name:        stringField(raw, "name"),
		Members:     stringList(jsoniter.Get(raw, "members")),
		AdminID:     stringField(raw, "adminId"),
		Avatar:      stringField(raw, "avatar"),
		Pinned:      boolField(raw, "isPinned"),
		Muted:       boolField(raw, "isMuted"),
		Archived:    boolField(raw, "isArchived"),
		UnreadCount: jsoniter.Get(raw, "unreadCount").ToInt(),
		UpdatedAt:   timeField(jsoniter.Get(raw, "timestamp"), time.Time{}),
	}
	if len(r.Members) == 0 {
		r.Members = stringList(jsoniter.Get(raw, "participants"))
	}
	switch RoomType(stringField(raw, "type")) {
	case RoomGroup, "GROUP":
		r.Type = RoomGroup
	case RoomPrivate, "PRIVATE":
		r.Type = RoomPrivate
	default:
		r.Type = RoomPrivate
		if r.AdminID != "" || len(r.Members) > 2 {
			r.Type = RoomGroup
		}
	}
	if last := jsoniter.Get(raw, "lastMessage"); last.ValueType() == jsoniter.ObjectValue {
		var body json.RawMessage
		last.ToVal(&body)
		m := d.Message(body)
		if m.RoomID == "" {
			m.RoomID = r.ID
		}
		r.LastMessage = &m
	}
	return r, r.ID != ""
}

// Rooms decodes a list of rooms stored under key, or the payload itself when
// key is empty.
func (d Decoder) Rooms(raw []byte, key string) []ChatRoom {
	items := rawList(raw, key)
	out := make([]ChatRoom, 0, len(items))
	for _, item := range items {
		if r, ok := d.Room(item); ok {
			out = append(out, r)
		}
	}
	return out
}

// StatusUpdate is a delivery report for a message.
type StatusUpdate struct {
	ID       string
	ClientID string
	RoomID   string
	Status   MessageStatus
}

// StatusUpdate decodes a message_status payload.
func (d Decoder) StatusUpdate(raw []byte) StatusUpdate {
	id := stringField(raw, "id")
	if id == "" {
		id = stringField(raw, "messageId")
	}
	return StatusUpdate{
		ID:       id,
		ClientID: stringField(raw, "clientId"),
		RoomID:   stringField(raw, "roomId"),
		Status:   ParseMessageStatus(stringField(raw, "status")),
	}
}

// RoomRef decodes payloads that address a room either as a bare string or as
// an object with roomId and an optional userId.
func (d Decoder) RoomRef(raw []byte) (roomID, userID string) {
	a := jsoniter.Get(raw)
	if a.ValueType() == jsoniter.StringValue {
		return a.ToString(), ""
	}
	return stringField(raw, "roomId"), stringField(raw, "userId")
}

// Ref decodes payloads that name an entity either as a bare string or as an
// object field under key.
func (d Decoder) Ref(raw []byte, key string) string {
	a := jsoniter.Get(raw)
	if a.ValueType() == jsoniter.StringValue {
		return a.ToString()
	}
	return stringField(raw, key)
}

// Nested returns the object stored under key, or raw itself when there is
// none.
func (d Decoder) Nested(raw []byte, key string) []byte {
	a := jsoniter.Get(raw, key)
	if a.ValueType() != jsoniter.ObjectValue {
		return raw
	}
	var body json.RawMessage
	a.ToVal(&body)
	return body
}

// String decodes the string stored under key.
func (d Decoder) String(raw []byte, key string) string {
	return stringField(raw, key)
}

func stringField(raw []byte, key string) string {
	s, _ := stringValue(jsoniter.Get(raw, key), true)
	return s
}

func stringValue(a jsoniter.Any, allowNumber bool) (string, bool) {
	switch a.ValueType() {
	case jsoniter.StringValue:
		return a.ToString(), true
	case jsoniter.NumberValue:
		if allowNumber {
			return a.ToString(), true
		}
	}
	return "", false
}

func boolField(raw []byte, key string) bool {
	a := jsoniter.Get(raw, key)
	return a.ValueType() == jsoniter.BoolValue && a.ToBool()
}

func stringList(a jsoniter.Any) []string {
	if a.ValueType() != jsoniter.ArrayValue {
		return nil
	}
	out := make([]string, 0, a.Size())
	for i := 0; i < a.Size(); i++ {
		if s, ok := stringValue(a.Get(i), true); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func rawList(raw []byte, key string) []json.RawMessage {
	a := jsoniter.Get(raw)
	if key != "" {
		a = jsoniter.Get(raw, key)
	}
	if a.ValueType() != jsoniter.ArrayValue {
		return nil
	}
	var items []json.RawMessage
	a.ToVal(&items)
	return items
}

// timeField accepts epoch milliseconds as a number or numeric string, or an
// RFC3339 string. Anything else yields fallback.
func timeField(a jsoniter.Any, fallback time.Time) time.Time {
	switch a.ValueType() {
	case jsoniter.NumberValue:
		if ms := a.ToInt64(); ms > 0 {
			return time.UnixMilli(ms)
		}
	case jsoniter.StringValue:
		s := a.ToString()
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return fallback
}
