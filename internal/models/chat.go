package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotGroupRoom    = errors.New("room is not a group")
	ErrNotMember       = errors.New("user is not a member of the room")
	ErrAlreadyMember   = errors.New("user is already a member of the room")
	ErrNotAdmin        = errors.New("only the group admin may do this")
	ErrBlankRoomName   = errors.New("room name must not be blank")
	ErrTooFewMembers   = errors.New("a group needs at least 2 other members")
	ErrSelfPrivateRoom = errors.New("cannot open a private room with yourself")
)

// MinGroupMembers is the number of members besides the creator a new group
// must have.
const MinGroupMembers = 2

// RoomType distinguishes one-to-one rooms from groups.
type RoomType string

const (
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
)

// ChatRoom is a conversation the current user takes part in.
type ChatRoom struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Type        RoomType  `db:"type" json:"type"`
	Members     []string  `db:"-" json:"members"`
	AdminID     string    `db:"admin_id" json:"adminId,omitempty"`
	Avatar      string    `db:"avatar" json:"avatar,omitempty"`
	Pinned      bool      `db:"pinned" json:"isPinned"`
	Muted       bool      `db:"muted" json:"isMuted"`
	Archived    bool      `db:"archived" json:"isArchived"`
	UnreadCount int       `db:"unread_count" json:"unreadCount"`
	LastMessage *Message  `db:"-" json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `db:"updated_at" json:"timestamp"`
}

// PrivateRoomID derives the id of the private room between two users. The
// result does not depend on argument order.
func PrivateRoomID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "private_" + pair[0] + "_" + pair[1]
}

// NewPrivateRoom builds the private room between self and other.
func NewPrivateRoom(selfID string, other User, now time.Time) (ChatRoom, error) {
	if selfID == other.ID {
		return ChatRoom{}, ErrSelfPrivateRoom
	}
	name := other.DisplayName
	if name == "" {
		name = other.Username
	}
	members := []string{selfID, other.ID}
	sort.Strings(members)
	return ChatRoom{
		ID:        PrivateRoomID(selfID, other.ID),
		Name:      name,
		Type:      RoomPrivate,
		Members:   members,
		UpdatedAt: now,
	}, nil
}

// NewGroupRoom builds a group owned by adminID. memberIDs are the other
// members; duplicates and the admin itself are ignored when counting.
func NewGroupRoom(id, name, adminID string, memberIDs []string, now time.Time) (ChatRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ChatRoom{}, ErrBlankRoomName
	}
	seen := map[string]struct{}{adminID: {}}
	members := []string{adminID}
	for _, m := range memberIDs {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}
	if len(members)-1 < MinGroupMembers {
		return ChatRoom{}, ErrTooFewMembers
	}
	return ChatRoom{
		ID:        id,
		Name:      name,
		Type:      RoomGroup,
		Members:   members,
		AdminID:   adminID,
		UpdatedAt: now,
	}, nil
}

// HasMember reports whether userID belongs to the room.
func (r ChatRoom) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (r ChatRoom) clone() ChatRoom {
	r.Members = append([]string(nil), r.Members...)
	return r
}

// WithMember adds userID to a group.
func (r ChatRoom) WithMember(userID string) (ChatRoom, error) {
	if r.Type != RoomGroup {
		return r, ErrNotGroupRoom
	}
	if r.HasMember(userID) {
		return r, ErrAlreadyMember
	}
	out := r.clone()
	out.Members = append(out.Members, userID)
	return out, nil
}

// WithoutMember removes userID from a group. Removing the admin hands the
// role to the next remaining member.
func (r ChatRoom) WithoutMember(userID string) (ChatRoom, error) {
	if r.Type != RoomGroup {
		return r, ErrNotGroupRoom
	}
	if !r.HasMember(userID) {
		return r, ErrNotMember
	}
	out := r.clone()
	members := out.Members[:0]
	for _, m := range out.Members {
		if m != userID {
			members = append(members, m)
		}
	}
	out.Members = members
	if out.AdminID == userID {
		out.AdminID = ""
		if len(members) > 0 {
			out.AdminID = members[0]
		}
	}
	return out, nil
}

// WithAdmin transfers the admin role to a current member.
func (r ChatRoom) WithAdmin(userID string) (ChatRoom, error) {
	if r.Type != RoomGroup {
		return r, ErrNotGroupRoom
	}
	if !r.HasMember(userID) {
		return r, ErrNotMember
	}
	out := r.clone()
	out.AdminID = userID
	return out, nil
}

// Renamed returns the group with a new name.
func (r ChatRoom) Renamed(name string) (ChatRoom, error) {
	if r.Type != RoomGroup {
		return r, ErrNotGroupRoom
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return r, ErrBlankRoomName
	}
	out := r.clone()
	out.Name = name
	return out, nil
}

// Group projects a group room onto the group record.
func (r ChatRoom) Group() (Group, error) {
	if r.Type != RoomGroup {
		return Group{}, ErrNotGroupRoom
	}
	g := Group{ID: r.ID, Name: r.Name, Avatar: r.Avatar, AdminID: r.AdminID, CreatedAt: r.UpdatedAt}
	for _, m := range r.Members {
		role := RoleMember
		if m == r.AdminID {
			role = RoleAdmin
		}
		g.Members = append(g.Members, GroupMember{UserID: m, Role: role})
	}
	return g, nil
}

// RoomSettings is the per-user flag set of a room.
type RoomSettings struct {
	RoomID   string `json:"roomId"`
	Pinned   bool   `json:"pinned"`
	Muted    bool   `json:"muted"`
	Archived bool   `json:"archived"`
}

// Settings returns the room's current flag set.
func (r ChatRoom) Settings() RoomSettings {
	return RoomSettings{RoomID: r.ID, Pinned: r.Pinned, Muted: r.Muted, Archived: r.Archived}
}
