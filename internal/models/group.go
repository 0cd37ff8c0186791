package models

import "time"

// GroupRole is the role a member holds inside a group.
type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// Group is the administrative view of a group room.
type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Avatar      string        `json:"avatar,omitempty"`
	Description string        `json:"description,omitempty"`
	AdminID     string        `json:"adminId"`
	Members     []GroupMember `json:"members"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// GroupMember is one membership entry of a group.
type GroupMember struct {
	UserID   string    `json:"userId"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}
