package models

import "time"

// User is a snapshot of a chat user as last reported by the server.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	FriendIDs   []string  `json:"friends,omitempty"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen,omitempty"`
}

// IsFriend reports whether id is in the user's friend set.
func (u User) IsFriend(id string) bool {
	for _, f := range u.FriendIDs {
		if f == id {
			return true
		}
	}
	return false
}

// Credentials identify the logged-in user.
type Credentials struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}
