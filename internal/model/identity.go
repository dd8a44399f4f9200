package model

import "time"

// Role of an authenticated user
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleSeller Role = "SELLER"
	RoleUser   Role = "USER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleUser:
		return true
	}
	return false
}

// AccountLevel is the subscription tier of a user.
type AccountLevel string

const (
	LevelFree       AccountLevel = "FREE"
	LevelPremium    AccountLevel = "PREMIUM"
	LevelEnterprise AccountLevel = "ENTERPRISE"
)

// Valid reports whether l is a known account level.
func (l AccountLevel) Valid() bool {
	switch l {
	case LevelFree, LevelPremium, LevelEnterprise:
		return true
	}
	return false
}

// Identity is what the identity verifier vouches for.
type Identity struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	AccountLevel AccountLevel `json:"accountLevel"`
	IsActive     bool         `json:"isActive"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// IsAdmin reports whether the identity has the ADMIN role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// AuthPayload is the credential presented at handshake.
type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"-"`
}

// JWTClaims is the claim set carried by user tokens.
type JWTClaims struct {
	UserID       string       `json:"user_id"`
	Role         Role         `json:"role"`
	AccountLevel AccountLevel `json:"account_level"`
	Active       bool         `json:"active"`
	IssuedAt     int64        `json:"iat"`
	ExpiresAt    int64        `json:"exp"`
}

// Room namespaces
const (
	RoomPrefixUser     = "user:"
	RoomPrefixChat     = "chat:"
	RoomPrefixProduct  = "product:"
	RoomPrefixCategory = "category:"
	RoomPrefixFeature  = "feature:"
)

// UserRoom is the identity room every session auto-joins.
func UserRoom(userID string) string { return RoomPrefixUser + userID }

// ChatRoomID is the registry room of a chat room.
func ChatRoomID(roomID string) string { return RoomPrefixChat + roomID }

// ProductRoom is the registry room of a product's viewers.
func ProductRoom(productID string) string { return RoomPrefixProduct + productID }
