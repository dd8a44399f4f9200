package service

import (
	"regexp"
	"strings"

	"agora-server/internal/model"
)

var roomPrefixes = []string{
	model.RoomPrefixUser,
	model.RoomPrefixChat,
	model.RoomPrefixProduct,
	model.RoomPrefixCategory,
	model.RoomPrefixFeature,
}

// roomIDPattern bounds the id part of every room, user ids included.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// ValidUserID reports whether id can name a user: room.
func ValidUserID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// RoomService validates namespaced room identifiers.
type RoomService struct {
	idPattern *regexp.Regexp
}

func NewRoomService() *RoomService {
	return &RoomService{
		idPattern: roomIDPattern,
	}
}

// ValidateRoomName checks that name is "<namespace>:<id>" with a known namespace.
func (r *RoomService) ValidateRoomName(name string) error {
	prefix, id, ok := r.Split(name)
	if !ok {
		return model.Validationf("unknown room namespace in %q", name)
	}
	if !r.idPattern.MatchString(id) {
		return model.Validationf("invalid room id %q for namespace %s", id, strings.TrimSuffix(prefix, ":"))
	}
	return nil
}

// Split separates the namespace prefix (with its colon) from the id part.
func (r *RoomService) Split(name string) (prefix, id string, ok bool) {
	for _, p := range roomPrefixes {
		if strings.HasPrefix(name, p) {
			return p, name[len(p):], true
		}
	}
	return "", "", false
}

// SanitizeRoomName trims surrounding whitespace.
func (r *RoomService) SanitizeRoomName(name string) string {
	return strings.TrimSpace(name)
}
