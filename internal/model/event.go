package model

import "strings"

// Domain is the namespace an event belongs to.
type Domain int

const (
	DomainUnknown Domain = iota
	DomainRoom
	DomainChat
	DomainPost
	DomainMarketplace
)

func (d Domain) String() string {
	switch d {
	case DomainRoom:
		return "room"
	case DomainChat:
		return "chat"
	case DomainPost:
		return "post"
	case DomainMarketplace:
		return "marketplace"
	default:
		return "system"
	}
}

// ErrorEvent is the sender-only error event of the domain.
func (d Domain) ErrorEvent() string {
	return d.String() + ":error"
}

// RoomEvent enumerates gateway-level membership events.
type RoomEvent string

const (
	RoomJoin  RoomEvent = "room:join"
	RoomLeave RoomEvent = "room:leave"
)

// ChatEvent enumerates inbound chat events.
type ChatEvent string

const (
	ChatMessageSend ChatEvent = "chat:message_send"
	ChatRoomCreate  ChatEvent = "chat:room_create"
	ChatRoomJoin    ChatEvent = "chat:room_join"
	ChatRoomLeave   ChatEvent = "chat:room_leave"
	ChatTypingStart ChatEvent = "chat:typing_start"
	ChatTypingStop  ChatEvent = "chat:typing_stop"
	ChatMessageRead ChatEvent = "chat:message_read"
)

// Outbound chat events
const (
	ChatMessageReceive = "chat:message_receive"
	ChatRoomCreated    = "chat:room_created"
)

// PostEvent enumerates inbound post events.
type PostEvent string

const (
	PostCreate        PostEvent = "post:create"
	PostUpdate        PostEvent = "post:update"
	PostDelete        PostEvent = "post:delete"
	PostLike          PostEvent = "post:like"
	PostUnlike        PostEvent = "post:unlike"
	PostCommentAdd    PostEvent = "post:comment_add"
	PostCommentDelete PostEvent = "post:comment_delete"
)

// Outbound post events; the actor's ack and the broadcast share the name.
const (
	PostCreated        = "post:created"
	PostUpdated        = "post:updated"
	PostDeleted        = "post:deleted"
	PostLiked          = "post:liked"
	PostUnliked        = "post:unliked"
	PostCommentAdded   = "post:comment_added"
	PostCommentDeleted = "post:comment_deleted"
)

// MarketplaceEvent enumerates inbound marketplace events.
type MarketplaceEvent string

const (
	MarketplaceProductCreate MarketplaceEvent = "marketplace:product_create"
	MarketplaceProductUpdate MarketplaceEvent = "marketplace:product_update"
	MarketplaceProductDelete MarketplaceEvent = "marketplace:product_delete"
	MarketplaceSearch        MarketplaceEvent = "marketplace:search"
	MarketplaceProductView   MarketplaceEvent = "marketplace:product_view"
	MarketplaceProductUnview MarketplaceEvent = "marketplace:product_unview"
)

// Outbound marketplace events
const (
	MarketplaceProductCreated = "marketplace:product_created"
	MarketplaceProductUpdated = "marketplace:product_updated"
	MarketplaceProductDeleted = "marketplace:product_deleted"
	MarketplaceSearchResult   = "marketplace:search_result"
)

var knownEvents = map[string]Domain{
	string(RoomJoin):  DomainRoom,
	string(RoomLeave): DomainRoom,

	string(ChatMessageSend): DomainChat,
	string(ChatRoomCreate):  DomainChat,
	string(ChatRoomJoin):    DomainChat,
	string(ChatRoomLeave):   DomainChat,
	string(ChatTypingStart): DomainChat,
	string(ChatTypingStop):  DomainChat,
	string(ChatMessageRead): DomainChat,

	string(PostCreate):        DomainPost,
	string(PostUpdate):        DomainPost,
	string(PostDelete):        DomainPost,
	string(PostLike):          DomainPost,
	string(PostUnlike):        DomainPost,
	string(PostCommentAdd):    DomainPost,
	string(PostCommentDelete): DomainPost,

	string(MarketplaceProductCreate): DomainMarketplace,
	string(MarketplaceProductUpdate): DomainMarketplace,
	string(MarketplaceProductDelete): DomainMarketplace,
	string(MarketplaceSearch):        DomainMarketplace,
	string(MarketplaceProductView):   DomainMarketplace,
	string(MarketplaceProductUnview): DomainMarketplace,
}

// Event is a parsed inbound event name.
type Event struct {
	Domain Domain
	Name   string
}

// ParseEvent resolves name against the closed event set. Unknown names keep
// their namespace (when recognisable) so errors are reported in-domain.
func ParseEvent(name string) (Event, bool) {
	if d, ok := knownEvents[name]; ok {
		return Event{Domain: d, Name: name}, true
	}

	ev := Event{Domain: DomainUnknown, Name: name}
	if prefix, _, found := strings.Cut(name, ":"); found {
		switch prefix {
		case "room":
			ev.Domain = DomainRoom
		case "chat":
			ev.Domain = DomainChat
		case "post":
			ev.Domain = DomainPost
		case "marketplace":
			ev.Domain = DomainMarketplace
		}
	}
	return ev, false
}
