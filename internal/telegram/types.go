package telegram

import (
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-cloner/internal/channelref"
)

// Message represents a parsed telegram message
type Message struct {
	ID        int                     // message id (unique within channel, increasing)
	ChannelID int64                   // channel id
	Text      string                  // message text or media caption
	Entities  []tg.MessageEntityClass // formatting of Text
	Date      time.Time               // message creation timestamp
	Media     *Media                  // nil for text-only messages
}

// HasText reports whether the message carries a non-empty body.
func (m Message) HasText() bool {
	return m.Text != ""
}

// IsEmpty reports a message with neither text nor media.
func (m Message) IsEmpty() bool {
	return m.Text == "" && m.Media == nil
}

// MediaKind labels the media attached to a message.
type MediaKind string

// MediaKind values.
const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "media"
)

// Media is a re-sendable reference to message media.
type Media struct {
	Kind  MediaKind
	Input tg.InputMediaClass // nil when the media type cannot be re-sent
}

// PeerKind tells which input peer constructor a Peer needs.
type PeerKind int

// PeerKind values.
const (
	PeerChannel PeerKind = iota
	PeerChat
	PeerUser
)

// Peer represents a resolved channel or group
type Peer struct {
	ID         int64    // bare id
	AccessHash int64    // access hash for api calls, unused for basic groups
	Kind       PeerKind // channel/supergroup, basic group or user
	Username   string   // username without @, may be empty
	Title      string   // channel title
}

// InputPeer builds the peer reference used in API requests.
func (p *Peer) InputPeer() tg.InputPeerClass {
	switch p.Kind {
	case PeerChat:
		return &tg.InputPeerChat{ChatID: p.ID}
	case PeerUser:
		return &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
	}
	return &tg.InputPeerChannel{
		ChannelID:  p.ID,
		AccessHash: p.AccessHash,
	}
}

// MarkedID returns the id in the -100... form users see in clients.
func (p *Peer) MarkedID() int64 {
	switch p.Kind {
	case PeerChat:
		return -p.ID
	case PeerUser:
		return p.ID
	}
	return channelref.MarkChannelID(p.ID)
}

// DisplayName returns the title, falling back to username or id.
func (p *Peer) DisplayName() string {
	switch {
	case p.Title != "":
		return p.Title
	case p.Username != "":
		return "@" + p.Username
	default:
		return channelref.Ref{Kind: channelref.KindID, ID: p.MarkedID()}.String()
	}
}

// SessionKind selects which account a client is logged in as.
type SessionKind int

// SessionKind values.
const (
	SessionUser SessionKind = iota
	SessionBot
)

func (k SessionKind) String() string {
	if k == SessionBot {
		return "bot"
	}
	return "user"
}
