// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-cloner/internal/channelref"
	"github.com/blockedby/tg-cloner/internal/logger"
)

// historyPageSize is the telegram api cap for one history call.
const historyPageSize = 100

// Client wraps gotgproto client and provides high-level telegram operations.
type Client struct {
	proto        *gotgproto.Client
	raw          *tg.Client // set directly in tests, otherwise taken from proto
	kind         SessionKind
	rateLimiter  *RateLimiter
	mediaTimeout time.Duration
	log          *logger.Logger
}

// NewClient wraps a connected gotgproto client.
func NewClient(proto *gotgproto.Client, kind SessionKind, mediaTimeout time.Duration) *Client {
	return &Client{
		proto:        proto,
		kind:         kind,
		rateLimiter:  DefaultRateLimiter(),
		mediaTimeout: mediaTimeout,
		log:          logger.Get(),
	}
}

// Kind reports which account the client is logged in as.
func (c *Client) Kind() SessionKind {
	return c.kind
}

// Close stops the underlying protocol client.
func (c *Client) Close() {
	if c.proto != nil {
		c.proto.Stop()
	}
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	if c.proto == nil {
		return nil, ErrNotAuthorized
	}
	return c.proto.API(), nil
}

// Resolve looks up the channel or group a reference points to.
func (c *Client) Resolve(ctx context.Context, ref channelref.Ref) (*Peer, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("ref", ref.String()).Str("session", c.kind.String()).Msg("telegram: resolving peer")

	var peer *Peer
	switch ref.Kind {
	case channelref.KindID:
		peer, err = c.resolveID(ctx, api, ref.ID)
	case channelref.KindInvite:
		peer, err = c.resolveInvite(ctx, api, ref.InviteHash())
	default:
		peer, err = c.resolveUsername(ctx, api, ref.Username)
	}
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}

	c.log.Debug().Str("ref", ref.String()).Int64("peer_id", peer.ID).Str("title", peer.Title).Msg("telegram: peer resolved")
	return peer, nil
}

func (c *Client) resolveUsername(ctx context.Context, api *tg.Client, username string) (*Peer, error) {
	name := trimAt(username)
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: name,
	})
	if err != nil {
		return nil, err
	}

	for _, chat := range resolved.Chats {
		if p, ok := peerFromChat(chat); ok {
			return p, nil
		}
	}
	for _, user := range resolved.Users {
		if u, ok := user.(*tg.User); ok {
			return &Peer{
				ID:         u.ID,
				AccessHash: u.AccessHash,
				Kind:       PeerUser,
				Username:   u.Username,
				Title:      u.FirstName,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: @%s", ErrChannelNotFound, name)
}

// resolveID finds a channel by its marked id. Bots can fetch channels with a
// zero access hash; users need the entity from their dialog list.
func (c *Client) resolveID(ctx context.Context, api *tg.Client, marked int64) (*Peer, error) {
	id, isChannel, _ := channelref.UnmarkID(marked)

	if !isChannel {
		chats, err := api.MessagesGetChats(ctx, []int64{id})
		if err != nil {
			return nil, err
		}
		return firstPeer(chats, marked)
	}

	if c.kind == SessionBot {
		chats, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
			&tg.InputChannel{ChannelID: id},
		})
		if err != nil {
			return nil, err
		}
		return firstPeer(chats, marked)
	}

	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      historyPageSize,
	})
	if err != nil {
		return nil, err
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	for _, chat := range chats {
		if p, ok := peerFromChat(chat); ok && p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %d is not among recent dialogs, try the @username", ErrChannelNotFound, marked)
}

func (c *Client) resolveInvite(ctx context.Context, api *tg.Client, hash string) (*Peer, error) {
	invite, err := api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return nil, err
	}

	var chat tg.ChatClass
	switch inv := invite.(type) {
	case *tg.ChatInviteAlready:
		chat = inv.Chat
	case *tg.ChatInvitePeek:
		chat = inv.Chat
	default:
		return nil, ErrNotMember
	}

	p, ok := peerFromChat(chat)
	if !ok {
		return nil, ErrNotAChannel
	}
	return p, nil
}

func firstPeer(chats tg.MessagesChatsClass, marked int64) (*Peer, error) {
	var list []tg.ChatClass
	switch c := chats.(type) {
	case *tg.MessagesChats:
		list = c.Chats
	case *tg.MessagesChatsSlice:
		list = c.Chats
	}
	for _, chat := range list {
		if p, ok := peerFromChat(chat); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, marked)
}

// peerFromChat converts accessible chats. Forbidden chats report false.
func peerFromChat(chat tg.ChatClass) (*Peer, bool) {
	switch ch := chat.(type) {
	case *tg.Channel:
		return &Peer{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Kind:       PeerChannel,
			Username:   ch.Username,
			Title:      ch.Title,
		}, true
	case *tg.Chat:
		return &Peer{
			ID:    ch.ID,
			Kind:  PeerChat,
			Title: ch.Title,
		}, true
	}
	return nil, false
}

// Messages returns messages with id > afterID in ascending id order. limit
// caps the total; 0 means everything. Service messages are dropped.
func (c *Client) Messages(ctx context.Context, peer *Peer, afterID, limit int) ([]Message, error) {
	var out []Message
	cursor := afterID + 1

	for {
		want := historyPageSize
		if limit > 0 {
			remaining := limit - len(out)
			if remaining <= 0 {
				break
			}
			if remaining < want {
				want = remaining
			}
		}

		page, err := c.historyPage(ctx, peer, cursor, afterID, want)
		if err != nil {
			return nil, err
		}
		if page.raw == 0 {
			break
		}

		for _, m := range page.messages {
			if m.ID < cursor {
				continue
			}
			out = append(out, m)
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}

		if page.maxID < cursor || page.raw < want {
			break
		}
		cursor = page.maxID + 1
	}

	c.log.Info().Int64("channel_id", peer.ID).Int("after_id", afterID).Int("count", len(out)).Msg("telegram: history fetched")
	return out, nil
}

type historyPage struct {
	messages []Message // ascending by id
	raw      int       // messages returned by the api, service ones included
	maxID    int
}

// historyPage fetches up to limit messages with id >= cursor. A negative
// add_offset turns offset_id into the lower bound of the window.
func (c *Client) historyPage(ctx context.Context, peer *Peer, cursor, minID, limit int) (historyPage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return historyPage{}, err
	}

	api, err := c.API()
	if err != nil {
		return historyPage{}, err
	}

	c.log.Debug().Int64("channel_id", peer.ID).Int("offset_id", cursor).Int("limit", limit).Msg("telegram: calling MessagesGetHistory API")
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      peer.InputPeer(),
		OffsetID:  cursor,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     minID,
	})
	if err != nil {
		c.noteFloodWait(err)
		c.log.Error().Err(err).Int("offset_id", cursor).Msg("telegram: MessagesGetHistory failed")
		return historyPage{}, fmt.Errorf("get history: %w", err)
	}

	return extractMessages(history, peer), nil
}

// extractMessages converts telegram message response to our Message type
func extractMessages(messagesClass tg.MessagesMessagesClass, peer *Peer) historyPage {
	var raw []tg.MessageClass
	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	}

	page := historyPage{raw: len(raw)}
	for _, msg := range raw {
		if id := msg.GetID(); id > page.maxID {
			page.maxID = id
		}
		if m := parseMessage(msg, peer); m != nil {
			page.messages = append(page.messages, *m)
		}
	}

	sort.Slice(page.messages, func(i, j int) bool {
		return page.messages[i].ID < page.messages[j].ID
	})
	return page
}

// parseMessage converts a single telegram message to our Message type
func parseMessage(msg tg.MessageClass, peer *Peer) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	return &Message{
		ID:        m.ID,
		ChannelID: peer.ID,
		Text:      m.Message,
		Entities:  m.Entities,
		Date:      time.Unix(int64(m.Date), 0),
		Media:     convertMedia(m.Media),
	}
}

// SendText posts msg.Text with its formatting to peer.
func (c *Client) SendText(ctx context.Context, peer *Peer, msg Message) Result {
	api, err := c.API()
	if err != nil {
		return Failed(err)
	}

	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer.InputPeer(),
		Message:  msg.Text,
		Entities: msg.Entities,
		RandomID: randomID(),
	})
	return c.result(err)
}

// SendMedia re-posts the message media with its text as caption. The call is
// bounded by the media timeout.
func (c *Client) SendMedia(ctx context.Context, peer *Peer, msg Message) Result {
	if msg.Media == nil || msg.Media.Input == nil {
		return Failed(ErrUnsupportedMedia)
	}

	api, err := c.API()
	if err != nil {
		return Failed(err)
	}

	if c.mediaTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.mediaTimeout)
		defer cancel()
	}

	_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer.InputPeer(),
		Media:    msg.Media.Input,
		Message:  msg.Text,
		Entities: msg.Entities,
		RandomID: randomID(),
	})
	return c.result(err)
}

func (c *Client) result(err error) Result {
	res := Classify(err)
	if res.Kind == ResultFloodWait {
		c.log.Warn().Dur("wait", res.Wait).Str("session", c.kind.String()).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		c.rateLimiter.SetFloodWait(res.Wait)
	}
	return res
}

func (c *Client) noteFloodWait(err error) {
	if res := Classify(err); res.Kind == ResultFloodWait {
		c.log.Warn().Dur("wait", res.Wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		c.rateLimiter.SetFloodWait(res.Wait)
	}
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func trimAt(username string) string {
	if len(username) > 0 && username[0] == '@' {
		return username[1:]
	}
	return username
}
