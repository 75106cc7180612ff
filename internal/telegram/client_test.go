package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-cloner/internal/channelref"
	"github.com/blockedby/tg-cloner/internal/logger"
)

// invokerFunc answers raw RPC calls in tests.
type invokerFunc func(ctx context.Context, input bin.Encoder, output bin.Decoder) error

func (f invokerFunc) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	return f(ctx, input, output)
}

// reply encodes resp the way the server would and decodes it into output.
func reply(output bin.Decoder, resp bin.Encoder) error {
	var b bin.Buffer
	if err := resp.Encode(&b); err != nil {
		return err
	}
	return output.Decode(&b)
}

func newTestClient(kind SessionKind, inv invokerFunc) *Client {
	return &Client{
		raw:          tg.NewClient(inv),
		kind:         kind,
		rateLimiter:  NewRateLimiter(1000, 10),
		mediaTimeout: time.Second,
		log:          logger.Nop(),
	}
}

func testChannel(id int64, username, title string) *tg.Channel {
	return &tg.Channel{
		ID:         id,
		AccessHash: id * 10,
		Title:      title,
		Username:   username,
		Photo:      &tg.ChatPhotoEmpty{},
	}
}

func TestClient_API_UnauthorizedError(t *testing.T) {
	client := NewClient(nil, SessionUser, time.Second)

	api, err := client.API()

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, api)
}

func TestClient_Resolve_UnauthorizedError(t *testing.T) {
	client := NewClient(nil, SessionUser, time.Second)

	peer, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindUsername, Username: "@testchannel"})

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, peer)
}

func TestClient_Resolve_Username(t *testing.T) {
	var requested string
	client := newTestClient(SessionUser, func(_ context.Context, input bin.Encoder, output bin.Decoder) error {
		req, ok := input.(*tg.ContactsResolveUsernameRequest)
		require.True(t, ok, "unexpected request %T", input)
		requested = req.Username
		return reply(output, &tg.ContactsResolvedPeer{
			Peer:  &tg.PeerChannel{ChannelID: 77},
			Chats: []tg.ChatClass{testChannel(77, "news_channel", "News")},
		})
	})

	peer, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindUsername, Username: "@news_channel"})
	require.NoError(t, err)

	assert.Equal(t, "news_channel", requested, "@ must be stripped")
	assert.Equal(t, int64(77), peer.ID)
	assert.Equal(t, int64(770), peer.AccessHash)
	assert.Equal(t, PeerChannel, peer.Kind)
	assert.Equal(t, "News", peer.Title)
}

func TestClient_Resolve_NotFound(t *testing.T) {
	client := newTestClient(SessionUser, func(context.Context, bin.Encoder, bin.Decoder) error {
		return tgerr.New(400, "USERNAME_NOT_OCCUPIED")
	})

	_, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindUsername, Username: "@missing_one"})

	require.Error(t, err)
	assert.Equal(t, ResultNotFound, Classify(err).Kind)
}

func TestClient_Resolve_Invite(t *testing.T) {
	tests := []struct {
		name    string
		invite  tg.ChatInviteClass
		wantErr error
	}{
		{
			name:   "already joined",
			invite: &tg.ChatInviteAlready{Chat: testChannel(5, "", "Private")},
		},
		{
			name:   "peek",
			invite: &tg.ChatInvitePeek{Chat: testChannel(5, "", "Private"), Expires: 100},
		},
		{
			name:    "not a member",
			invite:  &tg.ChatInvite{Title: "Private", Photo: &tg.PhotoEmpty{}},
			wantErr: ErrNotMember,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(SessionUser, func(_ context.Context, input bin.Encoder, output bin.Decoder) error {
				req, ok := input.(*tg.MessagesCheckChatInviteRequest)
				require.True(t, ok, "unexpected request %T", input)
				assert.Equal(t, "AbCdEf", req.Hash)
				return reply(output, tt.invite)
			})

			peer, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindInvite, Invite: "+AbCdEf"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(5), peer.ID)
		})
	}
}

func TestClient_Resolve_ChannelIDAsBot(t *testing.T) {
	client := newTestClient(SessionBot, func(_ context.Context, input bin.Encoder, output bin.Decoder) error {
		req, ok := input.(*tg.ChannelsGetChannelsRequest)
		require.True(t, ok, "unexpected request %T", input)
		require.Len(t, req.ID, 1)
		ch, ok := req.ID[0].(*tg.InputChannel)
		require.True(t, ok)
		assert.Equal(t, int64(1234567890), ch.ChannelID)
		return reply(output, &tg.MessagesChats{
			Chats: []tg.ChatClass{testChannel(1234567890, "", "Target")},
		})
	})

	peer, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindID, ID: -1001234567890})
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), peer.MarkedID())
}

func TestClient_Resolve_ChannelIDFromDialogs(t *testing.T) {
	client := newTestClient(SessionUser, func(_ context.Context, input bin.Encoder, output bin.Decoder) error {
		if _, ok := input.(*tg.MessagesGetDialogsRequest); !ok {
			return fmt.Errorf("unexpected request %T", input)
		}
		return reply(output, &tg.MessagesDialogs{
			Chats: []tg.ChatClass{
				testChannel(1, "other", "Other"),
				testChannel(42, "", "Wanted"),
			},
		})
	})

	peer, err := client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindID, ID: channelref.MarkChannelID(42)})
	require.NoError(t, err)
	assert.Equal(t, "Wanted", peer.Title)

	_, err = client.Resolve(context.Background(), channelref.Ref{Kind: channelref.KindID, ID: channelref.MarkChannelID(99)})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

// historyServer serves a channel history the way telegram does: a window of
// ids >= offset_id when add_offset is -limit, newest first.
type historyServer struct {
	messages []tg.MessageClass
	calls    int
}

func newHistoryServer(last int, serviceIDs ...int) *historyServer {
	service := map[int]bool{}
	for _, id := range serviceIDs {
		service[id] = true
	}

	s := &historyServer{}
	for id := 1; id <= last; id++ {
		if service[id] {
			s.messages = append(s.messages, &tg.MessageService{
				ID:     id,
				PeerID: &tg.PeerChannel{ChannelID: 1},
				Action: &tg.MessageActionChatEditTitle{Title: "renamed"},
			})
			continue
		}
		s.messages = append(s.messages, &tg.Message{
			ID:      id,
			PeerID:  &tg.PeerChannel{ChannelID: 1},
			Message: fmt.Sprintf("message %d", id),
			Date:    1700000000 + id,
		})
	}
	return s
}

func (s *historyServer) invoke(_ context.Context, input bin.Encoder, output bin.Decoder) error {
	req, ok := input.(*tg.MessagesGetHistoryRequest)
	if !ok {
		return fmt.Errorf("unexpected request %T", input)
	}
	s.calls++
	if req.AddOffset != -req.Limit {
		return fmt.Errorf("expected add_offset=-limit, got %d", req.AddOffset)
	}

	var window []tg.MessageClass
	for _, m := range s.messages {
		id := m.GetID()
		if id >= req.OffsetID && id > req.MinID && len(window) < req.Limit {
			window = append(window, m)
		}
	}
	sort.Slice(window, func(i, j int) bool { return window[i].GetID() > window[j].GetID() })

	return reply(output, &tg.MessagesChannelMessages{
		Count:    len(s.messages),
		Messages: window,
	})
}

func TestClient_Messages_AscendingAcrossPages(t *testing.T) {
	server := newHistoryServer(250, 5)
	client := newTestClient(SessionUser, server.invoke)
	peer := &Peer{ID: 1, AccessHash: 10}

	msgs, err := client.Messages(context.Background(), peer, 0, 0)
	require.NoError(t, err)

	require.Len(t, msgs, 249, "service message must be dropped")
	assert.Equal(t, 1, msgs[0].ID)
	assert.Equal(t, 250, msgs[len(msgs)-1].ID)
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].ID, msgs[i].ID)
	}
	assert.Equal(t, 3, server.calls)
	assert.Equal(t, "message 1", msgs[0].Text)
	assert.Equal(t, int64(1), msgs[0].ChannelID)
}

func TestClient_Messages_AfterIDAndLimit(t *testing.T) {
	tests := []struct {
		name      string
		afterID   int
		limit     int
		wantCount int
		wantFirst int
		wantLast  int
	}{
		{name: "limit inside first page", afterID: 100, limit: 30, wantCount: 30, wantFirst: 101, wantLast: 130},
		{name: "limit across pages", afterID: 0, limit: 150, wantCount: 150, wantFirst: 1, wantLast: 150},
		{name: "resume near the end", afterID: 240, limit: 0, wantCount: 10, wantFirst: 241, wantLast: 250},
		{name: "nothing new", afterID: 250, limit: 0, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(SessionUser, newHistoryServer(250).invoke)

			msgs, err := client.Messages(context.Background(), &Peer{ID: 1}, tt.afterID, tt.limit)
			require.NoError(t, err)
			require.Len(t, msgs, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, tt.wantFirst, msgs[0].ID)
				assert.Equal(t, tt.wantLast, msgs[len(msgs)-1].ID)
			}
		})
	}
}

func TestClient_Messages_Error(t *testing.T) {
	client := newTestClient(SessionUser, func(context.Context, bin.Encoder, bin.Decoder) error {
		return tgerr.New(400, "CHANNEL_PRIVATE")
	})

	_, err := client.Messages(context.Background(), &Peer{ID: 1}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, ResultNotFound, Classify(err).Kind)
}

func TestClient_SendText(t *testing.T) {
	var sent *tg.MessagesSendMessageRequest
	client := newTestClient(SessionUser, func(_ context.Context, input bin.Encoder, output bin.Decoder) error {
		req, ok := input.(*tg.MessagesSendMessageRequest)
		require.True(t, ok, "unexpected request %T", input)
		sent = req
		return reply(output, &tg.Updates{Date: 1})
	})

	entities := []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 5}}
	res := client.SendText(context.Background(), &Peer{ID: 2, AccessHash: 20}, Message{Text: "hello", Entities: entities})

	require.True(t, res.OK(), res.String())
	require.NotNil(t, sent)
	assert.Equal(t, "hello", sent.Message)
	assert.Equal(t, entities, sent.Entities)
	assert.NotZero(t, sent.RandomID)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 2, AccessHash: 20}, sent.Peer)
}

func TestClient_SendText_FloodWait(t *testing.T) {
	client := newTestClient(SessionUser, func(context.Context, bin.Encoder, bin.Decoder) error {
		return tgerr.New(420, "FLOOD_WAIT_3")
	})

	res := client.SendText(context.Background(), &Peer{ID: 2}, Message{Text: "hello"})

	assert.Equal(t, ResultFloodWait, res.Kind)
	assert.Equal(t, 3*time.Second, res.Wait)
	assert.Greater(t, client.rateLimiter.Remaining(), time.Duration(0))
}

func TestClient_SendMedia(t *testing.T) {
	var sent *tg.MessagesSendMediaRequest
	client := newTestClient(SessionUser, func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "media sends must be bounded")
		req, ok := input.(*tg.MessagesSendMediaRequest)
		require.True(t, ok, "unexpected request %T", input)
		sent = req
		return reply(output, &tg.Updates{Date: 1})
	})

	media := &Media{Kind: MediaPhoto, Input: &tg.InputMediaPhoto{ID: &tg.InputPhoto{ID: 1, AccessHash: 2}}}
	res := client.SendMedia(context.Background(), &Peer{ID: 2}, Message{Text: "caption", Media: media})

	require.True(t, res.OK(), res.String())
	assert.Equal(t, "caption", sent.Message)
	assert.Equal(t, media.Input, sent.Media)
}

func TestClient_SendMedia_Unsupported(t *testing.T) {
	called := false
	client := newTestClient(SessionUser, func(context.Context, bin.Encoder, bin.Decoder) error {
		called = true
		return nil
	})

	res := client.SendMedia(context.Background(), &Peer{ID: 2}, Message{Text: "poll", Media: &Media{Kind: MediaOther}})

	assert.Equal(t, ResultFailed, res.Kind)
	assert.True(t, errors.Is(res.Err, ErrUnsupportedMedia))
	assert.False(t, called)
}
