package cloner

import (
	"context"

	"github.com/blockedby/tg-cloner/internal/telegram"
)

// deliver sends one message, retrying failures. Flood waits are slept off
// without using up an attempt. A non-nil error means ctx was canceled while
// waiting and the message was abandoned.
func (r *run) deliver(ctx context.Context, msg telegram.Message) (outcome, error) {
	if r.skippable(msg) {
		r.log.Debug().Int("message_id", msg.ID).Msg("nothing to send, skipping message")
		return outcomeSkipped, nil
	}

	attempts := r.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; {
		res := r.send(ctx, msg)

		switch res.Kind {
		case telegram.ResultOK:
			r.log.Debug().Int("message_id", msg.ID).Msg("message sent")
			return outcomeSent, nil

		case telegram.ResultFloodWait:
			r.log.Warn().Int("message_id", msg.ID).Dur("wait", res.Wait).Msg("rate limited, waiting")
			if err := r.sleep(ctx, res.Wait); err != nil {
				return outcomeFailed, err
			}

		default:
			r.log.Warn().
				Err(res.Err).
				Int("message_id", msg.ID).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Msg("send attempt failed")
			if attempt < attempts {
				if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
					return outcomeFailed, err
				}
			}
			attempt++
		}
	}

	r.log.Error().Int("message_id", msg.ID).Int("attempts", attempts).Msg("failed to send message")
	return outcomeFailed, nil
}

// skippable reports messages with nothing to send: no text and no media,
// or media only while media sending is off.
func (r *run) skippable(msg telegram.Message) bool {
	if msg.IsEmpty() {
		return true
	}
	return msg.Media != nil && !r.cfg.DownloadMedia && !msg.HasText()
}

// send makes one attempt. Sends are not canceled midway: an interrupt is
// honoured between messages. With a bot session the bot goes first and
// any bot failure is retried once right away through the user session.
// The bot gets no text-only fallback: media references come from the user
// session and are often refused to the bot, so the user session gets the
// chance to post the media before the caption goes out alone.
func (r *run) send(ctx context.Context, msg telegram.Message) telegram.Result {
	sendCtx := context.WithoutCancel(ctx)

	if r.bot == nil {
		return r.sendVia(sendCtx, r.user, r.target, msg, true)
	}

	res := r.sendVia(sendCtx, r.bot, r.botPeer, msg, false)
	if res.OK() {
		return res
	}
	r.log.Warn().Int("message_id", msg.ID).Str("result", res.String()).Msg("bot send failed, falling back to user session")
	return r.sendVia(sendCtx, r.user, r.target, msg, true)
}

// sendVia posts msg through one session. Media goes with its caption; with
// textFallback set, a media failure other than flood control sends the
// text alone.
func (r *run) sendVia(ctx context.Context, s Session, peer *telegram.Peer, msg telegram.Message, textFallback bool) telegram.Result {
	if msg.Media == nil || !r.cfg.DownloadMedia {
		return s.SendText(ctx, peer, msg)
	}

	res := s.SendMedia(ctx, peer, msg)
	if res.OK() || !textFallback || res.Kind == telegram.ResultFloodWait || !msg.HasText() {
		return res
	}

	r.log.Warn().
		Err(res.Err).
		Int("message_id", msg.ID).
		Str("media", string(msg.Media.Kind)).
		Msg("media send failed, sending text only")
	return s.SendText(ctx, peer, msg)
}
