package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// errors returned by the client
var (
	ErrNotAuthorized    = errors.New("telegram client not authorized")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrNotAChannel      = errors.New("specified peer is not a channel or group")
	ErrNotMember        = errors.New("invite link points to a chat the account has not joined")
	ErrUnsupportedMedia = errors.New("media type cannot be re-sent")
)

// rpc error types meaning the peer does not exist or is not reachable
var notFoundTypes = []string{
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
	"CHAT_ID_INVALID",
	"PEER_ID_INVALID",
	"INVITE_HASH_INVALID",
	"INVITE_HASH_EXPIRED",
}

// ResultKind discriminates the outcome of a remote call.
type ResultKind int

// ResultKind values.
const (
	ResultOK ResultKind = iota
	ResultFloodWait
	ResultNotFound
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultFloodWait:
		return "flood_wait"
	case ResultNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Result is the outcome of a send. Wait is set for ResultFloodWait, Err for
// everything but ResultOK.
type Result struct {
	Kind ResultKind
	Wait time.Duration
	Err  error
}

// OK reports a successful call.
func (r Result) OK() bool {
	return r.Kind == ResultOK
}

func (r Result) String() string {
	switch r.Kind {
	case ResultOK:
		return "ok"
	case ResultFloodWait:
		return fmt.Sprintf("flood_wait(%s)", r.Wait)
	default:
		return fmt.Sprintf("%s: %v", r.Kind, r.Err)
	}
}

// Failed wraps err into a ResultFailed.
func Failed(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}

// FloodWait builds a flood-control result.
func FloodWait(d time.Duration) Result {
	return Result{Kind: ResultFloodWait, Wait: d, Err: fmt.Errorf("flood wait %s", d)}
}

// Classify maps an error from the telegram API to a Result.
func Classify(err error) Result {
	if err == nil {
		return Result{Kind: ResultOK}
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return Result{Kind: ResultFloodWait, Wait: d, Err: err}
	}
	if secs := checkFloodWait(err); secs > 0 {
		return Result{Kind: ResultFloodWait, Wait: time.Duration(secs) * time.Second, Err: err}
	}
	if errors.Is(err, ErrChannelNotFound) || tgerr.Is(err, notFoundTypes...) {
		return Result{Kind: ResultNotFound, Err: err}
	}
	return Result{Kind: ResultFailed, Err: err}
}

// checkFloodWait checks if error text carries a FLOOD_WAIT_X marker and
// returns wait seconds. Covers errors that lost their rpc type on the way.
func checkFloodWait(err error) int {
	if err == nil {
		return 0
	}

	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}
	// format is usually "rpc error code 420: FLOOD_WAIT_15"
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	return seconds
}
