// Package channelref parses user-supplied channel references (usernames, numeric IDs,
// invite links and t.me URLs) into a canonical form.
package channelref

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidChannel is returned when input is neither a valid username,
// a numeric id nor an invite token.
var ErrInvalidChannel = errors.New("invalid channel identifier")

// Kind tells how a Ref addresses its channel.
type Kind int

// Kind values.
const (
	KindUsername Kind = iota
	KindID
	KindInvite
)

func (k Kind) String() string {
	switch k {
	case KindUsername:
		return "username"
	case KindID:
		return "id"
	case KindInvite:
		return "invite"
	default:
		return "unknown"
	}
}

// Ref is a normalized channel reference.
type Ref struct {
	Kind     Kind
	Username string // with @ prefix, KindUsername only
	ID       int64  // marked id (-100... for channels), KindID only
	Invite   string // with + prefix, KindInvite only
}

// String returns the canonical textual form: "@name", "-100123" or "+hash".
func (r Ref) String() string {
	switch r.Kind {
	case KindID:
		return strconv.FormatInt(r.ID, 10)
	case KindInvite:
		return r.Invite
	default:
		return r.Username
	}
}

// IsChannelID reports whether the reference is a numeric id.
func (r Ref) IsChannelID() bool {
	return r.Kind == KindID
}

// InviteHash returns the invite token without the leading +.
func (r Ref) InviteHash() string {
	return strings.TrimPrefix(r.Invite, "+")
}

// username rules: 5-32 chars, starts with a letter
var usernameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{4,31}$`)

// ValidUsername checks telegram username rules. A leading @ is ignored.
func ValidUsername(username string) bool {
	name := strings.TrimPrefix(username, "@")
	if !usernameRe.MatchString(name) {
		return false
	}
	if strings.HasSuffix(name, "_") {
		return false
	}
	return !strings.Contains(name, "__")
}

// IsChannelID reports whether raw text is a numeric channel id.
func IsChannelID(raw string) bool {
	_, ok := parseNumeric(strings.TrimSpace(raw))
	return ok
}

// Parse normalizes raw user input into a Ref.
func Parse(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, ErrInvalidChannel
	}

	if id, ok := parseNumeric(s); ok {
		return Ref{Kind: KindID, ID: id}, nil
	}

	if rest, ok := cutLinkHost(s); ok {
		ref, done, err := parseLinkPath(rest)
		if done {
			return ref, err
		}
		s = ref.Username
	}

	if strings.HasPrefix(s, "+") {
		if len(s) == 1 {
			return Ref{}, ErrInvalidChannel
		}
		return Ref{Kind: KindInvite, Invite: s}, nil
	}

	if !strings.HasPrefix(s, "@") {
		s = "@" + s
	}
	if !ValidUsername(s) {
		return Ref{}, ErrInvalidChannel
	}
	return Ref{Kind: KindUsername, Username: s}, nil
}

// parseNumeric accepts an optional single leading '-' followed by digits.
func parseNumeric(s string) (int64, bool) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// cutLinkHost strips scheme and t.me host, returning the path part.
func cutLinkHost(s string) (string, bool) {
	for _, host := range []string{"t.me/", "telegram.me/", "telegram.dog/"} {
		if idx := strings.Index(s, host); idx >= 0 {
			rest := s[idx+len(host):]
			if q := strings.IndexAny(rest, "?#"); q >= 0 {
				rest = rest[:q]
			}
			return strings.Trim(rest, "/"), true
		}
	}
	return "", false
}

// parseLinkPath handles the path of a t.me link. done=false means the
// returned Ref.Username holds a bare name still to be validated.
func parseLinkPath(path string) (ref Ref, done bool, err error) {
	segments := strings.Split(path, "/")
	first := segments[0]

	switch {
	case first == "":
		return Ref{}, true, ErrInvalidChannel
	case strings.HasPrefix(first, "+"):
		if len(first) == 1 {
			return Ref{}, true, ErrInvalidChannel
		}
		return Ref{Kind: KindInvite, Invite: first}, true, nil
	case first == "joinchat":
		if len(segments) < 2 || segments[1] == "" {
			return Ref{}, true, ErrInvalidChannel
		}
		return Ref{Kind: KindInvite, Invite: "+" + segments[1]}, true, nil
	case first == "c":
		// private channel link: t.me/c/<channel id>/<message id>
		if len(segments) < 2 {
			return Ref{}, true, ErrInvalidChannel
		}
		id, ok := parseNumeric(segments[1])
		if !ok || id <= 0 {
			return Ref{}, true, ErrInvalidChannel
		}
		return Ref{Kind: KindID, ID: MarkChannelID(id)}, true, nil
	case first == "s" && len(segments) > 1:
		// public preview link: t.me/s/<name>
		return Ref{Username: segments[1]}, false, nil
	}
	return Ref{Username: first}, false, nil
}

// channelIDOffset is the prefix telegram clients use for marked channel ids.
const channelIDOffset int64 = 1000000000000

// MarkChannelID converts a bare channel id into its -100... marked form.
func MarkChannelID(id int64) int64 {
	return -(channelIDOffset + id)
}

// UnmarkID splits a marked id into its bare value. isChannel is true for
// -100... ids, isChat for other negative ids. Positive ids are returned as is
// and treated as channels.
func UnmarkID(marked int64) (id int64, isChannel, isChat bool) {
	switch {
	case marked <= -channelIDOffset:
		return -marked - channelIDOffset, true, false
	case marked < 0:
		return -marked, false, true
	default:
		return marked, true, false
	}
}
