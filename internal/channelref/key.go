package channelref

import (
	"strconv"
	"strings"
)

// CheckpointKey derives the progress-file key for a source/target pair.
//
// Username refs contribute their name without @, numeric refs their id with
// '-' replaced by '_', invites "invite_<hash>". Sides are joined by "_to_".
// The format is kept stable so existing progress files keep resolving.
func CheckpointKey(src, dst Ref) string {
	return keyPart(src) + "_to_" + keyPart(dst)
}

// LegacyKey is the "<source>_<target>" key written by older versions of the
// tool from the raw command-line input.
func LegacyKey(rawSrc, rawDst string) string {
	return strings.TrimSpace(rawSrc) + "_" + strings.TrimSpace(rawDst)
}

func keyPart(r Ref) string {
	switch r.Kind {
	case KindID:
		return strings.ReplaceAll(strconv.FormatInt(r.ID, 10), "-", "_")
	case KindInvite:
		return "invite_" + r.InviteHash()
	default:
		return strings.TrimPrefix(r.Username, "@")
	}
}
