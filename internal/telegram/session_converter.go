package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// sessionFileVersion is the envelope version gotd's session loader expects.
const sessionFileVersion = 1

// ConvertToGotgprotoSession wraps gotd session.Data into the row gotgproto
// keeps in its sessions table. The row holds the same {"Version","Data"}
// envelope gotd's session.Loader writes to any storage.
func ConvertToGotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(struct {
		Version int
		Data    session.Data
	}{
		Version: sessionFileVersion,
		Data:    *data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}
