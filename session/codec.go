package session

import (
	"encoding/json"
	"errors"
)

// ErrCorruptSnapshot is returned when a stored session blob cannot be
// decoded. Callers treat corrupt records the same as absent ones.
var ErrCorruptSnapshot = errors.New("corrupt session snapshot")

// Encode serializes a session snapshot for storage.
func Encode(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	return json.Marshal(sess)
}

// Decode deserializes a stored session snapshot.
func Decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrCorruptSnapshot
	}
	if sess.UserID == "" || sess.SessionID == "" {
		return nil, ErrCorruptSnapshot
	}
	return &sess, nil
}

// reuseMarker is written under the superseded token key during rotation
// so a later presentation of that token can be traced back to its owner.
type reuseMarker struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func encodeReuseMarker(userID, sessionID string) ([]byte, error) {
	return json.Marshal(reuseMarker{UserID: userID, SessionID: sessionID})
}

func decodeReuseMarker(data []byte) (*reuseMarker, error) {
	var m reuseMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrCorruptSnapshot
	}
	if m.UserID == "" {
		return nil, ErrCorruptSnapshot
	}
	return &m, nil
}
