package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action tells the sync worker what to do with the mirror.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
	ActionPurge  Action = "purge"
)

// EntrySyncMessage is a lightweight pointer to a ledger change. Upserts carry
// only the ID and version; the worker fetches the row from the database.
type EntrySyncMessage struct {
	Action    Action    `json:"action"`
	EntryID   int64     `json:"entry_id,omitempty"`
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUpsertMessage(userID string, id, version int64) *EntrySyncMessage {
	return &EntrySyncMessage{Action: ActionUpsert, EntryID: id, UserID: userID, Version: version, Timestamp: time.Now()}
}

func NewDeleteMessage(userID string, id int64) *EntrySyncMessage {
	return &EntrySyncMessage{Action: ActionDelete, EntryID: id, UserID: userID, Timestamp: time.Now()}
}

func NewPurgeMessage(userID string) *EntrySyncMessage {
	return &EntrySyncMessage{Action: ActionPurge, UserID: userID, Timestamp: time.Now()}
}

// ToJSON converts the message to JSON bytes
func (m *EntrySyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntrySyncMessageFromJSON decodes and checks a message body.
func EntrySyncMessageFromJSON(data []byte) (*EntrySyncMessage, error) {
	var msg EntrySyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Action {
	case ActionUpsert, ActionDelete:
		if msg.EntryID <= 0 {
			return nil, fmt.Errorf("%s message without entry id", msg.Action)
		}
	case ActionPurge:
		if msg.UserID == "" {
			return nil, fmt.Errorf("purge message without user id")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
	return &msg, nil
}
