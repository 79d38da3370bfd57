package chatdb

import (
	"context"
	"errors"
)

// ErrNotFound reports that the chat.db path does not exist or cannot be read.
var ErrNotFound = errors.New("chat.db not found")

// Message is one row of the `message` table. Text is resolved: when the
// plaintext column is NULL the decoded attributedBody is substituted, so
// callers never see the raw blob.
type Message struct {
	RowID                 int64   `json:"rowid"`
	GUID                  string  `json:"guid"`
	Text                  *string `json:"text"`
	HandleID              int64   `json:"handle_id"`
	DateUnix              float64 `json:"date_unix"` // Unix seconds
	IsFromMe              bool    `json:"is_from_me"`
	CacheRoomnames        *string `json:"cache_roomnames"`
	AssociatedMessageGUID *string `json:"associated_message_guid"`
	AssociatedMessageType *int64  `json:"associated_message_type"`
}

// IsReaction reports whether the row is a tapback rather than an ordinary
// message: associated_message_type set and non-zero.
func (m *Message) IsReaction() bool {
	return m.AssociatedMessageType != nil && *m.AssociatedMessageType != 0
}

// Handle is one row of the `handle` table: a contact identity.
type Handle struct {
	RowID             int64   `json:"rowid"`
	ID                string  `json:"id"` // phone number or email address
	Service           string  `json:"service"`
	UncanonicalizedID *string `json:"uncanonicalized_id"`
}

// Chat is one row of the `chat` table: a conversation.
type Chat struct {
	RowID          int64   `json:"rowid"`
	GUID           string  `json:"guid"`
	ChatIdentifier string  `json:"chat_identifier"`
	DisplayName    *string `json:"display_name"`
	GroupID        *string `json:"group_id"`
}

// ChatMessage pairs a message with the chat it belongs to, via
// chat_message_join. Used by the response-latency pairing.
type ChatMessage struct {
	ChatID int64 `json:"chat_id"`
	Message
}

// Store is the read-only query surface over a chat.db file.
type Store interface {
	// ListMessages returns messages newest-first. `since` (Unix seconds,
	// inclusive) and `limit` are optional. Reactions are NOT filtered here.
	ListMessages(ctx context.Context, since *float64, limit *int) ([]Message, error)

	// ListHandles returns all handles ordered by address ascending.
	ListHandles(ctx context.Context) ([]Handle, error)

	// ListChats returns all chats ordered by ROWID ascending.
	ListChats(ctx context.Context) ([]Chat, error)

	// ListChatMessages returns all messages joined to the given chat,
	// oldest-first.
	ListChatMessages(ctx context.Context, chatID int64) ([]Message, error)

	// ListMessagesByChat returns every chat/message pair ordered by chat id
	// then native timestamp ascending. This is the only aggregate feed the
	// store exposes; there is no SQL passthrough.
	ListMessagesByChat(ctx context.Context) ([]ChatMessage, error)
}
