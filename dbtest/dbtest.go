// Package dbtest builds throwaway chat.db files that mirror the Apple
// Messages schema, populated with a deterministic dataset: 3 handles, 2
// chats, 10 messages of which 2 are tapbacks. Tests across packages share
// this fixture so expected counts stay in one place.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/chatpulse/extract/chatdb"
)

// BaseTS is the Unix timestamp of the first fixture message
// (2024-06-15 10:00:00 UTC).
const BaseTS = 1718445600

var schema = []string{
	`CREATE TABLE handle (
		ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		service TEXT NOT NULL DEFAULT 'iMessage',
		uncanonicalized_id TEXT
	)`,
	`CREATE TABLE chat (
		ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL,
		chat_identifier TEXT NOT NULL,
		display_name TEXT,
		group_id TEXT
	)`,
	`CREATE TABLE message (
		ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL,
		text TEXT,
		attributedBody BLOB,
		handle_id INTEGER,
		date INTEGER NOT NULL DEFAULT 0,
		is_from_me INTEGER NOT NULL DEFAULT 0,
		cache_roomnames TEXT,
		associated_message_guid TEXT,
		associated_message_type INTEGER DEFAULT 0
	)`,
	`CREATE TABLE chat_handle_join (
		chat_id INTEGER NOT NULL,
		handle_id INTEGER NOT NULL
	)`,
	`CREATE TABLE chat_message_join (
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL
	)`,
}

// Message is an extra row appended after the canonical dataset. An empty
// Text inserts NULL, which is how attributedBody-only rows look in the wild.
type Message struct {
	GUID           string
	Text           string
	AttributedBody []byte
	HandleID       int64
	UnixTS         float64
	FromMe         bool
	AssociatedType int64
	ChatID         int64 // 0: no chat_message_join row
}

// Create writes a fixture chat.db under tb's temp dir and returns its path.
func Create(tb testing.TB, extra ...Message) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			tb.Fatalf("create fixture schema: %v", err)
		}
	}

	populate(tb, db)

	for _, m := range extra {
		insertMessage(tb, db, m)
	}
	return path
}

func populate(tb testing.TB, db *sql.DB) {
	tb.Helper()

	for _, id := range []string{"+61400111222", "+61400333444", "mate@example.com"} {
		if _, err := db.Exec("INSERT INTO handle (id, service) VALUES (?, 'iMessage')", id); err != nil {
			tb.Fatalf("insert handle: %v", err)
		}
	}

	chats := [][3]string{
		{"chat1", "iMessage;+;+61400111222", "Alice"},
		{"chat2", "iMessage;+;+61400333444", "Bob"},
	}
	for _, c := range chats {
		if _, err := db.Exec(
			"INSERT INTO chat (guid, chat_identifier, display_name) VALUES (?, ?, ?)",
			c[0], c[1], c[2]); err != nil {
			tb.Fatalf("insert chat: %v", err)
		}
	}

	msgs := []Message{
		{GUID: "msg-1", Text: "G'day Alice", HandleID: 1, UnixTS: BaseTS, ChatID: 1},
		{GUID: "msg-2", Text: "Hey there!", HandleID: 1, UnixTS: BaseTS + 60, FromMe: true, ChatID: 1},
		{GUID: "msg-3", Text: "How's it going?", HandleID: 1, UnixTS: BaseTS + 120, ChatID: 1},
		{GUID: "msg-4", Text: "All good, cheers", HandleID: 1, UnixTS: BaseTS + 300, FromMe: true, ChatID: 1},
		// Tapback on the first message.
		{GUID: "msg-5", HandleID: 1, UnixTS: BaseTS + 310, FromMe: true, AssociatedType: 2001, ChatID: 1},
		{GUID: "msg-6", Text: "Morning Bob", HandleID: 2, UnixTS: BaseTS + 3600, FromMe: true, ChatID: 2},
		{GUID: "msg-7", Text: "Morning!", HandleID: 2, UnixTS: BaseTS + 3660, ChatID: 2},
		{GUID: "msg-8", HandleID: 2, UnixTS: BaseTS + 3670, AssociatedType: 2000, ChatID: 2},
		// The email handle chimes in on chat 1.
		{GUID: "msg-9", Text: "Quick question", HandleID: 3, UnixTS: BaseTS + 7200, ChatID: 1},
		{GUID: "msg-10", Text: "Sure, ask away", HandleID: 3, UnixTS: BaseTS + 7500, FromMe: true, ChatID: 1},
	}
	for _, m := range msgs {
		insertMessage(tb, db, m)
	}

	joins := [][2]int64{{1, 1}, {1, 3}, {2, 2}}
	for _, j := range joins {
		if _, err := db.Exec(
			"INSERT INTO chat_handle_join (chat_id, handle_id) VALUES (?, ?)", j[0], j[1]); err != nil {
			tb.Fatalf("insert chat_handle_join: %v", err)
		}
	}
}

func insertMessage(tb testing.TB, db *sql.DB, m Message) {
	tb.Helper()

	var text interface{}
	if m.Text != "" {
		text = m.Text
	}
	fromMe := 0
	if m.FromMe {
		fromMe = 1
	}

	res, err := db.Exec(
		"INSERT INTO message (guid, text, attributedBody, handle_id, date, is_from_me, associated_message_type) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.GUID, text, m.AttributedBody, m.HandleID, unixToAppleNS(m.UnixTS), fromMe, m.AssociatedType)
	if err != nil {
		tb.Fatalf("insert message %s: %v", m.GUID, err)
	}

	if m.ChatID > 0 {
		msgID, err := res.LastInsertId()
		if err != nil {
			tb.Fatalf("message %s rowid: %v", m.GUID, err)
		}
		if _, err := db.Exec(
			"INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)", m.ChatID, msgID); err != nil {
			tb.Fatalf("insert chat_message_join for %s: %v", m.GUID, err)
		}
	}
}

// Blob wraps text into an attributedBody archive the typedstream decoder
// understands: a streamtyped header, the NSString marker with one
// version-dependent byte, the length header and the payload.
func Blob(text string) []byte {
	payload := []byte(text)

	b := []byte{0x04, 0x0b}
	b = append(b, []byte("streamtyped")...)
	b = append(b, 0x81, 0xe8, 0x03, 0x84, 0x01, 0x40)
	b = append(b, []byte("NSString")...)
	b = append(b, 0x01, 0x94, 0x84, 0x01, 0x2b)
	b = append(b, lengthHeader(len(payload))...)
	b = append(b, payload...)
	b = append(b, 0x86)
	return b
}

func lengthHeader(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xffff:
		return []byte{0x81, byte(n >> 8), byte(n)}
	default:
		return []byte{0x82, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

func unixToAppleNS(sec float64) int64 {
	return int64((sec - chatdb.AppleEpochOffset) * 1e9)
}
