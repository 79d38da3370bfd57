package chatdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/golang/glog"
	_ "modernc.org/sqlite"

	"github.com/chatpulse/extract/typedstream"
)

const messageColumns = "message.ROWID, message.guid, message.text, message.attributedBody, " +
	"message.handle_id, " + dateConversionExpr + " AS date_unix, message.is_from_me, " +
	"message.cache_roomnames, message.associated_message_guid, message.associated_message_type"

const (
	listMessagesSQL = "SELECT " + messageColumns + " FROM message"

	listHandlesSQL = "SELECT handle.ROWID, handle.id, handle.service, handle.uncanonicalized_id " +
		"FROM handle ORDER BY handle.id"

	listChatsSQL = "SELECT chat.ROWID, chat.guid, chat.chat_identifier, chat.display_name, chat.group_id " +
		"FROM chat ORDER BY chat.ROWID"

	listChatMessagesSQL = "SELECT " + messageColumns + " FROM message " +
		"JOIN chat_message_join ON chat_message_join.message_id = message.ROWID " +
		"WHERE chat_message_join.chat_id = ? ORDER BY message.date ASC"

	listMessagesByChatSQL = "SELECT chat_message_join.chat_id, " + messageColumns + " FROM message " +
		"JOIN chat_message_join ON chat_message_join.message_id = message.ROWID " +
		"ORDER BY chat_message_join.chat_id ASC, message.date ASC"
)

// DB is a read-only accessor for an Apple Messages chat.db file. It holds no
// connection itself: each operation opens its own handle with mode=ro and
// closes it before returning, so the source file is never written and no
// state survives a call.
type DB struct {
	path string
}

// Open validates that path exists and is readable, and returns an accessor.
// The file is never created, repaired or written; a missing or unreadable
// path fails with ErrNotFound.
func Open(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	_ = f.Close()
	return &DB{path: path}, nil
}

// Path returns the chat.db file path this accessor reads.
func (d *DB) Path() string {
	return d.path
}

// withConn runs fn against a connection opened read-only at the storage
// layer. The handle is released on every exit path.
func (d *DB) withConn(ctx context.Context, fn func(ctx context.Context, conn *sql.DB) error) error {
	dsn := "file:" + d.path + "?mode=ro&immutable=0"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		glog.Errorf("chatdb: open %s: %v", d.path, err)
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			glog.Errorf("chatdb: close %s: %v", d.path, err)
		}
	}()

	conn.SetMaxOpenConns(1)
	return fn(ctx, conn)
}

func (d *DB) ListMessages(ctx context.Context, since *float64, limit *int) ([]Message, error) {
	query := listMessagesSQL
	var args []interface{}

	if since != nil {
		query += " WHERE message.date >= ?"
		args = append(args, unixToAppleNS(*since))
	}
	query += " ORDER BY message.date DESC"
	if limit != nil {
		query += " LIMIT ?"
		args = append(args, *limit)
	}

	var out []Message
	err := d.withConn(ctx, func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			glog.Errorf("chatdb: list messages query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) ListHandles(ctx context.Context) ([]Handle, error) {
	var out []Handle
	err := d.withConn(ctx, func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, listHandlesSQL)
		if err != nil {
			glog.Errorf("chatdb: list handles query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h Handle
			var uncanonicalized sql.NullString
			if err := rows.Scan(&h.RowID, &h.ID, &h.Service, &uncanonicalized); err != nil {
				glog.Errorf("chatdb: list handles scan err: %v", err)
				return err
			}
			h.UncanonicalizedID = nullableString(uncanonicalized)
			out = append(out, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	err := d.withConn(ctx, func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, listChatsSQL)
		if err != nil {
			glog.Errorf("chatdb: list chats query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c Chat
			var displayName, groupID sql.NullString
			if err := rows.Scan(&c.RowID, &c.GUID, &c.ChatIdentifier, &displayName, &groupID); err != nil {
				glog.Errorf("chatdb: list chats scan err: %v", err)
				return err
			}
			c.DisplayName = nullableString(displayName)
			c.GroupID = nullableString(groupID)
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) ListChatMessages(ctx context.Context, chatID int64) ([]Message, error) {
	var out []Message
	err := d.withConn(ctx, func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, listChatMessagesSQL, chatID)
		if err != nil {
			glog.Errorf("chatdb: list chat messages query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) ListMessagesByChat(ctx context.Context) ([]ChatMessage, error) {
	var out []ChatMessage
	err := d.withConn(ctx, func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, listMessagesByChatSQL)
		if err != nil {
			glog.Errorf("chatdb: list messages by chat query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var cm ChatMessage
			var text sql.NullString
			var blob []byte
			var handleID, fromMe, assocType sql.NullInt64
			var room, assocGUID sql.NullString

			if err := rows.Scan(&cm.ChatID, &cm.RowID, &cm.GUID, &text, &blob, &handleID,
				&cm.DateUnix, &fromMe, &room, &assocGUID, &assocType); err != nil {
				glog.Errorf("chatdb: list messages by chat scan err: %v", err)
				return err
			}
			fillMessage(&cm.Message, text, blob, handleID, fromMe, room, assocGUID, assocType)
			out = append(out, cm)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanMessage reads one row produced by a `SELECT messageColumns` query.
func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	var text sql.NullString
	var blob []byte
	var handleID, fromMe, assocType sql.NullInt64
	var room, assocGUID sql.NullString

	if err := rows.Scan(&m.RowID, &m.GUID, &text, &blob, &handleID, &m.DateUnix,
		&fromMe, &room, &assocGUID, &assocType); err != nil {
		glog.Errorf("chatdb: message scan err: %v", err)
		return Message{}, err
	}
	fillMessage(&m, text, blob, handleID, fromMe, room, assocGUID, assocType)
	return m, nil
}

// fillMessage converts nullable columns and resolves the message text: when
// the plaintext column is NULL, the attributedBody blob is decoded. A blob
// that fails to decode leaves Text nil; the blob itself is never exposed.
func fillMessage(m *Message, text sql.NullString, blob []byte,
	handleID, fromMe sql.NullInt64, room, assocGUID sql.NullString, assocType sql.NullInt64) {
	if text.Valid {
		s := text.String
		m.Text = &s
	} else if len(blob) > 0 {
		if s, ok := typedstream.Decode(blob); ok {
			m.Text = &s
		}
	}

	m.HandleID = handleID.Int64
	m.IsFromMe = fromMe.Int64 == 1
	m.CacheRoomnames = nullableString(room)
	m.AssociatedMessageGUID = nullableString(assocGUID)
	if assocType.Valid {
		v := assocType.Int64
		m.AssociatedMessageType = &v
	}
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
