package protocol

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/palisade-im/palisade-go/protocol/common"
	"github.com/palisade-im/palisade-go/sqlite"
)

// sqlitePersistence wrapper around sql db with operations common for a
// client.
type sqlitePersistence struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		source_device INT NOT NULL DEFAULT 1,
		sent_at INTEGER NOT NULL DEFAULT 0,
		received_at INTEGER NOT NULL DEFAULT 0,
		body TEXT NOT NULL DEFAULT '',
		flags INT NOT NULL DEFAULT 0,
		unread INT NOT NULL DEFAULT 0,
		read_by BLOB,
		expire_timer INT NOT NULL DEFAULT 0,
		expiration_start INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL DEFAULT 0,
		server_id INTEGER NOT NULL DEFAULT 0,
		server_timestamp INTEGER NOT NULL DEFAULT 0,
		is_public BOOLEAN NOT NULL DEFAULT 0,
		sent BOOLEAN NOT NULL DEFAULT 0,
		sent_to BLOB,
		synced BOOLEAN NOT NULL DEFAULT 0,
		sent_sync BOOLEAN NOT NULL DEFAULT 0,
		message_hash TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT 0,
		payload BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_messages_source_sent_at
		ON user_messages(source, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_user_messages_source_server_timestamp
		ON user_messages(source, server_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_user_messages_conversation
		ON user_messages(conversation_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		type INT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_pointer TEXT NOT NULL DEFAULT '',
		profile_key BLOB,
		avatar BLOB,
		created_at INTEGER NOT NULL DEFAULT 0
	)`,
}

func newSQLitePersistence(db *sql.DB) (*sqlitePersistence, error) {
	for _, statement := range schema {
		if _, err := db.Exec(statement); err != nil {
			return nil, errors.Wrap(err, "failed to apply message store schema")
		}
	}
	return &sqlitePersistence{db: db}, nil
}

func (db sqlitePersistence) tableUserMessagesAllFields() string {
	return `id,
		conversation_id,
		direction,
		status,
		source,
		source_device,
		sent_at,
		received_at,
		body,
		flags,
		unread,
		read_by,
		expire_timer,
		expiration_start,
		expires_at,
		server_id,
		server_timestamp,
		is_public,
		sent,
		sent_to,
		synced,
		sent_sync,
		message_hash,
		deleted,
		payload`
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (db sqlitePersistence) tableUserMessagesScanAllFields(row scanner, message *common.Message) error {
	var payload []byte
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.Direction,
		&message.Status,
		&message.Source,
		&message.SourceDevice,
		&message.SentAt,
		&message.ReceivedAt,
		&message.Body,
		&message.Flags,
		&message.Unread,
		&sqlite.JSONBlob{Data: &message.ReadBy},
		&message.ExpireTimer,
		&message.ExpirationStartTimestamp,
		&message.ExpiresAt,
		&message.ServerID,
		&message.ServerTimestamp,
		&message.IsPublic,
		&message.Sent,
		&sqlite.JSONBlob{Data: &message.SentTo},
		&message.Synced,
		&message.SentSync,
		&message.MessageHash,
		&message.Deleted,
		&payload,
	)
	if err != nil {
		return err
	}
	// records written by the previous schema self-heal on load
	payload = common.MigrateLegacyPayload(payload)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &message.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (db sqlitePersistence) tableUserMessagesAllValues(message *common.Message) ([]interface{}, error) {
	payload, err := json.Marshal(message.Payload)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		message.ID,
		message.ConversationID,
		message.Direction,
		message.Status,
		message.Source,
		message.SourceDevice,
		message.SentAt,
		message.ReceivedAt,
		message.Body,
		message.Flags,
		message.Unread,
		&sqlite.JSONBlob{Data: message.ReadBy},
		message.ExpireTimer,
		message.ExpirationStartTimestamp,
		message.ExpiresAt,
		message.ServerID,
		message.ServerTimestamp,
		message.IsPublic,
		message.Sent,
		&sqlite.JSONBlob{Data: message.SentTo},
		message.Synced,
		message.SentSync,
		message.MessageHash,
		message.Deleted,
		payload,
	}, nil
}

// SaveMessage upserts a single record.
func (db sqlitePersistence) SaveMessage(message *common.Message) error {
	allFields := db.tableUserMessagesAllFields()
	placeholders := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	query := "INSERT OR REPLACE INTO user_messages(" + allFields + ") VALUES (" + placeholders + ")" // nolint: gosec
	allValues, err := db.tableUserMessagesAllValues(message)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(query, allValues...)
	return err
}

// SaveMessages saves a batch in one transaction.
func (db sqlitePersistence) SaveMessages(messages []*common.Message) (err error) {
	var tx *sql.Tx
	tx, err = db.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		// don't shadow original error
		_ = tx.Rollback()
	}()

	allFields := db.tableUserMessagesAllFields()
	placeholders := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	query := "INSERT OR REPLACE INTO user_messages(" + allFields + ") VALUES (" + placeholders + ")" // nolint: gosec
	stmt, err := tx.Prepare(query)
	if err != nil {
		return
	}
	for _, message := range messages {
		var allValues []interface{}
		allValues, err = db.tableUserMessagesAllValues(message)
		if err != nil {
			return
		}
		_, err = stmt.Exec(allValues...)
		if err != nil {
			return
		}
	}
	return
}

func (db sqlitePersistence) MessageByID(id string) (*common.Message, error) {
	var message common.Message
	allFields := db.tableUserMessagesAllFields()
	row := db.db.QueryRow("SELECT "+allFields+" FROM user_messages WHERE id = ?", id) // nolint: gosec
	err := db.tableUserMessagesScanAllFields(row, &message)
	switch err {
	case sql.ErrNoRows:
		return nil, common.ErrRecordNotFound
	case nil:
		return &message, nil
	default:
		return nil, err
	}
}

// MessageBySenderAndSentAt returns any record from source with the
// given sender timestamp, newest first.
func (db sqlitePersistence) MessageBySenderAndSentAt(source string, sentAt uint64) (*common.Message, error) {
	var message common.Message
	allFields := db.tableUserMessagesAllFields()
	row := db.db.QueryRow(
		"SELECT "+allFields+` FROM user_messages
			WHERE source = ? AND sent_at = ?
			ORDER BY received_at DESC LIMIT 1`, // nolint: gosec
		source,
		sentAt,
	)
	err := db.tableUserMessagesScanAllFields(row, &message)
	switch err {
	case sql.ErrNoRows:
		return nil, common.ErrRecordNotFound
	case nil:
		return &message, nil
	default:
		return nil, err
	}
}

// MessageBySenderAndServerTimestamp returns any record from source
// bearing the given server-assigned timestamp.
func (db sqlitePersistence) MessageBySenderAndServerTimestamp(source string, serverTimestamp uint64) (*common.Message, error) {
	var message common.Message
	allFields := db.tableUserMessagesAllFields()
	row := db.db.QueryRow(
		"SELECT "+allFields+` FROM user_messages
			WHERE source = ? AND server_timestamp = ?
			ORDER BY received_at DESC LIMIT 1`, // nolint: gosec
		source,
		serverTimestamp,
	)
	err := db.tableUserMessagesScanAllFields(row, &message)
	switch err {
	case sql.ErrNoRows:
		return nil, common.ErrRecordNotFound
	case nil:
		return &message, nil
	default:
		return nil, err
	}
}

// MessagesByConversationID returns up to limit records of one
// conversation, newest first.
func (db sqlitePersistence) MessagesByConversationID(conversationID string, limit int) ([]*common.Message, error) {
	allFields := db.tableUserMessagesAllFields()
	rows, err := db.db.Query(
		"SELECT "+allFields+` FROM user_messages
			WHERE conversation_id = ?
			ORDER BY sent_at DESC LIMIT ?`, // nolint: gosec
		conversationID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*common.Message
	for rows.Next() {
		var message common.Message
		if err := db.tableUserMessagesScanAllFields(rows, &message); err != nil {
			return nil, err
		}
		result = append(result, &message)
	}
	return result, rows.Err()
}

func (db sqlitePersistence) DeleteMessage(id string) error {
	_, err := db.db.Exec("DELETE FROM user_messages WHERE id = ?", id)
	return err
}

// MarkAllRead clears the unread marker of every record in a
// conversation and returns how many records changed.
func (db sqlitePersistence) MarkAllRead(conversationID string) (int64, error) {
	result, err := db.db.Exec(
		"UPDATE user_messages SET unread = 0 WHERE conversation_id = ? AND unread = 1",
		conversationID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UpdateMessageOutgoingStatus updates the delivery status of one
// record.
func (db sqlitePersistence) UpdateMessageOutgoingStatus(id string, newOutgoingStatus common.DeliveryStatus) error {
	_, err := db.db.Exec(
		"UPDATE user_messages SET status = ? WHERE id = ?",
		newOutgoingStatus,
		id,
	)
	return err
}

// SaveConversation upserts a conversation row.
func (db sqlitePersistence) SaveConversation(conversation *Conversation) error {
	_, err := db.db.Exec(
		`INSERT OR REPLACE INTO conversations(id, type, display_name, avatar_pointer, profile_key, avatar, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversation.ID,
		conversation.Type,
		conversation.DisplayName,
		conversation.AvatarPointer,
		conversation.ProfileKey,
		conversation.Avatar,
		conversation.CreatedAt,
	)
	return err
}

func (db sqlitePersistence) ConversationByID(id string) (*Conversation, error) {
	var conversation Conversation
	row := db.db.QueryRow(
		`SELECT id, type, display_name, avatar_pointer, profile_key, avatar, created_at
			FROM conversations WHERE id = ?`,
		id,
	)
	err := row.Scan(
		&conversation.ID,
		&conversation.Type,
		&conversation.DisplayName,
		&conversation.AvatarPointer,
		&conversation.ProfileKey,
		&conversation.Avatar,
		&conversation.CreatedAt,
	)
	switch err {
	case sql.ErrNoRows:
		return nil, common.ErrRecordNotFound
	case nil:
		return &conversation, nil
	default:
		return nil, err
	}
}
