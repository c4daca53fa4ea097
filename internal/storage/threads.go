package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrThreadExists reports that an open thread already covers the
// (user, guild) pair; the partial unique index raises it on insert.
var ErrThreadExists = errors.New("storage: open thread already exists")

type ModmailThread struct {
	ID            int64
	ChannelID     string
	UserID        string
	GuildID       string
	Open          bool
	LastMessageAt time.Time
	MessageCount  int
	WarningSent   bool
	ClosedAt      time.Time
	ClosedBy      string
	CloseReason   string
}

const threadColumns = `id, channel_id, user_id, guild_id, open, last_message_at,
	message_count, warning_sent, closed_at, closed_by, close_reason`

func (s *Store) CreateThread(ctx context.Context, thread ModmailThread) (ModmailThread, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO modmail_threads (
			channel_id, user_id, guild_id, open, last_message_at,
			message_count, warning_sent, closed_at, closed_by, close_reason
		) VALUES (?, ?, ?, 1, ?, ?, 0, 0, '', '')
	`,
		thread.ChannelID,
		thread.UserID,
		thread.GuildID,
		thread.LastMessageAt.Unix(),
		thread.MessageCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ModmailThread{}, ErrThreadExists
		}
		return ModmailThread{}, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return ModmailThread{}, err
	}
	thread.ID = id
	thread.Open = true
	thread.WarningSent = false
	return thread, nil
}

func (s *Store) ThreadByID(ctx context.Context, id int64) (ModmailThread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM modmail_threads WHERE id = ?`, id)
	return scanThread(row)
}

func (s *Store) ThreadByChannel(ctx context.Context, channelID string) (ModmailThread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+` FROM modmail_threads
		WHERE channel_id = ? ORDER BY open DESC, id DESC LIMIT 1`, channelID)
	return scanThread(row)
}

func (s *Store) OpenThread(ctx context.Context, userID, guildID string) (ModmailThread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+` FROM modmail_threads
		WHERE user_id = ? AND guild_id = ? AND open = 1`, userID, guildID)
	return scanThread(row)
}

// OpenThreadsForUser returns the user's open threads, most recently active
// first, with the ID as a stable tiebreak.
func (s *Store) OpenThreadsForUser(ctx context.Context, userID string) ([]ModmailThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM modmail_threads
		WHERE user_id = ? AND open = 1
		ORDER BY last_message_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreads(rows)
}

func (s *Store) CountOpenThreads(ctx context.Context, guildID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM modmail_threads WHERE guild_id = ? AND open = 1`, guildID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// TouchThread records activity: bumps the message count, stamps the
// activity time, and clears any pending idle warning.
func (s *Store) TouchThread(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail_threads
		SET message_count = message_count + 1, last_message_at = ?, warning_sent = 0
		WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// CloseThread transitions OPEN -> CLOSED. The returned bool is false when
// the thread was already closed; that is a report, not an error.
func (s *Store) CloseThread(ctx context.Context, id int64, closedBy, reason string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail_threads
		SET open = 0, closed_at = ?, closed_by = ?, close_reason = ?
		WHERE id = ? AND open = 1`, at.Unix(), closedBy, reason, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.ThreadByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RebindThreadChannel points a thread at a new backing channel, for recovery
// after the original channel vanished.
func (s *Store) RebindThreadChannel(ctx context.Context, id int64, channelID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail_threads SET channel_id = ? WHERE id = ?`, channelID, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) MarkWarningSent(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail_threads SET warning_sent = 1 WHERE id = ? AND open = 1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) IdleThreads(ctx context.Context, cutoff time.Time) ([]ModmailThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM modmail_threads
		WHERE open = 1 AND last_message_at < ?
		ORDER BY last_message_at ASC`, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreads(rows)
}

func (s *Store) UnwarnedIdleThreads(ctx context.Context, cutoff time.Time) ([]ModmailThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM modmail_threads
		WHERE open = 1 AND warning_sent = 0 AND last_message_at < ?
		ORDER BY last_message_at ASC`, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreads(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (ModmailThread, error) {
	var thread ModmailThread
	var open, warning int
	var lastMessageAt, closedAt int64
	err := row.Scan(
		&thread.ID,
		&thread.ChannelID,
		&thread.UserID,
		&thread.GuildID,
		&open,
		&lastMessageAt,
		&thread.MessageCount,
		&warning,
		&closedAt,
		&thread.ClosedBy,
		&thread.CloseReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModmailThread{}, ErrNotFound
		}
		return ModmailThread{}, err
	}
	thread.Open = open == 1
	thread.WarningSent = warning == 1
	thread.LastMessageAt = time.Unix(lastMessageAt, 0)
	if closedAt != 0 {
		thread.ClosedAt = time.Unix(closedAt, 0)
	}
	return thread, nil
}

func scanThreads(rows *sql.Rows) ([]ModmailThread, error) {
	var threads []ModmailThread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
