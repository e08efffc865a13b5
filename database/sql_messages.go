package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatehub/models"
)

// Message queries

const messageColumns = `m.id, m.sender_id, m.receiver_id, m.group_id, m.property_id, m.content, m.created_at, m.is_seen`

// notHiddenBy excludes messages the bound user has soft-deleted
const notHiddenBy = `NOT EXISTS (
	SELECT 1 FROM message_soft_deletes d
	WHERE d.message_id = m.id AND d.user_id = ? AND d.is_deleted = TRUE)`

// CreateMessage inserts a new message
func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return s.atomically(ctx, func(tx *SQLStore) error {
		_, err := tx.exec(ctx,
			`INSERT INTO messages (id, sender_id, receiver_id, group_id, property_id, content, created_at, is_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.PropertyID, m.Content, m.Timestamp.UTC(), m.IsSeen,
		)
		if err != nil {
			return err
		}
		for _, sd := range m.SoftDelete {
			if _, err := tx.exec(ctx,
				`INSERT INTO message_soft_deletes (message_id, user_id, is_deleted) VALUES (?, ?, ?)`,
				m.ID, sd.UserID, sd.IsDeleted); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage retrieves a message by its ID
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msgs []models.Message
	if err := s.sel(ctx, &msgs, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	if err := s.attachSoftDeletes(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// MarkSeen flips is_seen on every message matched by an enabled branch
func (s *SQLStore) MarkSeen(ctx context.Context, f models.SeenFilter) (int64, error) {
	var total int64
	err := s.atomically(ctx, func(tx *SQLStore) error {
		if f.ChatPartnerID != "" {
			n, err := tx.exec(ctx,
				`UPDATE messages SET is_seen = TRUE
				WHERE sender_id = ? AND receiver_id = ? AND is_seen = FALSE`,
				f.ChatPartnerID, f.UserID)
			if err != nil {
				return fmt.Errorf("mark direct seen: %w", err)
			}
			total += n
		}
		if f.GroupID != "" {
			n, err := tx.exec(ctx,
				`UPDATE messages SET is_seen = TRUE
				WHERE group_id = ? AND sender_id <> ? AND is_seen = FALSE`,
				f.GroupID, f.UserID)
			if err != nil {
				return fmt.Errorf("mark group seen: %w", err)
			}
			total += n
		}
		if f.PropertyID != "" {
			n, err := tx.exec(ctx,
				`UPDATE messages SET is_seen = TRUE
				WHERE property_id = ? AND receiver_id = ? AND is_seen = FALSE`,
				f.PropertyID, f.UserID)
			if err != nil {
				return fmt.Errorf("mark property seen: %w", err)
			}
			total += n
		}
		return nil
	})
	return total, err
}

// ListThread returns the direct messages between two users
func (s *SQLStore) ListThread(ctx context.Context, userA, userB, propertyID, viewerID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m
		WHERE m.group_id = ''
		  AND ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))`
	args := []interface{}{userA, userB, userB, userA}
	if propertyID != "" {
		query += ` AND m.property_id = ?`
		args = append(args, propertyID)
	}
	query += ` AND ` + notHiddenBy + ` ORDER BY m.created_at, m.id`
	args = append(args, viewerID)

	var msgs []models.Message
	if err := s.sel(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	return msgs, s.attachSoftDeletes(ctx, msgs)
}

// ListGroupMessages returns the messages of the given groups, oldest first
func (s *SQLStore) ListGroupMessages(ctx context.Context, groupIDs []string, viewerID string) ([]models.Message, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var msgs []models.Message
	err := s.selIn(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages m
		WHERE m.group_id IN (?) AND `+notHiddenBy+`
		ORDER BY m.created_at, m.id`, groupIDs, viewerID)
	if err != nil {
		return nil, err
	}
	return msgs, s.attachSoftDeletes(ctx, msgs)
}

// ListConversationMessages returns every non-group message a user is party to
func (s *SQLStore) ListConversationMessages(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.sel(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages m
		WHERE m.group_id = '' AND (m.sender_id = ? OR m.receiver_id = ?) AND `+notHiddenBy+`
		ORDER BY m.created_at, m.id`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	return msgs, s.attachSoftDeletes(ctx, msgs)
}

// ListUnseenMessages returns the messages still unseen by a user
func (s *SQLStore) ListUnseenMessages(ctx context.Context, userID string, groupIDs []string) ([]models.Message, error) {
	var msgs []models.Message
	var err error
	if len(groupIDs) == 0 {
		err = s.sel(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages m
			WHERE m.group_id = '' AND m.receiver_id = ? AND m.is_seen = FALSE AND `+notHiddenBy+`
			ORDER BY m.created_at, m.id`, userID, userID)
	} else {
		err = s.selIn(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages m
			WHERE m.is_seen = FALSE AND (
				(m.group_id = '' AND m.receiver_id = ?)
				OR (m.group_id IN (?) AND m.sender_id <> ?))
			AND `+notHiddenBy+`
			ORDER BY m.created_at, m.id`, userID, groupIDs, userID, userID)
	}
	return msgs, err
}

// LatestGroupMessage returns the newest message of a group, or nil when the
// group has none.
func (s *SQLStore) LatestGroupMessage(ctx context.Context, groupID string) (*models.Message, error) {
	m := &models.Message{}
	err := s.get(ctx, m,
		`SELECT `+messageColumns+` FROM messages m WHERE m.group_id = ?
		ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, groupID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// HideMessages soft-deletes a thread for one user and returns how many
// messages were newly hidden.
func (s *SQLStore) HideMessages(ctx context.Context, userID string, f models.ThreadFilter) (int64, error) {
	var where string
	var args []interface{}
	switch {
	case f.GroupID != "":
		where = `m.group_id = ?`
		args = append(args, f.GroupID)
	case f.ChatPartnerID != "":
		where = `m.group_id = '' AND ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))`
		args = append(args, userID, f.ChatPartnerID, f.ChatPartnerID, userID)
		if f.PropertyID != "" {
			where += ` AND m.property_id = ?`
			args = append(args, f.PropertyID)
		}
	case f.PropertyID != "":
		where = `m.property_id = ? AND (m.sender_id = ? OR m.receiver_id = ?)`
		args = append(args, f.PropertyID, userID, userID)
	default:
		return 0, fmt.Errorf("empty thread filter: %w", models.ErrInvalidArgument)
	}

	query := `INSERT INTO message_soft_deletes (message_id, user_id, is_deleted)
		SELECT m.id, CAST(? AS TEXT), TRUE FROM messages m
		WHERE ` + where + `
		  AND NOT EXISTS (SELECT 1 FROM message_soft_deletes d WHERE d.message_id = m.id AND d.user_id = ?)`
	all := append([]interface{}{userID}, args...)
	all = append(all, userID)
	return s.exec(ctx, query, all...)
}

type softDeleteRow struct {
	MessageID string `db:"message_id"`
	models.SoftDelete
}

func (s *SQLStore) attachSoftDeletes(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids = append(ids, m.ID)
		index[m.ID] = i
	}
	var rows []softDeleteRow
	if err := s.selIn(ctx, &rows,
		`SELECT message_id, user_id, is_deleted FROM message_soft_deletes WHERE message_id IN (?)`, ids); err != nil {
		return err
	}
	for _, r := range rows {
		i := index[r.MessageID]
		msgs[i].SoftDelete = append(msgs[i].SoftDelete, r.SoftDelete)
	}
	return nil
}

// Group queries

const groupColumns = `g.id, g.name, g.image, g.created_by, g.created_at`

// CreateGroup inserts a group and its ordered member list
func (s *SQLStore) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return s.atomically(ctx, func(tx *SQLStore) error {
		_, err := tx.exec(ctx,
			`INSERT INTO chat_groups (id, name, image, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Image, g.CreatedBy, g.CreatedAt.UTC())
		if err != nil {
			return err
		}
		return tx.insertMembers(ctx, g)
	})
}

// GetGroup retrieves a group with its members
func (s *SQLStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g := &models.Group{}
	if err := s.get(ctx, g, `SELECT `+groupColumns+` FROM chat_groups g WHERE g.id = ?`, id); err != nil {
		return nil, err
	}
	if err := s.attachMembers(ctx, []*models.Group{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroupsForUser returns the groups a user is currently a member of
func (s *SQLStore) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	var groups []*models.Group
	err := s.sel(ctx, &groups,
		`SELECT `+groupColumns+` FROM chat_groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC, g.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return groups, s.attachMembers(ctx, groups)
}

// ListGroups returns every group, newest first
func (s *SQLStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var groups []*models.Group
	if err := s.sel(ctx, &groups,
		`SELECT `+groupColumns+` FROM chat_groups g ORDER BY g.created_at DESC, g.id DESC`); err != nil {
		return nil, err
	}
	return groups, s.attachMembers(ctx, groups)
}

// SaveGroupMembers replaces the member list of a group
func (s *SQLStore) SaveGroupMembers(ctx context.Context, g *models.Group) error {
	return s.atomically(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
			return err
		}
		return tx.insertMembers(ctx, g)
	})
}

func (s *SQLStore) insertMembers(ctx context.Context, g *models.Group) error {
	for i, m := range g.Members {
		if _, err := s.exec(ctx,
			`INSERT INTO group_members (group_id, position, user_id, role) VALUES (?, ?, ?, ?)`,
			g.ID, i, m.UserID, m.Role); err != nil {
			return err
		}
	}
	return nil
}

type memberRow struct {
	GroupID string `db:"group_id"`
	models.GroupMember
}

func (s *SQLStore) attachMembers(ctx context.Context, groups []*models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]string, 0, len(groups))
	byID := make(map[string]*models.Group, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
		byID[g.ID] = g
	}
	var rows []memberRow
	if err := s.selIn(ctx, &rows,
		`SELECT group_id, user_id, role FROM group_members WHERE group_id IN (?) ORDER BY group_id, position`, ids); err != nil {
		return err
	}
	for _, r := range rows {
		g := byID[r.GroupID]
		g.Members = append(g.Members, r.GroupMember)
	}
	return nil
}
