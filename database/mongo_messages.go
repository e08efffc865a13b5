package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"estatehub/models"
)

// Message queries

var byTimestamp = bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}

// notHiddenFor excludes messages userID has soft-deleted
func notHiddenFor(userID string) bson.M {
	return bson.M{"soft_delete": bson.M{"$not": bson.M{"$elemMatch": bson.M{"user_id": userID, "is_deleted": true}}}}
}

// direct matches messages that do not belong to a group
var direct = bson.M{"group_id": nil}

func between(userA, userB string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender_id": userA, "receiver_id": userB},
		bson.M{"sender_id": userB, "receiver_id": userA},
	}}
}

// CreateMessage inserts a new message document
func (s *MongoStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.SoftDelete == nil {
		m.SoftDelete = []models.SoftDelete{}
	}
	return s.insert(ctx, colMessages, m)
}

// GetMessage retrieves a message by its ID
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	if err := s.findOne(ctx, colMessages, bson.M{"_id": id}, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkSeen flips is_seen on every message matched by an enabled branch
func (s *MongoStore) MarkSeen(ctx context.Context, f models.SeenFilter) (int64, error) {
	var branches bson.A
	if f.ChatPartnerID != "" {
		branches = append(branches, bson.M{"sender_id": f.ChatPartnerID, "receiver_id": f.UserID})
	}
	if f.GroupID != "" {
		branches = append(branches, bson.M{"group_id": f.GroupID, "sender_id": bson.M{"$ne": f.UserID}})
	}
	if f.PropertyID != "" {
		branches = append(branches, bson.M{"property_id": f.PropertyID, "receiver_id": f.UserID})
	}
	if len(branches) == 0 {
		return 0, nil
	}

	res, err := s.col(colMessages).UpdateMany(ctx,
		bson.M{"is_seen": false, "$or": branches},
		bson.M{"$set": bson.M{"is_seen": true}})
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	return res.ModifiedCount, nil
}

// ListThread returns the direct messages between two users
func (s *MongoStore) ListThread(ctx context.Context, userA, userB, propertyID, viewerID string) ([]models.Message, error) {
	and := bson.A{direct, between(userA, userB), notHiddenFor(viewerID)}
	if propertyID != "" {
		and = append(and, bson.M{"property_id": propertyID})
	}
	var msgs []models.Message
	err := s.findAll(ctx, colMessages, bson.M{"$and": and}, &msgs, options.Find().SetSort(byTimestamp))
	return msgs, err
}

// ListGroupMessages returns the messages of the given groups, oldest first
func (s *MongoStore) ListGroupMessages(ctx context.Context, groupIDs []string, viewerID string) ([]models.Message, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{"$and": bson.A{
		bson.M{"group_id": bson.M{"$in": groupIDs}},
		notHiddenFor(viewerID),
	}}
	var msgs []models.Message
	err := s.findAll(ctx, colMessages, filter, &msgs, options.Find().SetSort(byTimestamp))
	return msgs, err
}

// ListConversationMessages returns every non-group message a user is party to
func (s *MongoStore) ListConversationMessages(ctx context.Context, userID string) ([]models.Message, error) {
	filter := bson.M{"$and": bson.A{
		direct,
		bson.M{"$or": bson.A{bson.M{"sender_id": userID}, bson.M{"receiver_id": userID}}},
		notHiddenFor(userID),
	}}
	var msgs []models.Message
	err := s.findAll(ctx, colMessages, filter, &msgs, options.Find().SetSort(byTimestamp))
	return msgs, err
}

// ListUnseenMessages returns the messages still unseen by a user
func (s *MongoStore) ListUnseenMessages(ctx context.Context, userID string, groupIDs []string) ([]models.Message, error) {
	branches := bson.A{bson.M{"group_id": nil, "receiver_id": userID}}
	if len(groupIDs) > 0 {
		branches = append(branches, bson.M{"group_id": bson.M{"$in": groupIDs}, "sender_id": bson.M{"$ne": userID}})
	}
	var msgs []models.Message
	filter := bson.M{"$and": bson.A{
		bson.M{"is_seen": false, "$or": branches},
		notHiddenFor(userID),
	}}
	err := s.findAll(ctx, colMessages, filter, &msgs,
		options.Find().SetSort(byTimestamp))
	return msgs, err
}

// LatestGroupMessage returns the newest message of a group, or nil when the
// group has none.
func (s *MongoStore) LatestGroupMessage(ctx context.Context, groupID string) (*models.Message, error) {
	m := &models.Message{}
	err := s.findOne(ctx, colMessages, bson.M{"group_id": groupID}, m,
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}))
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
func (s *MongoStore) HideMessages(ctx context.Context, userID string, f models.ThreadFilter) (int64, error) {
	var scope bson.M
	switch {
	case f.GroupID != "":
		scope = bson.M{"group_id": f.GroupID}
	case f.ChatPartnerID != "":
		and := bson.A{direct, between(userID, f.ChatPartnerID)}
		if f.PropertyID != "" {
			and = append(and, bson.M{"property_id": f.PropertyID})
		}
		scope = bson.M{"$and": and}
	case f.PropertyID != "":
		scope = bson.M{
			"property_id": f.PropertyID,
			"$or":         bson.A{bson.M{"sender_id": userID}, bson.M{"receiver_id": userID}},
		}
	default:
		return 0, fmt.Errorf("empty thread filter: %w", models.ErrInvalidArgument)
	}

	filter := bson.M{"$and": bson.A{scope, bson.M{"soft_delete.user_id": bson.M{"$ne": userID}}}}
	res, err := s.col(colMessages).UpdateMany(ctx, filter, bson.M{
		"$push": bson.M{"soft_delete": models.SoftDelete{UserID: userID, IsDeleted: true}},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Group queries

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// CreateGroup inserts a group document
func (s *MongoStore) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return s.insert(ctx, colGroups, g)
}

// GetGroup retrieves a group with its members
func (s *MongoStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g := &models.Group{}
	if err := s.findOne(ctx, colGroups, bson.M{"_id": id}, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroupsForUser returns the groups a user is currently a member of
func (s *MongoStore) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	var groups []*models.Group
	err := s.findAll(ctx, colGroups, bson.M{"members.user_id": userID}, &groups,
		options.Find().SetSort(newestFirst))
	return groups, err
}

// ListGroups returns every group, newest first
func (s *MongoStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var groups []*models.Group
	err := s.findAll(ctx, colGroups, bson.M{}, &groups, options.Find().SetSort(newestFirst))
	return groups, err
}

// SaveGroupMembers replaces the member list of a group
func (s *MongoStore) SaveGroupMembers(ctx context.Context, g *models.Group) error {
	members := g.Members
	if members == nil {
		members = []models.GroupMember{}
	}
	res, err := s.col(colGroups).UpdateOne(ctx, bson.M{"_id": g.ID},
		bson.M{"$set": bson.M{"members": members}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
