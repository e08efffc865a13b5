package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"estatehub/models"
)

// Collection names
const (
	colUsers             = "users"
	colProperties        = "properties"
	colMessages          = "messages"
	colGroups            = "groups"
	colSubscriptionPlans = "subscriptionplans"
	colBannerPlans       = "bannerplans"
	colBoostPlans        = "boostplans"
	colBanners           = "banners"
	colPaymentHistories  = "paymenthistories"
)

// MongoStore implements Store on MongoDB. Subscription entries, boosts,
// member lists and soft-delete flags are embedded arrays. Transactions need
// a replica set deployment.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// OpenMongo connects to MongoDB and ensures the indexes the store relies on
func OpenMongo(ctx context.Context, uri, dbName string, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(dbName), logger: logger}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info("MongoDB database connected successfully", zap.String("database", dbName))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	uniqueSparse := func(field string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys: bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{field: bson.M{"$type": "string"}}),
		}
	}

	indexes := map[string][]mongo.IndexModel{
		colMessages: {
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "receiver_id", Value: 1}}},
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_seen", Value: 1}}},
		},
		colProperties: {
			{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colGroups: {
			{Keys: bson.D{{Key: "members.user_id", Value: 1}}},
		},
		colPaymentHistories: {
			uniqueSparse("payment_intent_id"),
			uniqueSparse("invoice_id"),
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for col, idx := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", col, err)
		}
	}
	return nil
}

// InTx runs fn inside a session transaction. The context handed to fn
// carries the session; calls made with it join the transaction.
func (s *MongoStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return err
}

func (s *MongoStore) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.InTx(ctx, func(ctx context.Context, _ Store) error {
		return fn(ctx)
	})
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) findOne(ctx context.Context, col string, filter interface{}, dest interface{}, opts ...*options.FindOneOptions) error {
	err := s.col(col).FindOne(ctx, filter, opts...).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *MongoStore) findAll(ctx context.Context, col string, filter interface{}, dest interface{}, opts ...*options.FindOptions) error {
	cur, err := s.col(col).Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	return cur.All(ctx, dest)
}

func (s *MongoStore) insert(ctx context.Context, col string, doc interface{}) error {
	_, err := s.col(col).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", col, models.ErrConflict)
	}
	return err
}

var oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// User queries

// CreateUser inserts a user document
func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Subscriptions == nil {
		u.Subscriptions = []models.SubscriptionEntry{}
	}
	return s.insert(ctx, colUsers, u)
}

// GetUser retrieves a user by its ID
func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	if err := s.findOne(ctx, colUsers, bson.M{"_id": id}, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SaveEntitlements writes the entitlement fields of u
func (s *MongoStore) SaveEntitlements(ctx context.Context, u *models.User) error {
	subs := u.Subscriptions
	if subs == nil {
		subs = []models.SubscriptionEntry{}
	}
	res, err := s.col(colUsers).UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{
		"property_limit":              u.PropertyLimit,
		"subscription_plan_is_active": u.SubscriptionPlanIsActive,
		"stripe_customer_id":          u.StripeCustomerID,
		"subscription":                subs,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsersWithSubscriptions returns every user holding at least one entry
func (s *MongoStore) ListUsersWithSubscriptions(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := s.findAll(ctx, colUsers,
		bson.M{"subscription.0": bson.M{"$exists": true}}, &users,
		options.Find().SetSort(oldestFirst))
	return users, err
}

// UserSummaries returns display fields keyed by user id
func (s *MongoStore) UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.UserSummary
	err := s.findAll(ctx, colUsers, bson.M{"_id": bson.M{"$in": ids}}, &rows,
		options.Find().SetProjection(bson.M{"name": 1, "avatar": 1}))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// DeviceTokens returns push tokens keyed by user id, skipping users without one
func (s *MongoStore) DeviceTokens(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID          string `bson:"_id"`
		DeviceToken string `bson:"device_token"`
	}
	err := s.findAll(ctx, colUsers,
		bson.M{"_id": bson.M{"$in": ids}, "device_token": bson.M{"$nin": bson.A{"", nil}}}, &rows,
		options.Find().SetProjection(bson.M{"device_token": 1}))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.DeviceToken
	}
	return out, nil
}

// Property queries

// CreateProperty inserts a listing document
func (s *MongoStore) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PropertyStatusDraft
	}
	if p.Boosts == nil {
		p.Boosts = []models.PropertyBoost{}
	}
	return s.insert(ctx, colProperties, p)
}

// GetProperty retrieves a listing by its ID
func (s *MongoStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	p := &models.Property{}
	if err := s.findOne(ctx, colProperties, bson.M{"_id": id}, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PropertySummaries returns listing display fields keyed by property id
func (s *MongoStore) PropertySummaries(ctx context.Context, ids []string) (map[string]models.PropertySummary, error) {
	out := make(map[string]models.PropertySummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.PropertySummary
	err := s.findAll(ctx, colProperties, bson.M{"_id": bson.M{"$in": ids}}, &rows,
		options.Find().SetProjection(bson.M{"title": 1, "image": 1, "status": 1, "created_by": 1}))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// CountPropertiesByStatus counts a user's listings in one status
func (s *MongoStore) CountPropertiesByStatus(ctx context.Context, userID string, status models.PropertyStatus) (int, error) {
	n, err := s.col(colProperties).CountDocuments(ctx, bson.M{"created_by": userID, "status": status})
	return int(n), err
}

// AddPropertyBoost appends a boost and flags the listing as boosted
func (s *MongoStore) AddPropertyBoost(ctx context.Context, propertyID string, boost models.PropertyBoost) error {
	res, err := s.col(colProperties).UpdateOne(ctx, bson.M{"_id": propertyID}, bson.M{
		"$set":  bson.M{"is_boosted": true},
		"$push": bson.M{"boost": boost},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateDraftProperties activates Draft listings up to the user's headroom.
// Touching the owner document makes concurrent activations for the same
// user conflict, so one of them retries against the committed count.
func (s *MongoStore) ActivateDraftProperties(ctx context.Context, userID string, limit int) (int, error) {
	activated := 0
	err := s.atomically(ctx, func(ctx context.Context) error {
		activated = 0
		if _, err := s.col(colUsers).UpdateOne(ctx, bson.M{"_id": userID},
			bson.M{"$currentDate": bson.M{"entitlements_touched_at": true}}); err != nil {
			return err
		}

		active, err := s.CountPropertiesByStatus(ctx, userID, models.PropertyStatusActive)
		if err != nil {
			return err
		}
		headroom := limit - active
		if headroom <= 0 {
			return nil
		}

		var drafts []struct {
			ID string `bson:"_id"`
		}
		err = s.findAll(ctx, colProperties,
			bson.M{"created_by": userID, "status": models.PropertyStatusDraft}, &drafts,
			options.Find().SetSort(oldestFirst).SetLimit(int64(headroom)).SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			return nil
		}
		ids := make([]string, 0, len(drafts))
		for _, d := range drafts {
			ids = append(ids, d.ID)
		}

		res, err := s.col(colProperties).UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}, "status": models.PropertyStatusDraft},
			bson.M{"$set": bson.M{"status": models.PropertyStatusActive}})
		if err != nil {
			return err
		}
		activated = int(res.ModifiedCount)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return activated, nil
}
