package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visualizer-backend/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps records in a MongoDB collection. Conditional writes use the
// status in the update filter, which MongoDB applies atomically per document.
type MongoStore struct {
	Coll    *mongo.Collection
	Timeout time.Duration
	now     func() time.Time
}

func NewMongoStore(coll *mongo.Collection, timeout time.Duration) *MongoStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoStore{Coll: coll, Timeout: timeout, now: time.Now}
}

type visualizationDoc struct {
	ID                   string     `bson:"_id"`
	UserID               string     `bson:"user_id"`
	ConversationID       string     `bson:"conversation_id"`
	MessageID            string     `bson:"message_id"`
	Prompt               string     `bson:"prompt"`
	Voice                string     `bson:"voice,omitempty"`
	Status               string     `bson:"status"`
	Script               string     `bson:"script,omitempty"`
	AudioURL             string     `bson:"audio_url,omitempty"`
	AudioDurationSeconds float64    `bson:"audio_duration_seconds,omitempty"`
	Code                 string     `bson:"code,omitempty"`
	VideoURL             string     `bson:"video_url,omitempty"`
	CombinedVideoURL     string     `bson:"combined_video_url,omitempty"`
	ErrorMessage         string     `bson:"error_message,omitempty"`
	ClaimedAt            *time.Time `bson:"claimed_at,omitempty"`
	Version              int        `bson:"version"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func toDoc(v *models.Visualization) visualizationDoc {
	return visualizationDoc{
		ID:                   v.ID.String(),
		UserID:               v.UserID,
		ConversationID:       v.ConversationID,
		MessageID:            v.MessageID,
		Prompt:               v.Prompt,
		Voice:                v.Voice,
		Status:               string(v.Status),
		Script:               v.Script,
		AudioURL:             v.AudioURL,
		AudioDurationSeconds: v.AudioDurationSeconds,
		Code:                 v.Code,
		VideoURL:             v.VideoURL,
		CombinedVideoURL:     v.CombinedVideoURL,
		ErrorMessage:         v.ErrorMessage,
		ClaimedAt:            v.ClaimedAt,
		Version:              v.Version,
		CreatedAt:            v.CreatedAt,
		UpdatedAt:            v.UpdatedAt,
	}
}

func (d visualizationDoc) model() (*models.Visualization, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("visualization id %q: %w", d.ID, err)
	}
	status, err := models.ParseStatus(d.Status)
	if err != nil {
		return nil, fmt.Errorf("visualization %s: %w", d.ID, err)
	}
	return &models.Visualization{
		ID:                   id,
		UserID:               d.UserID,
		ConversationID:       d.ConversationID,
		MessageID:            d.MessageID,
		Prompt:               d.Prompt,
		Voice:                d.Voice,
		Status:               status,
		Script:               d.Script,
		AudioURL:             d.AudioURL,
		AudioDurationSeconds: d.AudioDurationSeconds,
		Code:                 d.Code,
		VideoURL:             d.VideoURL,
		CombinedVideoURL:     d.CombinedVideoURL,
		ErrorMessage:         d.ErrorMessage,
		ClaimedAt:            d.ClaimedAt,
		Version:              d.Version,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}, nil
}

// EnsureIndexes creates the indexes List and Stalled rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	_, err := s.Coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, v *models.Visualization) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	prepareNew(v, s.now().UTC())
	if _, err := s.Coll.InsertOne(ctx, toDoc(v)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert visualization: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var doc visualizationDoc
	err := s.Coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (s *MongoStore) List(ctx context.Context, q ListQuery) ([]*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	filter := bson.M{"user_id": q.UserID}
	if q.ConversationID != "" {
		filter["conversation_id"] = q.ConversationID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(q.limit()))

	return s.find(ctx, filter, opts)
}

func (s *MongoStore) Claim(ctx context.Context, id uuid.UUID, status models.Status, expiredBefore time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	now := s.now().UTC()
	filter := bson.M{
		"_id":    id.String(),
		"status": string(status),
		"$or":    leaseExpired(expiredBefore),
	}
	update := bson.M{
		"$set": bson.M{"claimed_at": now, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	result, err := s.Coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	return s.matched(ctx, result, id)
}

func (s *MongoStore) Transition(ctx context.Context, id uuid.UUID, from, to models.Status, a models.Artifacts) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// An update pipeline so $ifNull can keep artifacts write-once.
	set := bson.D{
		{Key: "status", Value: string(to)},
		{Key: "updated_at", Value: s.now().UTC()},
		{Key: "version", Value: bson.D{{Key: "$add", Value: bson.A{"$version", 1}}}},
	}
	for _, f := range []struct {
		field string
		value interface{}
		set   bool
	}{
		{"script", a.Script, a.Script != ""},
		{"audio_url", a.AudioURL, a.AudioURL != ""},
		{"audio_duration_seconds", a.AudioDurationSeconds, a.AudioDurationSeconds > 0},
		{"code", a.Code, a.Code != ""},
		{"video_url", a.VideoURL, a.VideoURL != ""},
		{"combined_video_url", a.CombinedVideoURL, a.CombinedVideoURL != ""},
	} {
		if f.set {
			set = append(set, bson.E{Key: f.field, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + f.field, bson.D{{Key: "$literal", Value: f.value}}}}}})
		}
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		{{Key: "$unset", Value: "claimed_at"}},
	}
	result, err := s.Coll.UpdateOne(ctx, bson.M{"_id": id.String(), "status": string(from)}, update)
	if err != nil {
		return err
	}
	return s.matched(ctx, result, id)
}

func (s *MongoStore) Fail(ctx context.Context, id uuid.UUID, from models.Status, message string) error {
	if err := checkTransition(from, models.StatusFailed); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":        string(models.StatusFailed),
			"error_message": message,
			"updated_at":    s.now().UTC(),
		},
		"$unset": bson.M{"claimed_at": ""},
		"$inc":   bson.M{"version": 1},
	}
	result, err := s.Coll.UpdateOne(ctx, bson.M{"_id": id.String(), "status": string(from)}, update)
	if err != nil {
		return err
	}
	return s.matched(ctx, result, id)
}

func (s *MongoStore) Stalled(ctx context.Context, updatedBefore time.Time, expired LeaseCutoffs, limit int) ([]*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	filter := bson.M{
		"status":     bson.M{"$nin": []string{string(models.StatusCompleted), string(models.StatusFailed)}},
		"updated_at": bson.M{"$lt": updatedBefore},
		"$or":        stalledLeases(expired),
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.Coll.Database().Client().Ping(ctx, nil)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Visualization, error) {
	cur, err := s.Coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []visualizationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]*models.Visualization, 0, len(docs))
	for _, d := range docs {
		v, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MongoStore) matched(ctx context.Context, result *mongo.UpdateResult, id uuid.UUID) error {
	if result.MatchedCount > 0 {
		return nil
	}
	n, err := s.Coll.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// leaseExpired matches a missing, null or expired claimed_at.
func stalledLeases(expired LeaseCutoffs) bson.A {
	clauses := bson.A{bson.M{"claimed_at": nil}}
	for _, status := range expired.statuses() {
		clauses = append(clauses, bson.M{"status": string(status), "claimed_at": bson.M{"$lt": expired[status]}})
	}
	return clauses
}

func leaseExpired(expiredBefore time.Time) bson.A {
	return bson.A{
		bson.M{"claimed_at": nil},
		bson.M{"claimed_at": bson.M{"$lt": expiredBefore}},
	}
}
