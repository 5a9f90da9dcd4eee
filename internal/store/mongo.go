package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

// MongoStore keeps conversations and messages in two collections.
type MongoStore struct {
	convCol *mongo.Collection
	msgCol  *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		convCol: db.Collection("conversations"),
		msgCol:  db.Collection("messages"),
	}
}

// EnsureIndexes creates the lookup indexes used by history replay and the
// participant check. Call once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.convCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "patient_id", Value: 1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.convCol.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"patient_id": userID},
		bson.M{"doctor_id": userID},
	}}
	cur, err := s.convCol.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	stamped := *m
	stamped.ID = primitive.NewObjectID().Hex()
	stamped.CreatedAt = time.Now().UTC()
	if _, err := s.msgCol.InsertOne(ctx, stamped); err != nil {
		return nil, err
	}
	_, _ = s.convCol.UpdateOne(ctx,
		bson.M{"_id": m.ConversationID},
		bson.M{"$set": bson.M{"updated_at": stamped.CreatedAt}})
	return &stamped, nil
}

func (s *MongoStore) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.msgCol.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ClearHistory(ctx context.Context, conversationID string) error {
	_, err := s.msgCol.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}
