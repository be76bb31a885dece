package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

type mongoSessionDoc struct {
	ID          string                  `bson:"_id"`
	Shop        string                  `bson:"shop"`
	AccessToken string                  `bson:"access_token"`
	Scope       string                  `bson:"scope"`
	Expires     *time.Time              `bson:"expires,omitempty"`
	IsOnline    bool                    `bson:"is_online"`
	User        *shopify.AssociatedUser `bson:"user,omitempty"`
	UpdatedAt   time.Time               `bson:"updated_at"`
}

// Mongo persists sessions in a collection keyed by session id.
type Mongo struct {
	col *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{col: db.Collection("sessions")}
}

func (s *Mongo) Get(ctx context.Context, id string) (*shopify.Session, error) {
	var doc mongoSessionDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	return &shopify.Session{
		ID:          doc.ID,
		Shop:        doc.Shop,
		AccessToken: doc.AccessToken,
		Scope:       doc.Scope,
		Expires:     doc.Expires,
		IsOnline:    doc.IsOnline,
		User:        doc.User,
	}, nil
}

func (s *Mongo) Put(ctx context.Context, sess *shopify.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	doc := mongoSessionDoc{
		ID:          sess.ID,
		Shop:        sess.Shop,
		AccessToken: sess.AccessToken,
		Scope:       sess.Scope,
		Expires:     sess.Expires,
		IsOnline:    sess.IsOnline,
		User:        sess.User,
		UpdatedAt:   time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.col.ReplaceOne(ctx, bson.M{"_id": sess.ID}, doc, opts); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Mongo) Delete(ctx context.Context, id string) error {
	if _, err := s.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ shopify.SessionStore = (*Mongo)(nil)
