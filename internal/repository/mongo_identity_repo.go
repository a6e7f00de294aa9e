package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/vidasana/internal/model"
)

// IdentitiesCollection は識別情報を保存するコレクション名。
const IdentitiesCollection = "identities"

// historyDocument は診療履歴1件のBSON表現。
type historyDocument struct {
	Date      string `bson:"date"`
	Diagnosis string `bson:"diagnosis"`
	Treatment string `bson:"treatment"`
}

// identityDocument は識別情報のBSON表現。
type identityDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Key          string             `bson:"key"`
	Role         string             `bson:"role"`
	FirstName    string             `bson:"first_name"`
	LastName     string             `bson:"last_name"`
	BirthDate    string             `bson:"birth_date"`
	Email        string             `bson:"email"`
	Phone        string             `bson:"phone"`
	Sex          string             `bson:"sex"`
	PasswordHash string             `bson:"password_hash"`
	History      []historyDocument  `bson:"history"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func newIdentityDocument(i *model.Identity) identityDocument {
	// $pushで追記できるよう、履歴は空でも配列として保存する（nilスライスはnullになる）
	history := make([]historyDocument, 0, len(i.History))
	for _, h := range i.History {
		history = append(history, historyDocument(h))
	}
	return identityDocument{
		Key:          i.Key,
		Role:         string(i.Role),
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		BirthDate:    i.BirthDate,
		Email:        i.Email,
		Phone:        i.Phone,
		Sex:          i.Sex,
		PasswordHash: i.PasswordHash,
		History:      history,
		CreatedAt:    i.CreatedAt,
	}
}

func (d identityDocument) toModel() *model.Identity {
	history := make([]model.HistoryEntry, 0, len(d.History))
	for _, h := range d.History {
		history = append(history, model.HistoryEntry(h))
	}
	return &model.Identity{
		Key:          d.Key,
		Role:         model.Role(d.Role),
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		BirthDate:    d.BirthDate,
		Email:        d.Email,
		Phone:        d.Phone,
		Sex:          d.Sex,
		PasswordHash: d.PasswordHash,
		History:      history,
		CreatedAt:    d.CreatedAt,
	}
}

// MongoIdentityRepo はMongoDBを使用した識別情報リポジトリ。
type MongoIdentityRepo struct {
	coll *mongo.Collection
}

// NewMongoIdentityRepo はMongoIdentityRepoを生成する。
func NewMongoIdentityRepo(db *mongo.Database) *MongoIdentityRepo {
	return &MongoIdentityRepo{coll: db.Collection(IdentitiesCollection)}
}

// FindByKey は指定キーの識別情報を取得する。見つからない場合はnilを返す。
func (r *MongoIdentityRepo) FindByKey(ctx context.Context, key string) (*model.Identity, error) {
	var doc identityDocument
	err := r.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return doc.toModel(), nil
}

// Insert は識別情報を作成する。
// keyのユニークインデックス違反は重複エラーとして返す。
func (r *MongoIdentityRepo) Insert(ctx context.Context, identity *model.Identity) (string, error) {
	res, err := r.coll.InsertOne(ctx, newIdentityDocument(identity))
	if mongo.IsDuplicateKeyError(err) {
		return "", model.NewDuplicateIdentityError(identity.Key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert identity: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// AppendHistory は診療履歴を$pushで追記する。
func (r *MongoIdentityRepo) AppendHistory(ctx context.Context, key string, entry model.HistoryEntry) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$push": bson.M{"history": historyDocument(entry)}},
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.NewIdentityNotFoundError(key)
	}
	return nil
}

// Ping はMongoDBへの疎通を確認する。
func (r *MongoIdentityRepo) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*MongoIdentityRepo)(nil)
