package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/vidasana/internal/model"
)

// HabitsCollection は生活習慣記録を保存するコレクション名。
const HabitsCollection = "habits"

type habitDocument struct {
	ID                string    `bson:"_id"`
	IdentityKey       string    `bson:"identity_key"`
	Day               string    `bson:"day"`
	Sleep             string    `bson:"sleep"`
	Diet              string    `bson:"diet"`
	Symptoms          string    `bson:"symptoms"`
	Exercise          string    `bson:"exercise"`
	ExerciseFrequency int       `bson:"exercise_frequency"`
	Stress            int       `bson:"stress"`
	RecordedAt        time.Time `bson:"recorded_at"`
}

func (d habitDocument) toModel() *model.HabitLog {
	return &model.HabitLog{
		ID:                d.ID,
		IdentityKey:       d.IdentityKey,
		Day:               d.Day,
		Sleep:             d.Sleep,
		Diet:              d.Diet,
		Symptoms:          d.Symptoms,
		Exercise:          d.Exercise,
		ExerciseFrequency: d.ExerciseFrequency,
		Stress:            d.Stress,
		RecordedAt:        d.RecordedAt,
	}
}

// MongoHabitRepo はMongoDBを使用した生活習慣記録リポジトリ。
type MongoHabitRepo struct {
	coll *mongo.Collection
}

// NewMongoHabitRepo はMongoHabitRepoを生成する。
func NewMongoHabitRepo(db *mongo.Database) *MongoHabitRepo {
	return &MongoHabitRepo{coll: db.Collection(HabitsCollection)}
}

// Create は記録を作成する。
// (identity_key, day) のユニークインデックス違反は重複エラーとして返す。
func (r *MongoHabitRepo) Create(ctx context.Context, h *model.HabitLog) error {
	_, err := r.coll.InsertOne(ctx, habitDocument(*h))
	if mongo.IsDuplicateKeyError(err) {
		return model.NewDuplicateHabitError(h.IdentityKey, h.Day)
	}
	if err != nil {
		return fmt.Errorf("failed to create habit log: %w", err)
	}
	return nil
}

// FindByDay は指定日の記録を取得する。見つからない場合はnilを返す。
func (r *MongoHabitRepo) FindByDay(ctx context.Context, identityKey, day string) (*model.HabitLog, error) {
	var doc habitDocument
	err := r.coll.FindOne(ctx, bson.M{"identity_key": identityKey, "day": day}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find habit log: %w", err)
	}
	return doc.toModel(), nil
}

// ListByIdentity は記録をday降順で返す。
func (r *MongoHabitRepo) ListByIdentity(ctx context.Context, identityKey, from, to string) ([]*model.HabitLog, error) {
	filter := bson.M{"identity_key": identityKey}
	dayRange := bson.M{}
	if from != "" {
		dayRange["$gte"] = from
	}
	if to != "" {
		dayRange["$lte"] = to
	}
	if len(dayRange) > 0 {
		filter["day"] = dayRange
	}

	opts := options.Find().SetSort(bson.D{{Key: "day", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list habit logs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []habitDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode habit logs: %w", err)
	}

	logs := make([]*model.HabitLog, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, d.toModel())
	}
	return logs, nil
}

// compile-time interface check
var _ HabitRepository = (*MongoHabitRepo)(nil)
