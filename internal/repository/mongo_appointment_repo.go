package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/vidasana/internal/model"
)

// AppointmentsCollection は診療予約を保存するコレクション名。
const AppointmentsCollection = "appointments"

type appointmentDocument struct {
	ID           string    `bson:"_id"`
	PatientKey   string    `bson:"patient_key"`
	ClinicianKey string    `bson:"clinician_key"`
	ScheduledAt  time.Time `bson:"scheduled_at"`
	Specialty    string    `bson:"specialty"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d appointmentDocument) toModel() model.Appointment {
	return model.Appointment{
		ID:           d.ID,
		PatientKey:   d.PatientKey,
		ClinicianKey: d.ClinicianKey,
		ScheduledAt:  d.ScheduledAt,
		Specialty:    d.Specialty,
		Status:       model.AppointmentStatus(d.Status),
		CreatedAt:    d.CreatedAt,
	}
}

// MongoAppointmentRepo はMongoDBを使用した予約リポジトリ。
type MongoAppointmentRepo struct {
	coll *mongo.Collection
}

// NewMongoAppointmentRepo はMongoAppointmentRepoを生成する。
func NewMongoAppointmentRepo(db *mongo.Database) *MongoAppointmentRepo {
	return &MongoAppointmentRepo{coll: db.Collection(AppointmentsCollection)}
}

// Create は予約を作成する。
func (r *MongoAppointmentRepo) Create(ctx context.Context, a *model.Appointment) error {
	_, err := r.coll.InsertOne(ctx, appointmentDocument{
		ID:           a.ID,
		PatientKey:   a.PatientKey,
		ClinicianKey: a.ClinicianKey,
		ScheduledAt:  a.ScheduledAt,
		Specialty:    a.Specialty,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

// OpenByPatient は患者の予約をscheduled_at昇順で読み出すカーソルを開く。
func (r *MongoAppointmentRepo) OpenByPatient(ctx context.Context, patientKey string) (AppointmentCursor, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"patient_key": patientKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return &mongoAppointmentCursor{cursor: cursor}, nil
}

// mongoAppointmentCursor はmongo.CursorをAppointmentCursorとして扱う。
type mongoAppointmentCursor struct {
	cursor *mongo.Cursor
}

func (c *mongoAppointmentCursor) Next(ctx context.Context) (model.Appointment, bool, error) {
	if !c.cursor.Next(ctx) {
		if err := c.cursor.Err(); err != nil {
			return model.Appointment{}, false, fmt.Errorf("failed to iterate appointments: %w", err)
		}
		return model.Appointment{}, false, nil
	}
	var doc appointmentDocument
	if err := c.cursor.Decode(&doc); err != nil {
		return model.Appointment{}, false, fmt.Errorf("failed to decode appointment: %w", err)
	}
	return doc.toModel(), true, nil
}

func (c *mongoAppointmentCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}

// compile-time interface check
var (
	_ AppointmentRepository = (*MongoAppointmentRepo)(nil)
	_ AppointmentCursor     = (*mongoAppointmentCursor)(nil)
)
