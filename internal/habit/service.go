// Package habit は日々の生活習慣（睡眠・食事・症状・運動・ストレス）の記録と集計を提供する。
package habit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/notify"
	"github.com/hitoshi/vidasana/internal/repository"
	"github.com/hitoshi/vidasana/internal/risk"
	"github.com/hitoshi/vidasana/internal/security"
)

const (
	dayLayout = "2006-01-02"

	// DefaultExercise は運動内容が未入力のときに保存する値。
	DefaultExercise = "No realizado"
	// DefaultStress はストレスレベルが未入力（0）のときの値。
	DefaultStress = 5

	minStress, maxStress       = 1, 10
	minFrequency, maxFrequency = 0, 7
)

// AlertSymptoms は記録時に警告メールを送る症状のキーワード。
// 照合は risk.Normalize 後の部分一致で行う。
var AlertSymptoms = []string{
	"dolor intenso", "fiebre", "dificultad respirar", "mareo", "desmayo", "pérdida conciencia",
	"severe pain", "fever", "difficulty breathing", "dizziness", "fainting", "loss of consciousness",
}

// Input は生活習慣の記録要求。
type Input struct {
	IdentityKey       string
	Sleep             string // 例: "8 horas"
	Diet              string
	Symptoms          string
	Exercise          string
	ExerciseFrequency int
	Stress            int
}

// Service は生活習慣記録のサービス層。
type Service struct {
	identities   repository.IdentityRepository
	habits       repository.HabitRepository
	notifier     notify.Notifier
	sanitizer    security.TextSanitizer
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	storeTimeout time.Duration
	location     *time.Location
	now          func() time.Time
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// locationは記録日（1日1件の境界）を決めるタイムゾーン。
func NewService(
	identities repository.IdentityRepository,
	habits repository.HabitRepository,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	storeTimeout time.Duration,
	location *time.Location,
) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if location == nil {
		location = time.Local
	}
	return &Service{
		identities:   identities,
		habits:       habits,
		notifier:     notifier,
		sanitizer:    security.NewTextSanitizer(),
		metrics:      mc,
		logger:       logger,
		storeTimeout: storeTimeout,
		location:     location,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// RecordHabit は本日分の生活習慣を記録する。
// 運動頻度は0〜7、ストレスは1〜10に丸める。同じ日の記録が既にあればDUPLICATE_HABITを返す。
// 症状に警告キーワードが含まれる場合は本人に警告メールを送る（失敗はログのみ）。
func (s *Service) RecordHabit(ctx context.Context, in Input) (*model.HabitLog, error) {
	if !model.IsValidKey(in.IdentityKey) {
		return nil, model.NewInvalidKeyError(in.IdentityKey)
	}

	entry := &model.HabitLog{
		IdentityKey:       in.IdentityKey,
		Sleep:             s.sanitizer.Sanitize(in.Sleep),
		Diet:              s.sanitizer.Sanitize(in.Diet),
		Symptoms:          s.sanitizer.Sanitize(in.Symptoms),
		Exercise:          s.sanitizer.Sanitize(in.Exercise),
		ExerciseFrequency: clamp(in.ExerciseFrequency, minFrequency, maxFrequency),
		Stress:            in.Stress,
	}
	if entry.Exercise == "" {
		entry.Exercise = DefaultExercise
	}
	if entry.Stress == 0 {
		entry.Stress = DefaultStress
	}
	entry.Stress = clamp(entry.Stress, minStress, maxStress)

	hours, err := SleepHours(entry.Sleep)
	if err != nil || hours < 0 || hours > 24 {
		return nil, model.NewValidationError("sleep", "睡眠時間は0〜24の数値で始めてください（例: 8 horas）")
	}

	identity, err := s.findIdentity(ctx, in.IdentityKey)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(in.IdentityKey)
	}

	now := s.now()
	entry.ID = s.newID()
	entry.Day = now.In(s.location).Format(dayLayout)
	entry.RecordedAt = now

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	existing, err := s.habits.FindByDay(sctx, in.IdentityKey, entry.Day)
	cancel()
	if err != nil {
		return nil, model.NewStoreUnavailableError("habit", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateHabitError(in.IdentityKey, entry.Day)
	}

	sctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
	err = s.habits.Create(sctx, entry)
	cancel()
	if err != nil {
		if model.IsCode(err, model.ErrCodeDuplicateHabit) {
			return nil, err
		}
		s.logger.Error("生活習慣の記録に失敗しました",
			slog.String("identity_key", in.IdentityKey),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError("habit", err)
	}

	s.logger.Info("生活習慣を記録しました",
		slog.String("identity_key", in.IdentityKey),
		slog.String("day", entry.Day),
	)

	if HasAlertSymptom(entry.Symptoms) {
		s.sendSymptomAlert(ctx, identity, entry.Symptoms)
	}
	return entry, nil
}

// ListHabits は記録を日付の降順で返す。from/toは YYYY-MM-DD で、空文字列は制限なし。
func (s *Service) ListHabits(ctx context.Context, key, from, to string) ([]*model.HabitLog, error) {
	if !model.IsValidKey(key) {
		return nil, model.NewInvalidKeyError(key)
	}
	if err := validateDay("from", from); err != nil {
		return nil, err
	}
	if err := validateDay("to", to); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	logs, err := s.habits.ListByIdentity(sctx, key, from, to)
	if err != nil {
		return nil, model.NewStoreUnavailableError("habit", err)
	}
	return logs, nil
}

// HasAlertSymptom は症状に警告キーワードが含まれるかを返す。
func HasAlertSymptom(symptoms string) bool {
	normalized := risk.Normalize(symptoms)
	if normalized == "" {
		return false
	}
	for _, kw := range AlertSymptoms {
		if strings.Contains(normalized, risk.Normalize(kw)) {
			return true
		}
	}
	return false
}

// SleepHours は睡眠の記述の先頭の数値を時間として返す。"7.5 horas" は7.5になる。
// NaNと無限大はエラーにする。
func SleepHours(sleep string) (float64, error) {
	fields := strings.Fields(sleep)
	if len(fields) == 0 {
		return 0, fmt.Errorf("sleep is empty")
	}
	hours, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sleep hours %q: %w", fields[0], err)
	}
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, fmt.Errorf("sleep hours must be finite: %q", fields[0])
	}
	return hours, nil
}

func (s *Service) sendSymptomAlert(ctx context.Context, identity *model.Identity, symptoms string) {
	if identity.Email == "" {
		s.logger.Warn("警告の送信先が未登録です", slog.String("identity_key", identity.Key))
		return
	}

	body := fmt.Sprintf("Se han detectado síntomas que requieren atención:\n%s\n\n"+
		"Por favor, contacte a su médico si los síntomas persisten.", symptoms)

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.notifier.Send(sctx, identity.Email, "Alerta: Síntomas Reportados", body); err != nil {
		s.metrics.RecordNotificationFailure()
		s.logger.Error("症状警告の送信に失敗しました",
			slog.String("identity_key", identity.Key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) findIdentity(ctx context.Context, key string) (*model.Identity, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	identity, err := s.identities.FindByKey(sctx, key)
	if err != nil {
		return nil, model.NewStoreUnavailableError("identity", err)
	}
	return identity, nil
}

func validateDay(field, day string) error {
	if day == "" {
		return nil
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return model.NewValidationError(field, "YYYY-MM-DD形式で入力してください")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
