// Package appointment は診療予約の登録とリマインダーの設定を提供する。
// 予約はドキュメントストアに永続化し、リマインダーはTTL付きストアに書き込む。
package appointment

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/notify"
	"github.com/hitoshi/vidasana/internal/repository"
	"github.com/hitoshi/vidasana/internal/security"
)

// ReminderPrefix はリマインダーエントリのキー接頭辞。
const ReminderPrefix = "reminder:"

// acceptedLayouts は予約日時として受け付ける書式。タイムゾーンのない書式はスケジューラの地域で解釈する。
var acceptedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ReminderKey は患者キーと予約日時からリマインダーのキーを組み立てる。
// 日時はUTCのRFC3339で表現する。
func ReminderKey(patientKey string, at time.Time) string {
	return ReminderPrefix + patientKey + ":" + at.UTC().Format(time.RFC3339)
}

// ParseWhen は予約日時の文字列を解釈する。
func ParseWhen(when string, loc *time.Location) (time.Time, error) {
	for _, layout := range acceptedLayouts {
		if t, err := time.ParseInLocation(layout, when, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", when)
}

// Config はスケジューラの設定を保持する。
type Config struct {
	ReminderTTL  time.Duration  // リマインダーの有効期間（デフォルト: 10分）
	StoreTimeout time.Duration  // ストア呼び出し1回あたりのタイムアウト（デフォルト: 5秒）
	Location     *time.Location // タイムゾーンのない日時の解釈に使う地域（デフォルト: time.Local）
}

// Scheduler は予約の登録・一覧・リマインダー取得を行う。
type Scheduler struct {
	identities   repository.IdentityRepository
	appointments repository.AppointmentRepository
	ephemeral    repository.EphemeralStore
	notifier     notify.Notifier
	sanitizer    security.TextSanitizer
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	cfg          Config

	now   func() time.Time
	newID func() string
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(
	identities repository.IdentityRepository,
	appointments repository.AppointmentRepository,
	ephemeral repository.EphemeralStore,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReminderTTL <= 0 {
		cfg.ReminderTTL = 10 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		identities:   identities,
		appointments: appointments,
		ephemeral:    ephemeral,
		notifier:     notifier,
		sanitizer:    security.NewTextSanitizer(),
		metrics:      mc,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// ScheduleAppointment は予約を登録し、予約IDを返す。
//
// 前提条件は次の順に検証する。
//  1. whenが解釈でき、現在時刻より後であること（INVALID_SCHEDULE）
//  2. patientKeyが患者として登録済みであること（UNKNOWN_PATIENT）
//  3. clinicianKeyが医師として登録済みであること（UNKNOWN_CLINICIAN）
//
// 永続化の後にリマインダーの書き込みと確認メールの送信を行う。
// この2つの失敗はログとメトリクスに記録し、呼び出し側には返さない。
func (s *Scheduler) ScheduleAppointment(ctx context.Context, patientKey, clinicianKey, when, specialty string) (string, error) {
	at, err := ParseWhen(when, s.cfg.Location)
	if err != nil {
		return "", model.NewInvalidScheduleError(when, "形式が不正です")
	}
	if !at.After(s.now()) {
		return "", model.NewInvalidScheduleError(when, "過去の日時です")
	}

	patient, err := s.findIdentity(ctx, patientKey)
	if err != nil {
		return "", err
	}
	if patient == nil || patient.Role != model.RolePatient {
		return "", model.NewUnknownPatientError(patientKey)
	}

	clinician, err := s.findIdentity(ctx, clinicianKey)
	if err != nil {
		return "", err
	}
	if clinician == nil || clinician.Role != model.RoleClinician {
		return "", model.NewUnknownClinicianError(clinicianKey)
	}

	specialty = s.sanitizer.Sanitize(specialty)
	if specialty == "" {
		return "", model.NewValidationError("specialty", "必須項目です")
	}

	appt := &model.Appointment{
		ID:           s.newID(),
		PatientKey:   patientKey,
		ClinicianKey: clinicianKey,
		ScheduledAt:  at,
		Specialty:    specialty,
		Status:       model.AppointmentStatusScheduled,
		CreatedAt:    s.now(),
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.appointments.Create(sctx, appt)
	cancel()
	if err != nil {
		s.logger.Error("予約の保存に失敗しました",
			slog.String("identity_key", patientKey),
			slog.String("error", err.Error()),
		)
		return "", model.NewStoreUnavailableError("appointment", err)
	}

	s.metrics.RecordAppointmentScheduled()
	logger := s.logger.With(
		slog.String("appointment_id", appt.ID),
		slog.String("identity_key", patientKey),
	)
	logger.Info("予約を登録しました",
		slog.String("clinician_key", clinicianKey),
		slog.Time("scheduled_at", at),
	)

	message := reminderMessage(appt, clinician, s.cfg.Location)
	s.writeReminder(ctx, logger, appt, message)
	s.sendConfirmation(ctx, logger, patient, message)

	return appt.ID, nil
}

// ListAppointments は患者の予約を予約日時の昇順で返すイテレータを返す。
// 読み出しはrangeで要求されたときに行い、途中でbreakするとカーソルを閉じる。
// 同じイテレータを複数回rangeすると毎回先頭から読み直す。
// ストアのタイムアウトはカーソルを開く処理と1件ごとの読み出しに適用し、
// 呼び出し側が要素を処理している時間には適用しない。
// ストア障害は最後の要素としてエラーを渡す。
func (s *Scheduler) ListAppointments(ctx context.Context, patientKey string) iter.Seq2[model.Appointment, error] {
	return func(yield func(model.Appointment, error) bool) {
		octx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		cursor, err := s.appointments.OpenByPatient(octx, patientKey)
		cancel()
		if err != nil {
			yield(model.Appointment{}, model.NewStoreUnavailableError("appointment", err))
			return
		}
		defer s.closeCursor(ctx, cursor)

		for {
			appt, ok, err := s.nextAppointment(ctx, cursor)
			if err != nil {
				yield(model.Appointment{}, model.NewStoreUnavailableError("appointment", err))
				return
			}
			if !ok || !yield(appt, nil) {
				return
			}
		}
	}
}

func (s *Scheduler) nextAppointment(ctx context.Context, cursor repository.AppointmentCursor) (model.Appointment, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return cursor.Next(sctx)
}

// closeCursor は呼び出し元のcontextがキャンセル済みでもカーソルを閉じる。
func (s *Scheduler) closeCursor(ctx context.Context, cursor repository.AppointmentCursor) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := cursor.Close(cctx); err != nil {
		s.logger.Warn("予約カーソルのクローズに失敗しました", slog.String("error", err.Error()))
	}
}

// GetReminder は予約のリマインダー本文を返す。期限切れまたは未設定の場合はokがfalseになる。
func (s *Scheduler) GetReminder(ctx context.Context, patientKey, when string) (string, bool, error) {
	at, err := ParseWhen(when, s.cfg.Location)
	if err != nil {
		return "", false, model.NewInvalidScheduleError(when, "形式が不正です")
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	msg, ok, err := s.ephemeral.Get(sctx, ReminderKey(patientKey, at))
	if err != nil {
		return "", false, model.NewStoreUnavailableError("ephemeral", err)
	}
	return msg, ok, nil
}

func (s *Scheduler) findIdentity(ctx context.Context, key string) (*model.Identity, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	identity, err := s.identities.FindByKey(sctx, key)
	if err != nil {
		return nil, model.NewStoreUnavailableError("identity", err)
	}
	return identity, nil
}

func (s *Scheduler) writeReminder(ctx context.Context, logger *slog.Logger, appt *model.Appointment, message string) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.ephemeral.SetWithTTL(sctx, ReminderKey(appt.PatientKey, appt.ScheduledAt), message, s.cfg.ReminderTTL); err != nil {
		s.metrics.RecordReminderFailure()
		logger.Error("リマインダーの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) sendConfirmation(ctx context.Context, logger *slog.Logger, patient *model.Identity, message string) {
	if patient.Email == "" {
		logger.Warn("確認メールの送信先が未登録です")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.notifier.Send(sctx, patient.Email, "Turno Médico Confirmado", message); err != nil {
		s.metrics.RecordNotificationFailure()
		logger.Error("確認メールの送信に失敗しました", slog.String("error", err.Error()))
	}
}

func reminderMessage(appt *model.Appointment, clinician *model.Identity, loc *time.Location) string {
	return fmt.Sprintf("Recordatorio: Turno de %s\nFecha: %s\nDr/a. %s",
		appt.Specialty,
		appt.ScheduledAt.In(loc).Format("2006-01-02 15:04"),
		clinician.DisplayName(),
	)
}
