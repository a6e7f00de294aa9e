package habit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/vidasana/internal/model"
)

// --- モック定義 ---

type mockIdentityRepo struct {
	identities map[string]*model.Identity
	err        error
}

func (m *mockIdentityRepo) FindByKey(_ context.Context, key string) (*model.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.identities[key], nil
}

func (m *mockIdentityRepo) Insert(context.Context, *model.Identity) (string, error) { return "", nil }

func (m *mockIdentityRepo) AppendHistory(context.Context, string, model.HistoryEntry) error {
	return nil
}

func (m *mockIdentityRepo) Ping(context.Context) error { return nil }

type mockHabitRepo struct {
	createFn    func(ctx context.Context, log *model.HabitLog) error
	findByDayFn func(ctx context.Context, key, day string) (*model.HabitLog, error)
	listFn      func(ctx context.Context, key, from, to string) ([]*model.HabitLog, error)
	created     []*model.HabitLog
}

func (m *mockHabitRepo) Create(ctx context.Context, log *model.HabitLog) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, log); err != nil {
			return err
		}
	}
	m.created = append(m.created, log)
	return nil
}

func (m *mockHabitRepo) FindByDay(ctx context.Context, key, day string) (*model.HabitLog, error) {
	if m.findByDayFn != nil {
		return m.findByDayFn(ctx, key, day)
	}
	return nil, nil
}

func (m *mockHabitRepo) ListByIdentity(ctx context.Context, key, from, to string) ([]*model.HabitLog, error) {
	if m.listFn != nil {
		return m.listFn(ctx, key, from, to)
	}
	return nil, nil
}

type mockNotifier struct {
	subjects []string
	err      error
}

func (m *mockNotifier) Send(_ context.Context, _, subject, _ string) error {
	m.subjects = append(m.subjects, subject)
	return m.err
}

// --- ヘルパー ---

func newTestService(habits *mockHabitRepo, notifier *mockNotifier, buf *bytes.Buffer) (*Service, *mockIdentityRepo) {
	ids := &mockIdentityRepo{identities: map[string]*model.Identity{
		"40123456": {Key: "40123456", Role: model.RolePatient, Email: "lucia@example.com"},
	}}
	s := NewService(ids, habits, notifier, nil, slog.New(slog.NewJSONHandler(buf, nil)), time.Second, time.UTC)
	s.now = func() time.Time { return time.Date(2025, 10, 1, 22, 30, 0, 0, time.UTC) }
	s.newID = func() string { return "habit-1" }
	return s, ids
}

func baseInput() Input {
	return Input{
		IdentityKey:       "40123456",
		Sleep:             "8 horas",
		Diet:              "Dieta balanceada",
		Symptoms:          "Leve dolor de cabeza",
		Exercise:          "Caminata 30 minutos",
		ExerciseFrequency: 3,
		Stress:            6,
	}
}

// --- RecordHabit ---

func TestRecordHabit_Success(t *testing.T) {
	var buf bytes.Buffer
	habits := &mockHabitRepo{}
	notifier := &mockNotifier{}
	s, _ := newTestService(habits, notifier, &buf)

	got, err := s.RecordHabit(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Day != "2025-10-01" || got.ID != "habit-1" {
		t.Errorf("Day=%q ID=%q", got.Day, got.ID)
	}
	if len(habits.created) != 1 {
		t.Fatal("expected Create to be called")
	}
	if len(notifier.subjects) != 0 {
		t.Error("no alert expected for mild symptoms")
	}
}

// 記録日は設定したタイムゾーンで決まる
func TestRecordHabit_DayUsesLocation(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestService(&mockHabitRepo{}, &mockNotifier{}, &buf)
	s.location = time.FixedZone("UTC+3", 3*60*60)

	got, err := s.RecordHabit(context.Background(), baseInput())
	if err != nil {
		t.Fatal(err)
	}
	if got.Day != "2025-10-02" {
		t.Errorf("Day = %q, want 2025-10-02", got.Day)
	}
}

func TestRecordHabit_Clamping(t *testing.T) {
	tests := []struct {
		name         string
		freq, stress int
		wantFreq     int
		wantStress   int
		exercise     string
		wantExercise string
	}{
		{"範囲内", 3, 6, 3, 6, "Yoga", "Yoga"},
		{"上限超過", 12, 15, 7, 10, "Yoga", "Yoga"},
		{"下限未満", -2, -4, 0, 1, "Yoga", "Yoga"},
		{"未入力", 0, 0, 0, DefaultStress, "", DefaultExercise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s, _ := newTestService(&mockHabitRepo{}, &mockNotifier{}, &buf)

			in := baseInput()
			in.ExerciseFrequency, in.Stress, in.Exercise = tt.freq, tt.stress, tt.exercise
			got, err := s.RecordHabit(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}
			if got.ExerciseFrequency != tt.wantFreq || got.Stress != tt.wantStress || got.Exercise != tt.wantExercise {
				t.Errorf("got freq=%d stress=%d exercise=%q", got.ExerciseFrequency, got.Stress, got.Exercise)
			}
		})
	}
}

func TestRecordHabit_InvalidSleep(t *testing.T) {
	for _, sleep := range []string{"", "ocho horas", "25 horas", "-1 horas", "NaN horas", "nan", "Inf horas", "-Inf", "1e400 horas"} {
		t.Run(sleep, func(t *testing.T) {
			var buf bytes.Buffer
			habits := &mockHabitRepo{}
			s, _ := newTestService(habits, &mockNotifier{}, &buf)

			in := baseInput()
			in.Sleep = sleep
			_, err := s.RecordHabit(context.Background(), in)
			if !model.IsCategory(err, model.CategoryValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(habits.created) != 0 {
				t.Error("nothing should be written")
			}
		})
	}
}

func TestRecordHabit_UnknownIdentity(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestService(&mockHabitRepo{}, &mockNotifier{}, &buf)

	in := baseInput()
	in.IdentityKey = "49999999"
	_, err := s.RecordHabit(context.Background(), in)
	if !model.IsCode(err, model.ErrCodeIdentityNotFound) {
		t.Fatalf("expected IDENTITY_NOT_FOUND, got %v", err)
	}
}

func TestRecordHabit_OnePerDay(t *testing.T) {
	var buf bytes.Buffer
	habits := &mockHabitRepo{findByDayFn: func(_ context.Context, key, day string) (*model.HabitLog, error) {
		return &model.HabitLog{IdentityKey: key, Day: day}, nil
	}}
	s, _ := newTestService(habits, &mockNotifier{}, &buf)

	_, err := s.RecordHabit(context.Background(), baseInput())
	if !model.IsCode(err, model.ErrCodeDuplicateHabit) {
		t.Fatalf("expected DUPLICATE_HABIT, got %v", err)
	}
	if len(habits.created) != 0 {
		t.Error("Create must not be called")
	}
}

// 確認後に別のリクエストが先に書き込んだ場合もユニークインデックス違反として重複を返す
func TestRecordHabit_RaceOnCreate(t *testing.T) {
	var buf bytes.Buffer
	habits := &mockHabitRepo{createFn: func(_ context.Context, log *model.HabitLog) error {
		return model.NewDuplicateHabitError(log.IdentityKey, log.Day)
	}}
	s, _ := newTestService(habits, &mockNotifier{}, &buf)

	_, err := s.RecordHabit(context.Background(), baseInput())
	if !model.IsCategory(err, model.CategoryConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRecordHabit_StoreErrors(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		var buf bytes.Buffer
		s, ids := newTestService(&mockHabitRepo{}, &mockNotifier{}, &buf)
		ids.err = errors.New("down")
		if _, err := s.RecordHabit(context.Background(), baseInput()); !model.IsCategory(err, model.CategoryStoreUnavailable) {
			t.Fatalf("expected store_unavailable, got %v", err)
		}
	})
	t.Run("habit", func(t *testing.T) {
		var buf bytes.Buffer
		habits := &mockHabitRepo{createFn: func(context.Context, *model.HabitLog) error { return errors.New("down") }}
		s, _ := newTestService(habits, &mockNotifier{}, &buf)
		if _, err := s.RecordHabit(context.Background(), baseInput()); !model.IsCategory(err, model.CategoryStoreUnavailable) {
			t.Fatalf("expected store_unavailable, got %v", err)
		}
	})
}

func TestRecordHabit_AlertSymptoms(t *testing.T) {
	var buf bytes.Buffer
	notifier := &mockNotifier{err: errors.New("smtp down")}
	s, _ := newTestService(&mockHabitRepo{}, notifier, &buf)

	in := baseInput()
	in.Symptoms = "Tuve FIEBRE y mareos"
	if _, err := s.RecordHabit(context.Background(), in); err != nil {
		t.Fatalf("notification failure must not fail the record: %v", err)
	}
	if len(notifier.subjects) != 1 || notifier.subjects[0] != "Alerta: Síntomas Reportados" {
		t.Errorf("subjects = %v", notifier.subjects)
	}
	if !strings.Contains(buf.String(), "smtp down") {
		t.Errorf("expected failure in logs, got %s", buf.String())
	}
}

func TestHasAlertSymptom(t *testing.T) {
	tests := []struct {
		symptoms string
		want     bool
	}{
		{"Pérdida  de conciencia breve", false},
		{"perdida conciencia", true},
		{"Pérdida conciencia", true},
		{"Dolor intenso en el pecho", true},
		{"dificultad respirar al subir escaleras", true},
		{"Difficulty breathing at night", true},
		{"Leve dolor de cabeza", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasAlertSymptom(tt.symptoms); got != tt.want {
			t.Errorf("HasAlertSymptom(%q) = %v, want %v", tt.symptoms, got, tt.want)
		}
	}
}

// --- ListHabits ---

func TestListHabits(t *testing.T) {
	var buf bytes.Buffer
	var gotFrom, gotTo string
	habits := &mockHabitRepo{listFn: func(_ context.Context, _, from, to string) ([]*model.HabitLog, error) {
		gotFrom, gotTo = from, to
		return []*model.HabitLog{{Day: "2025-10-01"}, {Day: "2025-09-30"}}, nil
	}}
	s, _ := newTestService(habits, &mockNotifier{}, &buf)

	logs, err := s.ListHabits(context.Background(), "40123456", "2025-09-24", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || gotFrom != "2025-09-24" || gotTo != "" {
		t.Errorf("logs=%d from=%q to=%q", len(logs), gotFrom, gotTo)
	}

	if _, err := s.ListHabits(context.Background(), "40123456", "24/09/2025", ""); !model.IsCategory(err, model.CategoryValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := s.ListHabits(context.Background(), "x", "", ""); !model.IsCode(err, model.ErrCodeInvalidKey) {
		t.Errorf("expected INVALID_KEY, got %v", err)
	}
}

// --- Summarize ---

func TestSummarize(t *testing.T) {
	mk := func(sleep string, stress int) *model.HabitLog { return &model.HabitLog{Sleep: sleep, Stress: stress} }

	t.Run("7件未満", func(t *testing.T) {
		logs := []*model.HabitLog{mk("8 horas", 5), mk("7 horas", 5)}
		if _, ok := Summarize(logs); ok {
			t.Error("expected ok=false")
		}
	})

	t.Run("直近7件のみ", func(t *testing.T) {
		logs := []*model.HabitLog{
			mk("8 horas", 4), mk("6 horas", 6), mk("7 horas", 5), mk("7 horas", 5),
			mk("8 horas", 4), mk("6 horas", 6), mk("7 horas", 5),
			mk("20 horas", 10), // 8件目は集計しない
		}
		sum, ok := Summarize(logs)
		if !ok {
			t.Fatal("expected ok")
		}
		if sum.Days != 7 || sum.AvgSleepHours != 7 || sum.AvgStressLevel != 5 {
			t.Errorf("summary = %+v", sum)
		}
	})

	t.Run("NaNの記録は除外されJSONに変換できる", func(t *testing.T) {
		logs := []*model.HabitLog{
			mk("NaN horas", 5), mk("8 horas", 5), mk("8 horas", 5), mk("8 horas", 5),
			mk("8 horas", 5), mk("8 horas", 5), mk("8 horas", 5),
		}
		sum, ok := Summarize(logs)
		if !ok {
			t.Fatal("expected ok")
		}
		if math.IsNaN(sum.AvgSleepHours) || sum.AvgSleepHours != 8 {
			t.Errorf("AvgSleepHours = %v, want 8", sum.AvgSleepHours)
		}
		if _, err := json.Marshal(sum); err != nil {
			t.Errorf("summary should be JSON encodable: %v", err)
		}
	})

	t.Run("解釈できない記録は除外", func(t *testing.T) {
		logs := []*model.HabitLog{
			mk("bien", 9), mk("6 horas", 2), mk("6 horas", 2), mk("6 horas", 2),
			mk("6 horas", 2), mk("6 horas", 2), mk("6 horas", 2),
		}
		sum, ok := Summarize(logs)
		if !ok {
			t.Fatal("expected ok")
		}
		if sum.Days != 6 || sum.AvgSleepHours != 6 || sum.AvgStressLevel != 2 {
			t.Errorf("summary = %+v", sum)
		}
	})
}
