package model

import "time"

// AppointmentStatus は予約の状態を表す。
type AppointmentStatus string

// AppointmentStatusScheduled はコアが付与する唯一の状態。
const AppointmentStatusScheduled AppointmentStatus = "scheduled"

// Appointment は患者と医師の診療予約を表す。
type Appointment struct {
	ID           string
	PatientKey   string
	ClinicianKey string
	ScheduledAt  time.Time
	Specialty    string
	Status       AppointmentStatus
	CreatedAt    time.Time
}

// HabitLog は1日分の生活習慣記録を表す。
// 1人につき1日1件まで。
type HabitLog struct {
	ID                string
	IdentityKey       string
	Day               string // YYYY-MM-DD
	Sleep             string // 先頭の数値を睡眠時間（時間）として解釈する。例: "8 horas"
	Diet              string
	Symptoms          string
	Exercise          string
	ExerciseFrequency int // 週あたりの運動回数（0〜7）
	Stress            int // ストレスレベル（1〜10）
	RecordedAt        time.Time
}
