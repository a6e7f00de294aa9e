// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 呼び出し側が正確なメッセージを描画できるよう、失敗した前提条件と対象キーを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, not_found, store_unavailable, conflict
	Action   string // ユーザー向け対処方法
	Key      string // 失敗の対象となった識別キー（該当する場合）
	Err      error  // 原因エラー（インフラ障害の場合）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// エラーカテゴリ
const (
	// CategoryValidation は入力形状の誤り。呼び出し側の責任で、リトライしない。
	CategoryValidation = "validation"
	// CategoryNotFound は参照先の識別情報・予約が存在しない。
	CategoryNotFound = "not_found"
	// CategoryStoreUnavailable は一時的なインフラ障害。呼び出し側でバックオフ付きリトライが可能。
	CategoryStoreUnavailable = "store_unavailable"
	// CategoryConflict は一意キーの重複。
	CategoryConflict = "conflict"
)

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidKey         = "INVALID_KEY"
	ErrCodeInvalidSchedule    = "INVALID_SCHEDULE"
	ErrCodeUnknownPatient     = "UNKNOWN_PATIENT"
	ErrCodeUnknownClinician   = "UNKNOWN_CLINICIAN"
	ErrCodeUnknownIdentity    = "UNKNOWN_IDENTITY"
	ErrCodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	ErrCodeDuplicateHabit     = "DUPLICATE_HABIT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodePurgeNotPlanned    = "PURGE_NOT_PLANNED"
)

// IsCategory はエラーチェーン内のAPIErrorが指定カテゴリかを判定する。
func IsCategory(err error, category string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

// IsCode はエラーチェーン内のAPIErrorが指定コードかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidKeyError は識別キーの形状エラーを生成する。
func NewInvalidKeyError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKey,
		Message:  fmt.Sprintf("識別キーは数字のみで指定してください: %q", key),
		Category: CategoryValidation,
		Action:   "国民ID（数字のみ）を入力してください。",
		Key:      key,
	}
}

// NewInvalidScheduleError は予約日時が不正または過去の場合のエラーを生成する。
func NewInvalidScheduleError(when, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("予約日時が不正です: %s (%s)", when, reason),
		Category: CategoryValidation,
		Action:   "未来の日時を YYYY-MM-DD HH:MM 形式で指定してください。",
	}
}

// NewUnknownPatientError は患者が存在しない場合のエラーを生成する。
func NewUnknownPatientError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownPatient,
		Message:  fmt.Sprintf("患者が見つかりません: %s", key),
		Category: CategoryNotFound,
		Action:   "患者として登録済みの国民IDを指定してください。",
		Key:      key,
	}
}

// NewUnknownClinicianError は医師が存在しない場合のエラーを生成する。
func NewUnknownClinicianError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownClinician,
		Message:  fmt.Sprintf("医師が見つかりません: %s", key),
		Category: CategoryNotFound,
		Action:   "医師として登録済みの国民IDを指定してください。",
		Key:      key,
	}
}

// NewUnknownIdentityError はフォロー関係のどちら側が存在しないかを示すエラーを生成する。
// sideは "clinician" または "patient"。
func NewUnknownIdentityError(side, key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownIdentity,
		Message:  fmt.Sprintf("%s が見つかりません: %s", side, key),
		Category: CategoryNotFound,
		Action:   "医師は登録済みの患者のみフォローできます。",
		Key:      key,
	}
}

// NewIdentityNotFoundError は識別情報が存在しない場合のエラーを生成する。
func NewIdentityNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("登録情報が見つかりません: %s", key),
		Category: CategoryNotFound,
		Action:   "国民IDを確認してください。",
		Key:      key,
	}
}

// NewStoreUnavailableError はストアに到達できない場合のエラーを生成する。
// storeには "identity", "ephemeral", "relationship" などのストア名を指定する。
func NewStoreUnavailableError(store string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("%s ストアに接続できません", store),
		Category: CategoryStoreUnavailable,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewDuplicateIdentityError は同じ国民IDが登録済みの場合のエラーを生成する。
func NewDuplicateIdentityError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  fmt.Sprintf("この国民IDは既に登録されています: %s", key),
		Category: CategoryConflict,
		Action:   "ログインするか、別の国民IDを指定してください。",
		Key:      key,
	}
}

// NewDuplicateHabitError は同日の生活習慣記録が既に存在する場合のエラーを生成する。
func NewDuplicateHabitError(key, day string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateHabit,
		Message:  fmt.Sprintf("%s の記録は既に存在します", day),
		Category: CategoryConflict,
		Action:   "生活習慣の記録は1日1件までです。",
		Key:      key,
	}
}

// NewInvalidCredentialsError は認証情報が一致しない場合のエラーを生成する。
func NewInvalidCredentialsError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "国民IDまたはパスワードが正しくありません。",
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
		Key:      key,
	}
}

// NewPurgeNotPlannedError は削除計画なしでエッジ削除が要求された場合のエラーを生成する。
func NewPurgeNotPlannedError() *APIError {
	return &APIError{
		Code:     ErrCodePurgeNotPlanned,
		Message:  "削除計画が指定されていません。",
		Category: CategoryValidation,
		Action:   "先に削除計画を作成し、内容を確認してから実行してください。",
	}
}
