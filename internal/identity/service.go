// Package identity は患者・医師の登録、ログイン、診療履歴の追記を提供する。
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/repository"
	"github.com/hitoshi/vidasana/internal/security"
)

// dateLayout は生年月日・履歴日付の書式。
const dateLayout = "2006-01-02"

// SessionIssuer はログイン成功時にセッションを発行する。
type SessionIssuer interface {
	IssueSession(ctx context.Context, key string) (time.Duration, error)
}

// NodeRegistrar は登録された識別情報をフォロー関係のグラフに反映する。
type NodeRegistrar interface {
	RegisterNode(ctx context.Context, identity *model.Identity) error
}

// RegisterInput は登録時の入力値。
type RegisterInput struct {
	Key       string
	Role      model.Role
	FirstName string
	LastName  string
	BirthDate string
	Email     string
	Phone     string
	Sex       string
	Password  string
}

// Registration は登録結果。セッションの発行に失敗した場合はSessionTTLが0になる。
type Registration struct {
	Identity   *model.Identity
	SessionTTL time.Duration
}

// Service は識別情報のサービス層。
type Service struct {
	repo         repository.IdentityRepository
	sessions     SessionIssuer
	graph        NodeRegistrar
	hasher       security.PasswordHasher
	sanitizer    security.TextSanitizer
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.IdentityRepository,
	sessions SessionIssuer,
	graph NodeRegistrar,
	hasher security.PasswordHasher,
	logger *slog.Logger,
	storeTimeout time.Duration,
) *Service {
	if hasher == nil {
		hasher = security.NewBcryptHasher(bcrypt.DefaultCost)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		repo:         repo,
		sessions:     sessions,
		graph:        graph,
		hasher:       hasher,
		sanitizer:    security.NewTextSanitizer(),
		logger:       logger,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Register は識別情報を登録し、セッションを発行する。
// グラフへの反映とセッション発行は登録後のベストエフォートで、失敗してもログに残すだけで登録は成功とする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	identity, err := s.buildIdentity(in)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	_, err = s.repo.Insert(sctx, identity)
	cancel()
	if err != nil {
		if model.IsCode(err, model.ErrCodeDuplicateIdentity) {
			return nil, err
		}
		s.logger.Error("識別情報の登録に失敗しました",
			slog.String("identity_key", identity.Key),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError("identity", err)
	}

	logger := s.logger.With(slog.String("identity_key", identity.Key))
	logger.Info("識別情報を登録しました", slog.String("role", string(identity.Role)))

	if s.graph != nil {
		if err := s.graph.RegisterNode(ctx, identity); err != nil {
			logger.Warn("グラフへのノード登録に失敗しました", slog.String("error", err.Error()))
		}
	}

	reg := &Registration{Identity: identity}
	if s.sessions != nil {
		ttl, err := s.sessions.IssueSession(ctx, identity.Key)
		if err != nil {
			logger.Warn("登録後のセッション発行に失敗しました", slog.String("error", err.Error()))
		} else {
			reg.SessionTTL = ttl
		}
	}
	return reg, nil
}

// Login はパスワードを照合し、セッションを発行してそのTTLを返す。
// キーが存在しない場合もパスワード不一致と同じエラーを返す。
func (s *Service) Login(ctx context.Context, key, password string) (time.Duration, error) {
	if !model.IsValidKey(key) {
		return 0, model.NewInvalidKeyError(key)
	}

	identity, err := s.find(ctx, key)
	if err != nil {
		return 0, err
	}
	if identity == nil || !s.hasher.Compare(identity.PasswordHash, password) {
		s.logger.Warn("ログインに失敗しました", slog.String("identity_key", key))
		return 0, model.NewInvalidCredentialsError(key)
	}

	ttl, err := s.sessions.IssueSession(ctx, key)
	if err != nil {
		return 0, err
	}
	return ttl, nil
}

// Get は識別情報を返す。存在しない場合はIDENTITY_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, key string) (*model.Identity, error) {
	if !model.IsValidKey(key) {
		return nil, model.NewInvalidKeyError(key)
	}
	identity, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(key)
	}
	return identity, nil
}

// AppendHistory は診療履歴を1件追記する。
// 日付はYYYY-MM-DD形式、診断名は必須。
func (s *Service) AppendHistory(ctx context.Context, key string, entry model.HistoryEntry) error {
	if !model.IsValidKey(key) {
		return model.NewInvalidKeyError(key)
	}
	if _, err := time.Parse(dateLayout, entry.Date); err != nil {
		return model.NewValidationError("date", "YYYY-MM-DD形式で入力してください")
	}
	entry.Diagnosis = s.sanitizer.Sanitize(entry.Diagnosis)
	entry.Treatment = s.sanitizer.Sanitize(entry.Treatment)
	if entry.Diagnosis == "" {
		return model.NewValidationError("diagnosis", "必須項目です")
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.AppendHistory(sctx, key, entry); err != nil {
		if model.IsCode(err, model.ErrCodeIdentityNotFound) {
			return err
		}
		s.logger.Error("診療履歴の追記に失敗しました",
			slog.String("identity_key", key),
			slog.String("error", err.Error()),
		)
		return model.NewStoreUnavailableError("identity", err)
	}

	s.logger.Info("診療履歴を追記しました",
		slog.String("identity_key", key),
		slog.String("date", entry.Date),
	)
	return nil
}

func (s *Service) buildIdentity(in RegisterInput) (*model.Identity, error) {
	if !model.IsValidKey(in.Key) {
		return nil, model.NewInvalidKeyError(in.Key)
	}
	if !in.Role.Valid() {
		return nil, model.NewValidationError("role", "patient または clinician を指定してください")
	}

	identity := &model.Identity{
		Key:       in.Key,
		Role:      in.Role,
		FirstName: s.sanitizer.Sanitize(in.FirstName),
		LastName:  s.sanitizer.Sanitize(in.LastName),
		BirthDate: s.sanitizer.Sanitize(in.BirthDate),
		Email:     s.sanitizer.Sanitize(in.Email),
		Phone:     s.sanitizer.Sanitize(in.Phone),
		Sex:       s.sanitizer.Sanitize(in.Sex),
		History:   []model.HistoryEntry{},
		CreatedAt: s.now(),
	}

	if identity.FirstName == "" {
		return nil, model.NewValidationError("first_name", "必須項目です")
	}
	if identity.LastName == "" {
		return nil, model.NewValidationError("last_name", "必須項目です")
	}
	if identity.BirthDate != "" {
		if _, err := time.Parse(dateLayout, identity.BirthDate); err != nil {
			return nil, model.NewValidationError("birth_date", "YYYY-MM-DD形式で入力してください")
		}
	}
	if identity.Email != "" {
		if err := validateEmail(identity.Email); err != nil {
			return nil, err
		}
	}
	if in.Password == "" {
		return nil, model.NewValidationError("password", "必須項目です")
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, model.NewValidationError("password", "72バイト以内で入力してください")
		}
		return nil, err
	}
	identity.PasswordHash = hashed
	return identity, nil
}

// validateEmail は表示名を含まない単一のアドレスのみを受け付ける。
func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}
	return nil
}

func (s *Service) find(ctx context.Context, key string) (*model.Identity, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	identity, err := s.repo.FindByKey(sctx, key)
	if err != nil {
		return nil, model.NewStoreUnavailableError("identity", err)
	}
	return identity, nil
}
