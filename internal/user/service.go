// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
	"github.com/hitoshi/tsudoi/internal/security"
)

// maxUsernameAttempts はユーザー名衝突時に試す連番の上限。
const maxUsernameAttempts = 100

// ErrInvalidProfile はIdPのプロフィールにprovider_user_idが含まれないことを表す。
var ErrInvalidProfile = errors.New("oauth profile has no provider user id")

// Service はユーザー管理のサービス層。
// OAuthプロフィールからのユーザー特定・作成とプロフィール取得を提供する。
type Service struct {
	userRepo     repository.UserRepository
	identityRepo repository.IdentityRepository
	sanitizer    security.ProfileSanitizer
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identityRepo repository.IdentityRepository,
	sanitizer security.ProfileSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewProfileSanitizer()
	}
	return &Service{
		userRepo:     userRepo,
		identityRepo: identityRepo,
		sanitizer:    sanitizer,
		logger:       logger,
		now:          time.Now,
	}
}

// ResolveOrCreate はIdPのプロフィールに対応するユーザーを返す。
// 解決順序: identity一致 → メールアドレス一致（identityを追加で紐付け）→ 新規作成
func (s *Service) ResolveOrCreate(ctx context.Context, profile model.OAuthProfile) (*model.User, error) {
	if profile.ProviderUserID == "" {
		return nil, ErrInvalidProfile
	}

	user, err := s.findByIdentity(ctx, profile)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// メールアドレスはIdP側で検証済みのものだけが渡される
	if profile.Email != "" {
		user, err = s.userRepo.FindByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user != nil {
			identity := s.newIdentity(user.ID, profile)
			if err := s.identityRepo.Create(ctx, identity); err != nil {
				return nil, fmt.Errorf("IdPの紐付けに失敗しました: %w", err)
			}
			s.logger.Info("既存ユーザーにIdPを紐付けました",
				slog.String("user_id", user.ID),
				slog.String("provider", profile.Provider),
			)
			return user, nil
		}
	}

	return s.create(ctx, profile)
}

// FindByID は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDエラーを返す。
func (s *Service) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) findByIdentity(ctx context.Context, profile model.OAuthProfile) (*model.User, error) {
	identity, err := s.identityRepo.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("identityの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, nil
	}
	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

func (s *Service) create(ctx context.Context, profile model.OAuthProfile) (*model.User, error) {
	username, err := s.uniqueUsername(ctx, s.sanitizer.Username(profile.Username))
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     profile.Email,
		Username:  username,
		AvatarURL: s.sanitizer.AvatarURL(profile.AvatarURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := s.newIdentity(user.ID, profile)

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		// 同じidentityで同時にログインした場合は先に作成された方を返す
		if existing, findErr := s.findByIdentity(ctx, profile); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

// uniqueUsername は使用済みであれば連番を付与した未使用のユーザー名を返す。
func (s *Service) uniqueUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 2; i <= maxUsernameAttempts+1; i++ {
		exists, err := s.userRepo.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("ユーザー名の確認に失敗しました: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		suffix := strconv.Itoa(i)
		trimmed := base
		if len(trimmed)+len(suffix) > security.MaxUsernameLength {
			trimmed = trimmed[:security.MaxUsernameLength-len(suffix)]
		}
		candidate = trimmed + suffix
	}
	return "", fmt.Errorf("ユーザー名を決定できませんでした: %s", base)
}

func (s *Service) newIdentity(userID string, profile model.OAuthProfile) *model.Identity {
	return &model.Identity{
		ID:             uuid.NewString(),
		UserID:         userID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      s.now(),
	}
}
