package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
)

type stubUserRepository struct {
	users    map[int64]*models.User
	countErr error
}

func newStubUserRepository(users ...*models.User) *stubUserRepository {
	repo := &stubUserRepository{users: make(map[int64]*models.User)}
	for _, u := range users {
		repo.users[u.TelegramID] = u
	}
	return repo
}

func (s *stubUserRepository) CreateOrUpdate(ctx context.Context, user *models.User) error {
	existing, ok := s.users[user.TelegramID]
	if !ok {
		clone := *user
		clone.Role = models.RoleUser
		s.users[user.TelegramID] = &clone
		return nil
	}
	existing.Username = user.Username
	existing.FirstName = user.FirstName
	return nil
}

func (s *stubUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	user, ok := s.users[telegramID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrUserNotFound, telegramID)
	}
	clone := *user
	return &clone, nil
}

func (s *stubUserRepository) UpdateLastActive(ctx context.Context, telegramID int64) error {
	return nil
}

func (s *stubUserRepository) Approve(ctx context.Context, telegramID int64, grantedBy int64) error {
	user, ok := s.users[telegramID]
	if !ok {
		user = &models.User{TelegramID: telegramID}
		s.users[telegramID] = user
	}
	if user.Role != models.RoleOwner {
		user.Role = models.RoleApproved
		user.GrantedBy = grantedBy
	}
	return nil
}

func (s *stubUserRepository) Revoke(ctx context.Context, telegramID int64) error {
	user, ok := s.users[telegramID]
	if !ok || user.Role != models.RoleApproved {
		return repository.ErrUserNotFound
	}
	user.Role = models.RoleUser
	return nil
}

func (s *stubUserRepository) SetOwner(ctx context.Context, telegramID int64) error {
	user, ok := s.users[telegramID]
	if !ok {
		user = &models.User{TelegramID: telegramID}
		s.users[telegramID] = user
	}
	user.Role = models.RoleOwner
	return nil
}

func (s *stubUserRepository) ListAuthorized(ctx context.Context) ([]*models.User, error) {
	var result []*models.User
	for _, u := range s.users {
		if u.IsAuthorized() {
			result = append(result, u)
		}
	}
	return result, nil
}

func (s *stubUserRepository) CountByRole(ctx context.Context, role string) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	var n int64
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *stubUserRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func TestRegisterOrUpdateUserDefaultsToRegularUser(t *testing.T) {
	repo := newStubUserRepository()
	svc := NewUserService(repo)

	user, err := svc.RegisterOrUpdateUser(context.Background(), &TelegramUserInfo{TelegramID: 10, Username: "alice", FirstName: "Alice"})
	if err != nil {
		t.Fatalf("RegisterOrUpdateUser returned error: %v", err)
	}
	if user.Role != models.RoleUser {
		t.Fatalf("expected role %q, got %q", models.RoleUser, user.Role)
	}
	if user.Username != "alice" {
		t.Fatalf("expected username alice, got %q", user.Username)
	}
}

func TestClaimOwnerIfVacant(t *testing.T) {
	repo := newStubUserRepository(&models.User{TelegramID: 10, Role: models.RoleUser})
	svc := NewUserService(repo)
	ctx := context.Background()

	claimed, err := svc.ClaimOwnerIfVacant(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimOwnerIfVacant returned error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first user to claim ownership")
	}

	claimed, err = svc.ClaimOwnerIfVacant(ctx, 20)
	if err != nil {
		t.Fatalf("ClaimOwnerIfVacant returned error: %v", err)
	}
	if claimed {
		t.Fatalf("second user must not claim ownership")
	}
	if repo.users[20] != nil {
		t.Fatalf("second user should not be created")
	}
}

func TestClaimOwnerIfVacantPropagatesCountError(t *testing.T) {
	repo := newStubUserRepository()
	repo.countErr = errors.New("mongo down")
	svc := NewUserService(repo)

	if _, err := svc.ClaimOwnerIfVacant(context.Background(), 10); err == nil {
		t.Fatalf("expected error when owner count fails")
	}
}

func TestApproveUserRequiresOwner(t *testing.T) {
	repo := newStubUserRepository(
		&models.User{TelegramID: 1, Role: models.RoleApproved},
		&models.User{TelegramID: 2, Role: models.RoleUser},
	)
	svc := NewUserService(repo)

	err := svc.ApproveUser(context.Background(), 2, 1)
	if err == nil || !strings.Contains(err.Error(), "Owner") {
		t.Fatalf("expected owner-only error, got %v", err)
	}
	if repo.users[2].Role != models.RoleUser {
		t.Fatalf("target role should be unchanged")
	}
}

func TestApproveUserAllowsUnknownTarget(t *testing.T) {
	repo := newStubUserRepository(&models.User{TelegramID: 1, Role: models.RoleOwner})
	svc := NewUserService(repo)

	if err := svc.ApproveUser(context.Background(), 99, 1); err != nil {
		t.Fatalf("ApproveUser returned error: %v", err)
	}
	if repo.users[99].Role != models.RoleApproved || repo.users[99].GrantedBy != 1 {
		t.Fatalf("expected user 99 approved by 1, got %+v", repo.users[99])
	}
}

func TestApproveUserAlreadyAuthorized(t *testing.T) {
	repo := newStubUserRepository(
		&models.User{TelegramID: 1, Role: models.RoleOwner},
		&models.User{TelegramID: 2, Role: models.RoleApproved},
	)
	svc := NewUserService(repo)

	if err := svc.ApproveUser(context.Background(), 2, 1); err == nil {
		t.Fatalf("expected error for already approved user")
	}
}

func TestRevokeUser(t *testing.T) {
	repo := newStubUserRepository(
		&models.User{TelegramID: 1, Role: models.RoleOwner},
		&models.User{TelegramID: 2, Role: models.RoleApproved},
		&models.User{TelegramID: 3, Role: models.RoleOwner},
	)
	svc := NewUserService(repo)
	ctx := context.Background()

	if err := svc.RevokeUser(ctx, 2, 1); err != nil {
		t.Fatalf("RevokeUser returned error: %v", err)
	}
	if repo.users[2].Role != models.RoleUser {
		t.Fatalf("expected user 2 revoked, got role %q", repo.users[2].Role)
	}

	if err := svc.RevokeUser(ctx, 3, 1); err == nil {
		t.Fatalf("expected error when revoking an owner")
	}
	if err := svc.RevokeUser(ctx, 2, 1); err == nil {
		t.Fatalf("expected error when revoking a non-whitelisted user")
	}
}

func TestCheckAuthorizedPermission(t *testing.T) {
	repo := newStubUserRepository(
		&models.User{TelegramID: 1, Role: models.RoleOwner},
		&models.User{TelegramID: 2, Role: models.RoleApproved},
		&models.User{TelegramID: 3, Role: models.RoleUser},
	)
	svc := NewUserService(repo)
	ctx := context.Background()

	for id, want := range map[int64]bool{1: true, 2: true, 3: false} {
		got, err := svc.CheckAuthorizedPermission(ctx, id)
		if err != nil {
			t.Fatalf("CheckAuthorizedPermission(%d) returned error: %v", id, err)
		}
		if got != want {
			t.Fatalf("CheckAuthorizedPermission(%d) = %v, want %v", id, got, want)
		}
	}

	if _, err := svc.CheckAuthorizedPermission(ctx, 404); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestInitOwners(t *testing.T) {
	repo := newStubUserRepository(&models.User{TelegramID: 5, Role: models.RoleApproved})
	svc := NewUserService(repo)

	if err := svc.InitOwners(context.Background(), []int64{5, 6}); err != nil {
		t.Fatalf("InitOwners returned error: %v", err)
	}
	for _, id := range []int64{5, 6} {
		if !repo.users[id].IsOwner() {
			t.Fatalf("expected user %d to be owner", id)
		}
	}
}
