// Package services – AccountService
//
// AccountService registers users, issues bearer tokens on login, and manages
// the public profile (visible name, picture). Usernames are NFC-normalized on
// every entry point so that the same name typed two ways is one account.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

const (
	minUsernameRunes    = 2
	maxUsernameRunes    = 255
	maxVisibleNameRunes = 64
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
	avatarMaxSide    = 256
	maxAvatarBytes   = 5 << 20
)

// Avatar content types.
const (
	AvatarPNG  = "image/png"
	AvatarJPEG = "image/jpeg"
	AvatarGIF  = "image/gif"
)

// AccountService manages accounts and credentials.
type AccountService struct {
	DB     *gorm.DB
	Tokens *auth.Tokens

	MinPasswordLength int
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB, tokens *auth.Tokens) *AccountService {
	return &AccountService{DB: db, Tokens: tokens, MinPasswordLength: 8}
}

// Register creates an account. The visible name starts as the username.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*domain.Account, error) {
	username = domain.NormalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidRequest)
	}
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &domain.Account{
		Username:     username,
		VisibleName:  username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := repo.CreateAccount(ctx, s.DB, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return a, nil
}

// Login checks credentials and issues a bearer token.
func (s *AccountService) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	username = domain.NormalizeUsername(username)
	a, err := repo.GetAccount(ctx, s.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		return "", time.Time{}, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !auth.CheckPassword(a.PasswordHash, password) {
		return "", time.Time{}, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	}
	return s.Tokens.Issue(a.Username)
}

// ChangePassword replaces the password after verifying the current one.
func (s *AccountService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	username = domain.NormalizeUsername(username)
	a, err := repo.GetAccount(ctx, s.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: account %q", ErrNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !auth.CheckPassword(a.PasswordHash, oldPassword) {
		return fmt.Errorf("%w: current password does not match", ErrUnauthorized)
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := repo.UpdatePasswordHash(ctx, s.DB, username, hash); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// ListUsers returns every account except requester.
func (s *AccountService) ListUsers(ctx context.Context, requester string) ([]domain.Account, error) {
	out, err := repo.ListAccountsExcept(ctx, s.DB, domain.NormalizeUsername(requester))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return out, nil
}

// Exists reports whether username is registered.
func (s *AccountService) Exists(ctx context.Context, username string) (bool, error) {
	return repo.AccountExists(ctx, s.DB, domain.NormalizeUsername(username))
}

// VisibleName returns the display name of username.
func (s *AccountService) VisibleName(ctx context.Context, username string) (string, error) {
	a, err := s.get(ctx, username)
	if err != nil {
		return "", err
	}
	return a.VisibleName, nil
}

// SetVisibleName updates the display name (1–64 characters after trimming).
func (s *AccountService) SetVisibleName(ctx context.Context, username, name string) error {
	name = domain.NormalizeUsername(name)
	if name == "" || utf8.RuneCountInString(name) > maxVisibleNameRunes {
		return fmt.Errorf("%w: visible name must be 1 to %d characters", ErrInvalidRequest, maxVisibleNameRunes)
	}
	return s.update(repo.UpdateVisibleName(ctx, s.DB, domain.NormalizeUsername(username), name), username)
}

// SetAvatar stores a profile picture. PNG and JPEG images are scaled down to
// fit 256x256 and re-encoded; GIFs are kept as uploaded.
func (s *AccountService) SetAvatar(ctx context.Context, username string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: picture is empty", ErrInvalidRequest)
	}
	if len(data) > maxAvatarBytes {
		return fmt.Errorf("%w: picture exceeds %d bytes", ErrInvalidRequest, maxAvatarBytes)
	}
	out, contentType, err := processAvatar(data)
	if err != nil {
		return err
	}
	return s.update(repo.UpdateAvatar(ctx, s.DB, domain.NormalizeUsername(username), out, contentType), username)
}

// Avatar returns the stored picture and its content type; ErrNotFound when
// none is set.
func (s *AccountService) Avatar(ctx context.Context, username string) ([]byte, string, error) {
	a, err := s.get(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if len(a.Avatar) == 0 {
		return nil, "", fmt.Errorf("%w: no picture for %q", ErrNotFound, a.Username)
	}
	return a.Avatar, a.AvatarType, nil
}

// DeleteAvatar clears the profile picture.
func (s *AccountService) DeleteAvatar(ctx context.Context, username string) error {
	return s.update(repo.UpdateAvatar(ctx, s.DB, domain.NormalizeUsername(username), nil, ""), username)
}

func (s *AccountService) get(ctx context.Context, username string) (*domain.Account, error) {
	username = domain.NormalizeUsername(username)
	a, err := repo.GetAccount(ctx, s.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: account %q", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return a, nil
}

func (s *AccountService) update(err error, username string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: account %q", ErrNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (s *AccountService) validatePassword(pw string) error {
	minLen := s.MinPasswordLength
	if minLen <= 0 {
		minLen = 8
	}
	if utf8.RuneCountInString(pw) < minLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, minLen)
	}
	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidRequest, maxPasswordBytes)
	}
	return nil
}

func validateUsername(u string) error {
	n := utf8.RuneCountInString(u)
	if n < minUsernameRunes || n > maxUsernameRunes {
		return fmt.Errorf("%w: username must be %d to %d characters", ErrInvalidRequest, minUsernameRunes, maxUsernameRunes)
	}
	for _, r := range u {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: username must not contain spaces or control characters", ErrInvalidRequest)
		}
	}
	return nil
}

// processAvatar sniffs the image type and bounds PNG/JPEG pictures to
// avatarMaxSide on each side without enlarging them.
func processAvatar(data []byte) ([]byte, string, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(AvatarGIF):
		return data, AvatarGIF, nil
	case mt.Is(AvatarPNG), mt.Is(AvatarJPEG):
	default:
		return nil, "", fmt.Errorf("%w: picture must be PNG, JPEG or GIF, got %s", ErrInvalidRequest, mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: cannot decode picture: %v", ErrInvalidRequest, err)
	}
	thumb := resize.Thumbnail(avatarMaxSide, avatarMaxSide, img, resize.Lanczos3)

	var buf bytes.Buffer
	if mt.Is(AvatarPNG) {
		err = png.Encode(&buf, thumb)
		return buf.Bytes(), AvatarPNG, err
	}
	err = jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 90})
	return buf.Bytes(), AvatarJPEG, err
}
