package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/auth"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// usernamePattern keeps usernames safe to put in a URL path segment.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// invalidCredentials is deliberately the same message whether the username
// or the password was wrong.
const invalidCredentials = "invalid username or password"

// IdentityService owns accounts and everything that proves who someone is.
//
// DEPENDENCIES:
//   - users      repository.UserRepository → the identity store
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - tokens     *auth.TokenService        → session and reset JWTs
//   - ledger     auth.ResetLedger          → makes reset tokens single-use
type IdentityService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	ledger    auth.ResetLedger
	logger    *slog.Logger
	options
}

func NewIdentityService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	ledger auth.ResetLedger,
	logger *slog.Logger,
	opts ...Option,
) *IdentityService {
	return &IdentityService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		ledger:    ledger,
		logger:    orDiscard(logger),
		options:   buildOptions(opts),
	}
}

// AuthResult bundles the user and the session token issued for them, so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register validates the input, hashes the password and creates the account.
//
// Uniqueness of username and email is NOT pre-checked here. The storage
// UNIQUE constraints reject the insert and the repository reports
// apperror.ErrDuplicateKey naming the field that collided.
func (s *IdentityService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	s.metrics.Registered("password")
	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// VerifyCredential reports whether plaintext is username's password.
//
// TIMING:
// An unknown username still pays for one bcrypt comparison (against a
// throwaway hash), so response time doesn't reveal which usernames exist.
// Accounts without a password (GitHub-only) never verify.
func (s *IdentityService) VerifyCredential(ctx context.Context, username, plaintext string) (*model.User, bool, error) {
	user, found, err := s.FindByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if !found {
		s.passwords.Burn(plaintext)
		return nil, false, nil
	}

	if err := s.passwords.Verify(user.PasswordHash, plaintext); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("verifying credential for user %s: %w", user.ID, err)
	}
	return user, true, nil
}

// Login verifies the credential and issues a session token.
// A wrong username and a wrong password produce the same ErrUnauthorized.
func (s *IdentityService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, ok, err := s.VerifyCredential(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	s.metrics.Login("password", ok)
	if !ok {
		s.logger.Info("login rejected", slog.String("username", strings.TrimSpace(username)))
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	return s.issueSession(user)
}

func (s *IdentityService) issueSession(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing session for user %s: %w", user.ID, err)
	}
	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// FindByUsername returns (nil, false, nil) when there is no such user.
func (s *IdentityService) FindByUsername(ctx context.Context, username string) (*model.User, bool, error) {
	return found(s.users.GetByUsername(ctx, strings.TrimSpace(username)))
}

// FindByEmail returns (nil, false, nil) when there is no such user.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*model.User, bool, error) {
	return found(s.users.GetByEmail(ctx, strings.TrimSpace(email)))
}

// GetByID returns (nil, false, nil) when there is no such user.
func (s *IdentityService) GetByID(ctx context.Context, id string) (*model.User, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	return found(s.users.GetByID(ctx, id))
}

// found turns a repository lookup into the "absence is not an error" shape.
func found(user *model.User, err error) (*model.User, bool, error) {
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}
	return user, true, nil
}

// UpdateProfile changes the user's username and about-me text.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID, username, aboutMe string) (*model.User, error) {
	username = strings.TrimSpace(username)
	aboutMe = strings.TrimSpace(aboutMe)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(aboutMe) > model.MaxAboutMeLength {
		return nil, apperror.ValidationFailed("aboutMe",
			fmt.Sprintf("about me must be %d characters or less", model.MaxAboutMeLength))
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	user.Username = username
	user.AboutMe = aboutMe
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	s.logger.Info("profile updated", slog.String("userID", user.ID))
	return user, nil
}

// TouchLastSeen records that userID just did something.
func (s *IdentityService) TouchLastSeen(ctx context.Context, userID string) error {
	if err := s.users.TouchLastSeen(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("touching last seen: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token for the account with this email.
//
// An unknown email is ok=false with no error, so the caller can give the same
// answer ("if that address is registered, a link is on its way") either way.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, email string) (string, *model.User, bool, error) {
	user, ok, err := s.FindByEmail(ctx, email)
	if err != nil || !ok {
		return "", nil, false, err
	}

	token, err := s.tokens.IssueResetToken(user.ID, s.resetTTL)
	if err != nil {
		return "", nil, false, fmt.Errorf("requesting password reset: %w", err)
	}

	s.metrics.PasswordReset("requested")
	s.logger.Info("password reset requested", slog.String("userID", user.ID))
	return token, user, true, nil
}

// VerifyResetToken reports the user a reset token belongs to.
//
// Expired, tampered, already-used and orphaned (user deleted) tokens all
// return ok=false and look the same to the caller. Only a storage failure is
// an error.
func (s *IdentityService) VerifyResetToken(ctx context.Context, token string) (*model.User, bool, error) {
	user, _, ok, err := s.checkResetToken(ctx, token)
	return user, ok, err
}

func (s *IdentityService) checkResetToken(ctx context.Context, token string) (*model.User, auth.ResetClaims, bool, error) {
	claims, ok := s.tokens.VerifyResetToken(token)
	if !ok {
		return nil, claims, false, nil
	}

	spent, err := s.ledger.Spent(ctx, claims.TokenID)
	if err != nil {
		return nil, claims, false, fmt.Errorf("verifying reset token: %w", err)
	}
	if spent {
		return nil, claims, false, nil
	}

	user, found, err := s.GetByID(ctx, claims.UserID)
	if err != nil || !found {
		return nil, claims, false, err
	}
	return user, claims, true, nil
}

// ResetPassword sets a new password if token is valid, and spends the token.
// It returns false for any token VerifyResetToken would reject, and for a
// token that another request spent first.
func (s *IdentityService) ResetPassword(ctx context.Context, token, newPassword string) (bool, error) {
	user, claims, ok, err := s.checkResetToken(ctx, token)
	if err != nil {
		return false, err
	}
	if !ok {
		s.metrics.PasswordReset("rejected")
		return false, nil
	}

	if err := validatePassword(newPassword); err != nil {
		return false, err
	}

	first, err := s.ledger.Consume(ctx, claims.TokenID, claims.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("resetting password: %w", err)
	}
	if !first {
		s.metrics.PasswordReset("rejected")
		return false, nil
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return false, fmt.Errorf("resetting password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return false, fmt.Errorf("resetting password: %w", err)
	}

	s.metrics.PasswordReset("completed")
	s.logger.Info("password reset", slog.String("userID", user.ID))
	return true, nil
}

// LoginWithGitHub signs in the account behind a GitHub identity.
//
// RESOLUTION ORDER:
//  1. an account already linked to this GitHub ID
//  2. an account with the same email, which gets linked now
//  3. a new password-less account named after the GitHub login
//     (suffixed with the GitHub ID if that username is taken)
func (s *IdentityService) LoginWithGitHub(ctx context.Context, identity *auth.GitHubIdentity) (*AuthResult, error) {
	if identity == nil || identity.ID == 0 {
		return nil, apperror.ValidationFailed("github", "GitHub identity is missing an id")
	}

	user, err := s.users.GetByGitHubID(ctx, identity.ID)
	switch {
	case err == nil:
		s.metrics.Login("github", true)
		return s.issueSession(user)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("github login: %w", err)
	}

	if identity.Email != "" {
		existing, ok, err := s.FindByEmail(ctx, identity.Email)
		if err != nil {
			return nil, fmt.Errorf("github login: %w", err)
		}
		if ok {
			if err := s.users.LinkGitHub(ctx, existing.ID, identity.ID); err != nil {
				return nil, fmt.Errorf("github login: linking account: %w", err)
			}
			ghID := identity.ID
			existing.GitHubID = &ghID
			s.logger.Info("github account linked",
				slog.String("userID", existing.ID),
				slog.Int64("githubID", identity.ID),
			)
			s.metrics.Login("github", true)
			return s.issueSession(existing)
		}
	}

	created, err := s.createFromGitHub(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("github login: %w", err)
	}
	s.metrics.Registered("github")
	s.metrics.Login("github", true)
	return s.issueSession(created)
}

func (s *IdentityService) createFromGitHub(ctx context.Context, identity *auth.GitHubIdentity) (*model.User, error) {
	ghID := identity.ID
	idStr := strconv.FormatInt(ghID, 10)

	email := identity.Email
	if email == "" {
		// GitHub's own no-reply form; unique per account.
		email = idStr + "+" + identity.Login + "@users.noreply.github.com"
	}

	candidates := []string{identity.Login, identity.Login + "-" + idStr}
	var lastErr error
	for _, username := range candidates {
		if validateUsername(username) != nil {
			username = "github-" + idStr
		}
		user := &model.User{
			Username:  username,
			Email:     email,
			GitHubID:  &ghID,
			CreatedAt: s.now(),
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.Info("user registered via github",
				slog.String("userID", user.ID),
				slog.String("username", user.Username),
			)
			return user, nil
		}

		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrDuplicateKey) || appErr.Field != "username" {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// DeleteAccount removes the user, their posts and every follow edge touching them.
func (s *IdentityService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	s.logger.Info("account deleted", slog.String("userID", userID))
	return nil
}

// === VALIDATION ===

func validateUsername(username string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", model.MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username",
			"username may only contain letters, digits, '.', '-' and '_'")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > model.MaxEmailLength {
		return apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", model.MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.ValidationFailed("email", "email address is not valid")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return apperror.ValidationFailed("password", "password is required")
	}
	if len(password) > 72 {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}
