package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthService owns the token-session lifecycle: credential verification,
// token issuance, session open/close/rotate and the denylist on access jtis.
// Every step of the sign-in sequence short-circuits the rest; a session row
// is never persisted for tokens that were not issued.
type AuthService struct {
	jwtMgr      *security.JWTManager
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	denylist    DenylistCache
	abuseGuard  AuthAbuseGuard
	logger      *slog.Logger

	accessTTL   time.Duration
	refreshTTL  time.Duration
	maxSessions int
}

func NewAuthService(
	jwtMgr *security.JWTManager,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	denylist DenylistCache,
	logger *slog.Logger,
	accessTTL, refreshTTL time.Duration,
	maxSessions int,
) *AuthService {
	return &AuthService{
		jwtMgr:      jwtMgr,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		denylist:    denylist,
		logger:      logger,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		maxSessions: maxSessions,
	}
}

// WithAbuseGuard enables failed-attempt throttling on the signin path.
func (s *AuthService) WithAbuseGuard(guard AuthAbuseGuard) *AuthService {
	s.abuseGuard = guard
	return s
}

// VerifyCredentials looks the user up by login and checks the password.
// Unknown logins and wrong passwords collapse into ErrInvalidCredentials.
func (s *AuthService) VerifyCredentials(username, password string) (*domain.User, error) {
	user, err := s.userRepo.FindByLogin(username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("credential lookup failed", "error", err)
		return nil, ErrSessionStore
	}
	if !security.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// SignIn runs the full login sequence: consult the abuse guard, verify
// credentials, enforce the concurrent-session bound, mint the pair, then
// open session + history in one transaction.
func (s *AuthService) SignIn(ctx context.Context, username, password, userAgent, clientIP string) (*TokenPair, error) {
	if s.abuseGuard != nil {
		cooldown, err := s.abuseGuard.Check(ctx, AuthAbuseScopeLogin, username, clientIP)
		if err != nil {
			s.logger.Error("abuse guard check failed", "error", err)
		} else if cooldown > 0 {
			observability.RecordAuthSignIn("cooldown")
			return nil, ErrCooldownActive
		}
	}

	user, err := s.VerifyCredentials(username, password)
	if err != nil {
		if s.abuseGuard != nil && errors.Is(err, ErrInvalidCredentials) {
			if _, gerr := s.abuseGuard.RegisterFailure(ctx, AuthAbuseScopeLogin, username, clientIP); gerr != nil {
				s.logger.Error("abuse guard register failed", "error", gerr)
			}
		}
		observability.RecordAuthSignIn("invalid_credentials")
		return nil, err
	}
	if s.abuseGuard != nil {
		if err := s.abuseGuard.Reset(ctx, AuthAbuseScopeLogin, username, clientIP); err != nil {
			s.logger.Error("abuse guard reset failed", "error", err)
		}
	}

	active, err := s.sessionRepo.CountActive(user.ID)
	if err != nil {
		s.logger.Error("count active sessions failed", "user_id", user.ID, "error", err)
		observability.RecordAuthSignIn("error")
		return nil, ErrSessionStore
	}
	if active >= int64(s.maxSessions) {
		observability.RecordAuthSignIn("too_many_sessions")
		return nil, ErrTooManySessions
	}

	access, refresh, jti, err := s.jwtMgr.SignPair(user.ID, user.Login, s.accessTTL, s.refreshTTL)
	if err != nil {
		observability.RecordAuthSignIn("error")
		return nil, err
	}

	err = s.sessionRepo.Open(user.ID, userAgent, jti, time.Now().Add(s.refreshTTL))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveSession) {
			observability.RecordAuthSignIn("duplicate_session")
			return nil, err
		}
		s.logger.Error("open session failed", "user_id", user.ID, "error", err)
		observability.RecordAuthSignIn("error")
		return nil, ErrSessionStore
	}

	observability.RecordAuthSignIn("success")
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout denylists the presented access token for its remaining lifetime and
// closes the device's session. A missing session is a logged no-op; calling
// logout twice is not an error.
func (s *AuthService) Logout(ctx context.Context, claims *security.Claims, userAgent string) error {
	userID, err := claims.SubjectID()
	if err != nil {
		return ErrInvalidToken
	}
	if err := s.denylist.Deny(ctx, claims.ID, claims.RemainingTTL(time.Now())); err != nil {
		s.logger.Error("denylist write failed", "jti", claims.ID, "error", err)
		observability.RecordAuthLogout("error")
		return ErrSessionStore
	}
	closed, err := s.sessionRepo.Close(userID, userAgent, claims.ID)
	if err != nil {
		s.logger.Error("close session failed", "user_id", userID, "error", err)
		observability.RecordAuthLogout("error")
		return ErrSessionStore
	}
	if !closed {
		s.logger.Info("logout without matching active session", "user_id", userID, "user_agent", userAgent)
	}
	observability.RecordAuthLogout("success")
	return nil
}

// Refresh exchanges a valid refresh token for a fresh pair, rotating the
// device's session onto the new jti.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, userAgent string) (*TokenPair, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrWrongTokenType) {
			observability.RecordAuthRefresh("wrong_token_type")
			return nil, err
		}
		observability.RecordAuthRefresh("invalid")
		return nil, ErrInvalidToken
	}
	userID, err := claims.SubjectID()
	if err != nil {
		observability.RecordAuthRefresh("invalid")
		return nil, ErrInvalidToken
	}

	session, err := s.sessionRepo.FindActiveByJTI(claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthRefresh("invalid")
			return nil, ErrInvalidToken
		}
		s.logger.Error("session lookup failed", "jti", claims.ID, "error", err)
		observability.RecordAuthRefresh("error")
		return nil, ErrSessionStore
	}
	if session.UserID != userID || session.UserAgent != userAgent {
		observability.RecordAuthRefresh("invalid")
		return nil, ErrInvalidToken
	}

	access, refresh, newJTI, err := s.jwtMgr.SignPair(userID, claims.Subject, s.accessTTL, s.refreshTTL)
	if err != nil {
		observability.RecordAuthRefresh("error")
		return nil, err
	}
	err = s.sessionRepo.Rotate(userID, userAgent, claims.ID, newJTI, time.Now().Add(s.refreshTTL))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthRefresh("invalid")
			return nil, ErrInvalidToken
		}
		s.logger.Error("rotate session failed", "user_id", userID, "error", err)
		observability.RecordAuthRefresh("error")
		return nil, ErrSessionStore
	}
	observability.RecordAuthRefresh("success")
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ChangePassword validates the old-password confirmation, replaces the hash
// and deactivates every session of the user. All validation branches fail
// with the same generic error so the response can't be used as an oracle.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, repeatedOldPassword, newPassword string) error {
	if oldPassword != repeatedOldPassword || newPassword == oldPassword {
		return ErrPasswordMismatch
	}
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrPasswordMismatch
		}
		s.logger.Error("user lookup failed", "user_id", userID, "error", err)
		return ErrSessionStore
	}
	if !security.VerifyPassword(user.PasswordHash, oldPassword) {
		return ErrPasswordMismatch
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(userID, hash); err != nil {
		s.logger.Error("password update failed", "user_id", userID, "error", err)
		return ErrSessionStore
	}
	closed, err := s.sessionRepo.CloseAll(userID)
	if err != nil {
		s.logger.Error("close all sessions failed", "user_id", userID, "error", err)
		return ErrSessionStore
	}
	s.logger.Info("password changed, sessions invalidated", "user_id", userID, "sessions_closed", closed)
	return nil
}

// IsDenylisted reports whether the access jti has been revoked.
func (s *AuthService) IsDenylisted(ctx context.Context, jti string) (bool, error) {
	return s.denylist.IsDenied(ctx, jti)
}

// LoginHistory returns a reverse-chronological page of the user's login
// audit trail.
func (s *AuthService) LoginHistory(userID uuid.UUID, page, pageSize int) (repository.PageResult[domain.LoginHistory], error) {
	return s.sessionRepo.ListHistory(userID, repository.PageRequest{Page: page, PageSize: pageSize})
}
