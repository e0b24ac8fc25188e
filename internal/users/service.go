package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opSignUp             = "users.sign_up"
	opSignIn             = "users.sign_in"
	opSignInWithFirebase = "users.sign_in_firebase"
	opSignOut            = "users.sign_out"
	opAuthenticate       = "users.authenticate"
	opCurrentUser        = "users.current_user"

	messageInvalidInput     = "Please check the email and password you entered."
	messageEmailTaken       = "An account with this email already exists."
	messageInvalidLogin     = "Incorrect email or password."
	messageSignUpFailed     = "Failed to create your account. Please try again."
	messageSignInFailed     = "Failed to sign you in. Please try again."
	messageSignOutFailed    = "Failed to sign you out. Please try again."
	messageSessionExpired   = "Your session has expired. Please sign in again."
	messageProfileFailed    = "Failed to load your account. Please try again."
	messageFirebaseDisabled = "Federated sign-in is not enabled."
	messageEmailUnverified  = "An account with this email already exists. Verify your email address with the provider or sign in with your password."
)

var (
	errMissingDatabase = errors.New("users: database connection required")
	errMissingTokens   = errors.New("users: token issuer required")
	errMissingLists    = errors.New("users: list provisioner required")
	errMissingVerifier = errors.New("users: identity verifier not configured")
	errUnverifiedEmail = errors.New("users: provider email is not verified")
)

// ListProvisioner creates the default lists of a new account.
type ListProvisioner interface {
	CreateDefaultLists(ctx context.Context, userID lists.UserID) error
}

// IdentityVerifier verifies provider ID tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.IdentityClaims, error)
}

// IDProvider issues account and session identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig describes the dependencies required for account and session management.
type ServiceConfig struct {
	Database   *gorm.DB
	Tokens     *auth.TokenIssuer
	Lists      ListProvisioner
	Verifier   IdentityVerifier
	Dispatcher *realtime.Dispatcher
	IDProvider IDProvider
	HashCost   int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages accounts, provider identities, and sessions.
type Service struct {
	db         *gorm.DB
	tokens     *auth.TokenIssuer
	lists      ListProvisioner
	verifier   IdentityVerifier
	dispatcher *realtime.Dispatcher
	ids        IDProvider
	hashCost   int
	now        func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Database == nil:
		return nil, errMissingDatabase
	case cfg.Tokens == nil:
		return nil, errMissingTokens
	case cfg.Lists == nil:
		return nil, errMissingLists
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		tokens:     cfg.Tokens,
		lists:      cfg.Lists,
		verifier:   cfg.Verifier,
		dispatcher: cfg.Dispatcher,
		ids:        ids,
		hashCost:   hashCost,
		now:        clock,
		logger:     logger,
	}, nil
}

// SignUp registers an email and password account, provisions its default lists, and
// signs it in. The account is removed again when the lists cannot be created.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (SignedInSession, error) {
	input := signUpInput{
		Email:       normalizeEmail(email),
		Password:    password,
		DisplayName: normalize(displayName),
	}
	if reason, err := validateInput(input); err != nil {
		return SignedInSession{}, s.fail(ErrInvalidInput, opSignUp, reason, messageInvalidInput, err)
	}
	normalizedEmail, name := input.Email, input.DisplayName

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", normalizedEmail).Count(&existing).Error; err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignUp, "lookup_failed", messageSignUpFailed, err)
	}
	if existing > 0 {
		return SignedInSession{}, newServiceError(ErrEmailTaken, opSignUp, "email_taken", messageEmailTaken, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignUp, "hash_failed", messageSignUpFailed, err)
	}

	account, err := s.createAccount(ctx, normalizedEmail, name, string(hash), providerPassword, normalizedEmail)
	if isUniqueViolation(err) {
		return SignedInSession{}, newServiceError(ErrEmailTaken, opSignUp, "email_taken", messageEmailTaken, err)
	}
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignUp, "create_failed", messageSignUpFailed, err)
	}
	if err := s.provisionLists(ctx, account); err != nil {
		return SignedInSession{}, s.fail(ErrProvisioning, opSignUp, "provision_failed", messageSignUpFailed, err,
			zap.String("user_id", account.UserID))
	}

	session, err := s.startSession(ctx, account)
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignUp, "session_failed", messageSignUpFailed, err)
	}
	session.Created = true
	return session, nil
}

// SignIn verifies an email and password and starts a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignedInSession, error) {
	input := signInInput{Email: normalizeEmail(email), Password: password}
	if _, err := validateInput(input); err != nil {
		return SignedInSession{}, newServiceError(ErrInvalidCredentials, opSignIn, reasonInvalidInput, messageInvalidLogin, err)
	}
	normalizedEmail := input.Email

	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SignedInSession{}, newServiceError(ErrInvalidCredentials, opSignIn, "unknown_email", messageInvalidLogin, nil)
	}
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignIn, "lookup_failed", messageSignInFailed, err)
	}
	if account.PasswordHash == "" {
		return SignedInSession{}, newServiceError(ErrInvalidCredentials, opSignIn, "no_password", messageInvalidLogin, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return SignedInSession{}, newServiceError(ErrInvalidCredentials, opSignIn, "password_mismatch", messageInvalidLogin, err)
	}

	session, err := s.startSession(ctx, account)
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignIn, "session_failed", messageSignInFailed, err)
	}
	return session, nil
}

// SignInWithFirebase verifies a Firebase ID token and signs in the linked account. Unknown
// identities with a verified email are linked to the account holding that email. Any other
// unknown identity gets a new account, unless an existing account already holds its
// unverified email, in which case the sign-in is rejected.
func (s *Service) SignInWithFirebase(ctx context.Context, idToken string) (SignedInSession, error) {
	if s.verifier == nil {
		return SignedInSession{}, newServiceError(ErrInvalidInput, opSignInWithFirebase, "verifier_disabled", messageFirebaseDisabled, errMissingVerifier)
	}
	claims, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return SignedInSession{}, newServiceError(ErrInvalidCredentials, opSignInWithFirebase, "invalid_token", messageInvalidLogin, err)
	}

	account, created, err := s.resolveFederatedAccount(ctx, claims)
	if errors.Is(err, errUnverifiedEmail) {
		return SignedInSession{}, newServiceError(ErrEmailTaken, opSignInWithFirebase, "email_unverified", messageEmailUnverified, err)
	}
	if isUniqueViolation(err) {
		return SignedInSession{}, newServiceError(ErrEmailTaken, opSignInWithFirebase, "email_taken", messageEmailTaken, err)
	}
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignInWithFirebase, "resolve_failed", messageSignInFailed, err)
	}
	if created {
		if err := s.provisionLists(ctx, account); err != nil {
			return SignedInSession{}, s.fail(ErrProvisioning, opSignInWithFirebase, "provision_failed", messageSignUpFailed, err,
				zap.String("user_id", account.UserID))
		}
	}

	session, err := s.startSession(ctx, account)
	if err != nil {
		return SignedInSession{}, s.fail(ErrUnavailable, opSignInWithFirebase, "session_failed", messageSignInFailed, err)
	}
	session.Created = created
	return session, nil
}

// SignOut revokes the session. Revoking an unknown session is a no-op.
func (s *Service) SignOut(ctx context.Context, principal Principal) error {
	result := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", principal.SessionID, principal.UserID).
		Delete(&Session{})
	if result.Error != nil {
		return s.fail(ErrUnavailable, opSignOut, "delete_failed", messageSignOutFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publishSession(principal.UserID)
	}
	return nil
}

// Authenticate validates a session token and confirms its session is still active.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return Principal{}, newServiceError(ErrUnauthenticated, opAuthenticate, "invalid_token", messageSessionExpired, err)
	}
	var session Session
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", claims.SessionID(), claims.Subject).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, newServiceError(ErrUnauthenticated, opAuthenticate, "session_revoked", messageSessionExpired, nil)
	}
	if err != nil {
		return Principal{}, s.fail(ErrUnavailable, opAuthenticate, "lookup_failed", messageSignInFailed, err)
	}
	if !session.ExpiresAt.After(s.now().UTC()) {
		return Principal{}, newServiceError(ErrUnauthenticated, opAuthenticate, "session_expired", messageSessionExpired, nil)
	}
	return Principal{
		UserID:      claims.Subject,
		SessionID:   claims.SessionID(),
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
	}, nil
}

// CurrentUser returns the profile of the account.
func (s *Service) CurrentUser(ctx context.Context, userID string) (Profile, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(ErrNotFound, opCurrentUser, "not_found", messageProfileFailed, err)
	}
	if err != nil {
		return Profile{}, s.fail(ErrUnavailable, opCurrentUser, "lookup_failed", messageProfileFailed, err)
	}
	return account.profile(), nil
}

func (s *Service) createAccount(ctx context.Context, email, displayName, passwordHash, provider, subject string) (Account, error) {
	userID, err := s.ids.NewID()
	if err != nil {
		return Account{}, err
	}
	now := s.now().UTC()
	account := Account{
		UserID:       userID,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	identity := Identity{
		Provider:   provider,
		Subject:    subject,
		UserID:     userID,
		Email:      email,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			return err
		}
		return tx.Create(&identity).Error
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) resolveFederatedAccount(ctx context.Context, claims auth.IdentityClaims) (Account, bool, error) {
	provider := normalize(claims.Provider)
	subject := normalize(claims.Subject)
	claimedEmail := normalizeEmail(claims.Email)
	email := ""
	if claims.EmailVerified {
		email = claimedEmail
	}
	now := s.now().UTC()

	var identity Identity
	err := s.db.WithContext(ctx).Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	if err == nil {
		var account Account
		if err := s.db.WithContext(ctx).Where("user_id = ?", identity.UserID).Take(&account).Error; err != nil {
			return Account{}, false, err
		}
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Update("last_seen_at", now).Error
		return account, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, false, err
	}

	if email != "" {
		var account Account
		err := s.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
		if err == nil {
			linked := Identity{Provider: provider, Subject: subject, UserID: account.UserID, Email: email, LastSeenAt: now, CreatedAt: now}
			if err := s.db.WithContext(ctx).Create(&linked).Error; err != nil {
				return Account{}, false, err
			}
			return account, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, false, err
		}
	} else if claimedEmail != "" {
		var holders int64
		if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", claimedEmail).Count(&holders).Error; err != nil {
			return Account{}, false, err
		}
		if holders > 0 {
			return Account{}, false, errUnverifiedEmail
		}
	}

	account, err := s.createAccount(ctx, email, normalize(claims.DisplayName), "", provider, subject)
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func (s *Service) provisionLists(ctx context.Context, account Account) error {
	err := s.lists.CreateDefaultLists(ctx, lists.UserID(account.UserID))
	if err == nil {
		return nil
	}
	cleanupErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", account.UserID).Delete(&Identity{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", account.UserID).Delete(&Account{}).Error
	})
	if cleanupErr != nil {
		s.logger.Error("failed to remove unprovisioned account",
			zap.String("user_id", account.UserID),
			zap.Error(cleanupErr))
	}
	return err
}

func (s *Service) startSession(ctx context.Context, account Account) (SignedInSession, error) {
	sessionID, err := s.ids.NewID()
	if err != nil {
		return SignedInSession{}, err
	}
	token, expiresAt, err := s.tokens.IssueSessionToken(ctx, auth.SessionSubject{
		UserID:      account.UserID,
		SessionID:   sessionID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	})
	if err != nil {
		return SignedInSession{}, err
	}
	now := s.now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND expires_at <= ?", account.UserID, now).Delete(&Session{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&Session{SessionID: sessionID, UserID: account.UserID, ExpiresAt: expiresAt, CreatedAt: now}).Error; err != nil {
			return err
		}
		return tx.Model(&Account{}).Where("user_id = ?", account.UserID).Update("last_sign_in_at", now).Error
	})
	if err != nil {
		return SignedInSession{}, err
	}
	account.LastSignInAt = &now
	s.publishSession(account.UserID)
	return SignedInSession{Token: token, ExpiresAt: expiresAt, User: account.profile()}, nil
}

func (s *Service) publishSession(userID string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Publish(realtime.Message{
		UserID:    userID,
		EventType: realtime.EventSessionChanged,
		Timestamp: s.now().UTC(),
	})
}

func (s *Service) fail(kind error, operation, reason, message string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
	return newServiceError(kind, operation, reason, message, err)
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
