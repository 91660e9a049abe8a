package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/store"
	"reaction-commerce/utils"
)

// VerificationMailer sends account verification links.
type VerificationMailer interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	ShopID   string `json:"shop_id"`
}

// Session is a signed-in user and their token.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type AccountService struct {
	store  *store.Store
	tokens *utils.JWT
	mailer VerificationMailer
	logger logrus.FieldLogger
	clock  clock
}

func NewAccountService(st *store.Store, tokens *utils.JWT, mailer VerificationMailer, logger logrus.FieldLogger) *AccountService {
	return &AccountService{store: st, tokens: tokens, mailer: mailer, logger: logger.WithField("service", "accounts")}
}

// defaultShop resolves shopID, falling back to the primary shop.
func (s *AccountService) defaultShop(ctx context.Context, shopID string) string {
	if shopID != "" {
		return shopID
	}
	if shop, err := s.store.Shops.GetPrimary(ctx); err == nil {
		return shop.ID
	}
	return ""
}

// Register creates an unverified customer and mails the verification link.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid registration")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerError, "Error hashing password")
	}
	now := s.clock.now()
	user := &models.User{
		ID:                models.NewID(),
		ShopID:            s.defaultShop(ctx, in.ShopID),
		Name:              in.Name,
		Email:             in.Email,
		Password:          string(hash),
		AddressBook:       []models.Address{},
		Role:              models.RoleCustomer,
		VerificationToken: models.NewID(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.CodeConflict, "Email already registered")
		}
		return nil, storeErr(err, "User")
	}
	if s.mailer != nil {
		if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.VerificationToken); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Error("verification email failed")
		}
	}
	return user, nil
}

// Verify marks the user owning token as verified.
func (s *AccountService) Verify(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Verification token is required")
	}
	var user *models.User
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if user, err = s.store.Users.GetByVerificationToken(ctx, token); err != nil {
			return err
		}
		user.IsVerified = true
		user.VerificationToken = ""
		user.UpdatedAt = s.clock.now()
		return s.store.Users.Update(ctx, user)
	})
	if err != nil {
		return nil, storeErr(err, "Verification token")
	}
	return user, nil
}

// Login checks a verified user's password. sessionID carries a guest
// session into the token so its cart can be merged.
func (s *AccountService) Login(ctx context.Context, email, password, sessionID string) (*Session, error) {
	user, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "Invalid email or password")
	}
	if err != nil {
		return nil, storeErr(err, "User")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "Invalid email or password")
	}
	if !user.IsVerified {
		return nil, apperr.New(apperr.CodeAccessDenied, "Email not verified")
	}
	if sessionID == "" {
		sessionID = user.SessionID
	}
	return s.session(user, sessionID)
}

// AnonymousSession creates a guest user with a fresh session.
func (s *AccountService) AnonymousSession(ctx context.Context, shopID string) (*Session, error) {
	now := s.clock.now()
	user := &models.User{
		ID:          models.NewID(),
		ShopID:      s.defaultShop(ctx, shopID),
		Name:        "Guest",
		AddressBook: []models.Address{},
		Role:        models.RoleAnonymous,
		SessionID:   models.NewID(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		return nil, storeErr(err, "User")
	}
	return s.session(user, user.SessionID)
}

func (s *AccountService) session(user *models.User, sessionID string) (*Session, error) {
	token, err := s.tokens.GenerateJWT(utils.Claims{
		UserID:    user.ID,
		ShopID:    user.ShopID,
		Role:      user.Role,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerError, "Error generating token")
	}
	return &Session{Token: token, User: user}, nil
}

// Profile returns the actor's account.
func (s *AccountService) Profile(ctx context.Context, actor Actor) (*models.User, error) {
	user, err := s.store.Users.Get(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "User")
	}
	return user, nil
}

// AddAddress appends addr to the actor's address book. A new default
// replaces the previous default of the same kind.
func (s *AccountService) AddAddress(ctx context.Context, actor Actor, addr models.Address) (*models.User, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	if addr.ID == "" {
		addr.ID = models.NewID()
	}
	var user *models.User
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if user, err = s.store.Users.Get(ctx, actor.UserID); err != nil {
			return err
		}
		for i := range user.AddressBook {
			if addr.IsShippingDefault {
				user.AddressBook[i].IsShippingDefault = false
			}
			if addr.IsBillingDefault {
				user.AddressBook[i].IsBillingDefault = false
			}
		}
		user.AddressBook = append(user.AddressBook, addr)
		user.UpdatedAt = s.clock.now()
		return s.store.Users.Update(ctx, user)
	})
	if err != nil {
		return nil, storeErr(err, "User")
	}
	return user, nil
}

// UpsertServiceConfiguration stores a login service's settings. Only admins
// may change them; others get false.
func (s *AccountService) UpsertServiceConfiguration(ctx context.Context, actor Actor, service string, fields map[string]string) (bool, error) {
	if !actor.IsAdmin() {
		return false, nil
	}
	if service == "" {
		return false, apperr.New(apperr.CodeInvalidParameter, "Service is required")
	}
	if err := s.store.ServiceConfigs.Upsert(ctx, &models.ServiceConfiguration{Service: service, Fields: fields}); err != nil {
		return false, storeErr(err, "Service configuration")
	}
	return true, nil
}
