package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/services"
)

// UserController handles account requests
type UserController struct {
	Accounts *services.AccountService
}

func NewUserController(accounts *services.AccountService) *UserController {
	return &UserController{Accounts: accounts}
}

type loginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	SessionID string `json:"session_id"`
}

type anonymousRequest struct {
	ShopID string `json:"shop_id"`
}

// Register handles user registration
func (uc *UserController) Register(w http.ResponseWriter, r *http.Request) {
	var in services.RegisterInput
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Accounts.Register(ctx, in)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully. Please check your email to verify your account.",
		"user":    user,
	})
}

// VerifyEmail handles email verification
func (uc *UserController) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		apperr.Write(w, apperr.New(apperr.CodeInvalidParameter, "Verification token missing"))
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if _, err := uc.Accounts.Verify(ctx, token); err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

// Login handles user login
func (uc *UserController) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	session, err := uc.Accounts.Login(ctx, in.Email, in.Password, in.SessionID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, session)
}

// AnonymousSession starts a guest session. The body is optional.
func (uc *UserController) AnonymousSession(w http.ResponseWriter, r *http.Request) {
	var in anonymousRequest
	if r.ContentLength > 0 {
		if err := decode(r, &in); err != nil {
			apperr.Write(w, err)
			return
		}
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	session, err := uc.Accounts.AnonymousSession(ctx, in.ShopID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusCreated, session)
}

// GetProfile returns the caller's account
func (uc *UserController) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Accounts.Profile(ctx, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, user)
}

func (uc *UserController) AddAddress(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var addr models.Address
	if err := decode(r, &addr); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Accounts.AddAddress(ctx, actor, addr)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, user)
}

// UpsertServiceConfiguration stores a login service's settings.
func (uc *UserController) UpsertServiceConfiguration(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	fields := map[string]string{}
	if err := decodeJSON(r, &fields); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	ok, err := uc.Accounts.UpsertServiceConfiguration(ctx, actor, mux.Vars(r)["service"], fields)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"updated": ok})
}
