// Package controllers exposes the commerce services over HTTP.
package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"reaction-commerce/apperr"
	"reaction-commerce/middleware"
	"reaction-commerce/services"
)

const requestTimeout = 15 * time.Second

var validate = validator.New()

// requestContext bounds a handler's work.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// actorFrom builds the caller from the token claims.
func actorFrom(r *http.Request) (services.Actor, error) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		return services.Actor{}, apperr.New(apperr.CodeInvalidCredentials, "Unauthorized")
	}
	return services.Actor{
		UserID:    claims.UserID,
		ShopID:    claims.ShopID,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid input")
	}
	return nil
}

// decode reads a JSON body into the struct v and validates it.
func decode(r *http.Request, v interface{}) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidParameter, err.Error())
	}
	return nil
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
