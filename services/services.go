// Package services holds the domain operations behind the HTTP API. Services
// persist through store.Store and announce changes on the event bus.
package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
)

// conflictAttempts bounds compare-and-swap retries.
const conflictAttempts = 5

// Actor is the caller of an operation, taken from the auth token.
type Actor struct {
	UserID    string
	ShopID    string
	Role      string
	SessionID string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

func (a Actor) IsAnonymous() bool { return a.Role == models.RoleAnonymous }

// clock is overridden in tests.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// storeErr maps store sentinels to coded errors.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Newf(apperr.CodeNotFound, "%s not found", what)
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(err, apperr.CodeConflict, what+" was modified concurrently")
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(err, apperr.CodeInsufficientStock, "Not enough stock available")
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(err, apperr.CodeConflict, what+" already exists")
	}
	return apperr.Wrap(err, apperr.CodeServerError, "Error accessing "+what)
}

// noopPublisher is used when a service is built without a bus.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, events.Event) error { return nil }

func publisherOrNoop(p events.Publisher) events.Publisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
