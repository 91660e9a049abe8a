package workflow

import (
	"reaction-commerce/apperr"
	"reaction-commerce/models"
)

// Linear is a checkout-style workflow whose steps must be reached in order.
// Free steps may be pushed at any time and never move the status backwards.
type Linear struct {
	name  string
	steps []string
	free  map[string]bool
}

// Cart is the checkout workflow of a cart.
var Cart = &Linear{
	name: "coreCartWorkflow",
	steps: []string{
		CartNew,
		CheckoutLogin,
		CheckoutAddressBook,
		CoreCheckoutShipping,
		CheckoutReview,
		CheckoutPayment,
		PaymentSubmitted,
	},
	free: map[string]bool{CheckoutLogin: true, CheckoutAddressBook: true},
}

// Name returns the workflow name.
func (l *Linear) Name() string { return l.name }

func (l *Linear) index(step string) int {
	for i, s := range l.steps {
		if s == step {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether step is the last one.
func (l *Linear) IsTerminal(step string) bool {
	return step == l.steps[len(l.steps)-1]
}

// CanPush reports whether step may be pushed onto w.
func (l *Linear) CanPush(w models.Workflow, step string) bool {
	return l.check(w, step) == nil
}

func (l *Linear) check(w models.Workflow, step string) error {
	idx := l.index(step)
	if idx <= 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "%s: unknown step %q", l.name, step)
	}
	if w.Has(step) {
		return nil
	}
	if l.IsTerminal(w.Status) {
		return apperr.Newf(apperr.CodeInvalidTransition, "%s: %q is final", l.name, w.Status)
	}
	if l.free[step] {
		return nil
	}
	for _, prior := range l.steps[1:idx] {
		if !w.Has(prior) {
			return apperr.Newf(apperr.CodeInvalidTransition, "%s: %q requires %q", l.name, step, prior)
		}
	}
	return nil
}

// Push records step on w. It reports whether w changed.
func (l *Linear) Push(w *models.Workflow, step string) (bool, error) {
	if err := l.check(*w, step); err != nil {
		return false, err
	}
	if w.Has(step) {
		return false, nil
	}
	w.Workflow = append(w.Workflow, step)
	if l.index(step) > l.index(w.Status) {
		w.Status = step
	}
	return true, nil
}
