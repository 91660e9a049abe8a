// Package workflow defines the state machines that drive carts, orders and
// order items.
package workflow

import (
	"reaction-commerce/apperr"
	"reaction-commerce/models"
)

// Cart steps, in checkout order.
const (
	CartNew              = "new"
	CheckoutLogin        = "checkoutLogin"
	CheckoutAddressBook  = "checkoutAddressBook"
	CoreCheckoutShipping = "coreCheckoutShipping"
	CheckoutReview       = "checkoutReview"
	CheckoutPayment      = "checkoutPayment"
	PaymentSubmitted     = "paymentSubmitted"
)

// Order states.
const (
	OrderNew        = "new"
	OrderCreated    = "orderCreated"
	OrderProcessing = "coreOrderWorkflow/processing"
	OrderCompleted  = "coreOrderWorkflow/completed"
	OrderCanceled   = "coreOrderWorkflow/canceled"
)

// Order item states.
const (
	ItemOrderCreated      = "orderCreated"
	ItemInventoryAdjusted = "inventoryAdjusted"
	ItemShipped           = "coreOrderItemWorkflow/shipped"
)

// Machine is a finite state machine over a models.Workflow.
type Machine struct {
	name        string
	transitions map[string][]string
}

// NewMachine builds a machine from an adjacency list. States with no
// outgoing transitions are terminal.
func NewMachine(name string, transitions map[string][]string) *Machine {
	return &Machine{name: name, transitions: transitions}
}

// Name returns the machine's workflow name.
func (m *Machine) Name() string { return m.name }

// CanTransition reports whether from -> to is allowed.
func (m *Machine) CanTransition(from, to string) bool {
	for _, next := range m.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state has no way out.
func (m *Machine) IsTerminal(state string) bool {
	return len(m.transitions[state]) == 0
}

// Apply moves w to state and records it in the history.
func (m *Machine) Apply(w *models.Workflow, to string) error {
	if !m.CanTransition(w.Status, to) {
		return apperr.Newf(apperr.CodeInvalidTransition, "%s: cannot move from %q to %q", m.name, w.Status, to)
	}
	w.Status = to
	if !w.Has(to) {
		w.Workflow = append(w.Workflow, to)
	}
	return nil
}

// Order is the order workflow.
var Order = NewMachine("coreOrderWorkflow", map[string][]string{
	OrderNew:        {OrderProcessing, OrderCanceled},
	OrderProcessing: {OrderCompleted, OrderCanceled},
})

// Item is the per-item order workflow.
var Item = NewMachine("coreOrderItemWorkflow", map[string][]string{
	ItemOrderCreated: {ItemShipped},
})

// NewOrderWorkflow is the workflow of a freshly created order.
func NewOrderWorkflow() models.Workflow {
	return models.Workflow{Status: OrderNew, Workflow: []string{OrderCreated}}
}

// NewItemWorkflow is the workflow of an item copied into an order.
func NewItemWorkflow() models.Workflow {
	return models.Workflow{Status: ItemOrderCreated, Workflow: []string{ItemInventoryAdjusted}}
}

// NewCartWorkflow is the workflow of a fresh cart.
func NewCartWorkflow() models.Workflow {
	return models.Workflow{Status: CartNew, Workflow: []string{}}
}
