package domain

var orderStateTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusPendingPayment: {
		OrderStatusPaid:      {},
		OrderStatusCancelled: {},
	},
	OrderStatusPaid: {
		OrderStatusInProduction: {},
		OrderStatusCancelled:    {},
	},
	OrderStatusInProduction: {
		OrderStatusShipped: {},
	},
	OrderStatusShipped: {
		OrderStatusDelivered: {},
	},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
// A self transition is always allowed and is treated by callers as a no-op.
func CanTransition(from, to OrderStatus) bool {
	if _, ok := orderStateTransitions[to]; !ok {
		return false
	}
	if from == to {
		return true
	}
	next, ok := orderStateTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no further transitions leave the status.
func IsTerminal(status OrderStatus) bool {
	next, ok := orderStateTransitions[status]
	return ok && len(next) == 0
}

// AwaitingProduction reports whether an order in the status is paid and still has to be produced.
func AwaitingProduction(status OrderStatus) bool {
	return status == OrderStatusPaid
}
