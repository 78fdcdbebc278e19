package model

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusDispatched Status = "dispatched"
	StatusArrived    Status = "arrived"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var (
	deliveryPath = []Status{StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusDispatched, StatusArrived, StatusDelivered}
	counterPath  = []Status{StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusDelivered}
)

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady,
		StatusDispatched, StatusArrived, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Path is the lifecycle an order of type t walks when nothing goes wrong.
func Path(t OrderType) []Status {
	if t == OrderTypeCounter {
		return counterPath
	}
	return deliveryPath
}

// CanTransition reports whether to is a legal successor of from for an order
// of type t.
func CanTransition(t OrderType, from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	path := Path(t)
	for i := 0; i < len(path)-1; i++ {
		if path[i] == from {
			return path[i+1] == to
		}
	}
	return false
}

// StampsFor lists the stages whose timestamps must be set (when still unset)
// once an order of type t enters target. For lifecycle stages this is every
// stage of the path up to and including target, so a forced jump never leaves
// an earlier stage without a timestamp. Pending carries no timestamp.
func StampsFor(t OrderType, target Status) []Status {
	if target == StatusCancelled {
		return []Status{StatusCancelled}
	}
	path := Path(t)
	for i, s := range path {
		if s == target {
			return append([]Status(nil), path[1:i+1]...)
		}
	}
	return nil
}
