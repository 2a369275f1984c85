package tipjar

import (
	"strconv"

	"tipjar/core/types"
	"tipjar/crypto"
)

const (
	// EventTypeInitialized is emitted when a jar is created.
	EventTypeInitialized = "tipjar.initialized"
	// EventTypeTipped is emitted when a tip lands in a jar.
	EventTypeTipped = "tipjar.tipped"
	// EventTypeWithdrawn is emitted when an owner withdraws from their jar.
	EventTypeWithdrawn = "tipjar.withdrawn"
)

// Initialized reports a new jar.
type Initialized struct {
	Owner     crypto.Address
	Jar       crypto.Address
	CreatedAt int64
}

func (Initialized) EventType() string { return EventTypeInitialized }

func (e Initialized) Event() *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"owner":     e.Owner.String(),
			"jar":       e.Jar.String(),
			"createdAt": strconv.FormatInt(e.CreatedAt, 10),
		},
	}
}

// Tipped reports a tip and the jar's new lifetime total.
type Tipped struct {
	Tipper    crypto.Address
	Owner     crypto.Address
	Jar       crypto.Address
	Amount    uint64
	TotalTips uint64
}

func (Tipped) EventType() string { return EventTypeTipped }

func (e Tipped) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTipped,
		Attributes: map[string]string{
			"tipper":    e.Tipper.String(),
			"owner":     e.Owner.String(),
			"jar":       e.Jar.String(),
			"amount":    strconv.FormatUint(e.Amount, 10),
			"totalTips": strconv.FormatUint(e.TotalTips, 10),
		},
	}
}

// Withdrawn reports a withdrawal and the jar balance left behind.
type Withdrawn struct {
	Owner   crypto.Address
	Jar     crypto.Address
	Amount  uint64
	Balance uint64
}

func (Withdrawn) EventType() string { return EventTypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"owner":   e.Owner.String(),
			"jar":     e.Jar.String(),
			"amount":  strconv.FormatUint(e.Amount, 10),
			"balance": strconv.FormatUint(e.Balance, 10),
		},
	}
}
