package models

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle status carried by an OrderEvent.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusInvalid   OrderStatus = "invalid"
)

// IsTerminal reports whether no further events follow this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusInvalid
}

// Order tags attached by the simulated broker.
const (
	TagLiquidate = "liquidate"
	TagExpiry    = "expiry"
)

// OrderEvent reports a change in an order's status.
type OrderEvent struct {
	Time         time.Time    `json:"time"`
	OrderID      int          `json:"order_id"`
	Symbol       string       `json:"symbol"`
	SecurityType SecurityType `json:"security_type"`
	Status       OrderStatus  `json:"status"`
	Quantity     int          `json:"quantity"`
	FillPrice    float64      `json:"fill_price,omitempty"`
	FillQuantity int          `json:"fill_quantity,omitempty"`
	Tag          string       `json:"tag,omitempty"`
	Message      string       `json:"message,omitempty"`
}

// IsBuy reports whether the order increases the position.
func (e OrderEvent) IsBuy() bool {
	return e.Quantity > 0
}

// String implements fmt.Stringer.
func (e OrderEvent) String() string {
	s := fmt.Sprintf("Time: %s OrderID: %d Symbol: %s Status: %s Quantity: %d",
		e.Time.Format("2006-01-02 15:04:05"), e.OrderID, e.Symbol, e.Status, e.Quantity)
	if e.Status == OrderStatusFilled {
		s += fmt.Sprintf(" FillQuantity: %d FillPrice: %.2f", e.FillQuantity, e.FillPrice)
	}
	if e.Tag != "" {
		s += " Tag: " + e.Tag
	}
	if e.Message != "" {
		s += " Message: " + e.Message
	}
	return s
}
