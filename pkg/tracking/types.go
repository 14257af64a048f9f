// Package tracking contains the public domain models and interfaces for the
// tracking relay. It defines the contract between the order-management side
// (which emits events) and the relay itself.
package tracking

import (
	"errors"
	"time"
)

// TokenClaims is the normalized identity asserted by a verified credential.
// SubjectID is the canonical identity key; UserID mirrors it for callers that
// still expect the legacy claim name.
type TokenClaims struct {
	SubjectID string    `json:"sub"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// TargetLocation is the destination attached to a work order. Address is
// always present; coordinates are optional.
type TargetLocation struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// TrackingEvent is the domain fact relayed to observers: a work order has
// gone en route. It is immutable once constructed and is serialized verbatim
// onto the wire. Timestamp is stamped by the publisher at emission time.
type TrackingEvent struct {
	OrderID        string         `json:"orderId"`
	CrewID         *string        `json:"crewId"`
	TargetLocation TargetLocation `json:"targetLocation"`
	Timestamp      string         `json:"timestamp"`
}

// ConnectionInfo records which relay instance holds a subject's live
// connection, for presence lookups by other services.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}

// Validate checks the fields a relayed event must carry. CrewID and
// coordinates are optional; the order and a destination address are not.
func (e *TrackingEvent) Validate() error {
	if e.OrderID == "" {
		return errors.New("tracking event is missing orderId")
	}
	if e.TargetLocation.Address == "" {
		return errors.New("tracking event is missing targetLocation.address")
	}
	return nil
}
