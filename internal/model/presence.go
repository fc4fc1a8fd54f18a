package model

import "time"

// PresenceEntry is a student's ephemeral avatar in the waiting room. Only
// the initial random placement is persisted; the per-frame motion is
// simulated and broadcast, never written back to the store.
type PresenceEntry struct {
	StudentID string    `json:"studentId"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	DX        float64   `json:"dx"`
	DY        float64   `json:"dy"`
	Color     string    `json:"color"`
	Speech    string    `json:"speech,omitempty"`
	SpokeAt   time.Time `json:"spokeAt,omitempty"`
}
