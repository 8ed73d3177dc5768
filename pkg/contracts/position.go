package contracts

import "time"

// ControlPoint is a fixed geographic checkpoint along the route.
// Control points are reference data loaded at startup; never created
// at runtime.
type ControlPoint struct {
	Code        string  `json:"code" yaml:"code"`
	Name        string  `json:"name" yaml:"name"`
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`
	RadiusM     float64 `json:"radius_m" yaml:"radius_m"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// PositionSample is one GPS reading for a voyage. Samples are
// immutable once stored.
type PositionSample struct {
	ID         string    `json:"id"`
	VoyageID   string    `json:"voyage_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Source     string    `json:"source,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// PositionDisposition says what the geofence engine did with a sample.
type PositionDisposition string

const (
	PositionStored    PositionDisposition = "STORED"
	PositionSkipped   PositionDisposition = "SKIPPED"
	PositionForwarded PositionDisposition = "FORWARDED"
)

// PositionNotification records the outcome of forwarding a sample to
// the remote authority. At most one exists per forwarded sample.
type PositionNotification struct {
	SampleID     string        `json:"sample_id"`
	VoyageID     string        `json:"voyage_id"`
	Success      bool          `json:"success"`
	ControlPoint *ControlPoint `json:"control_point,omitempty"`
	Error        string        `json:"error,omitempty"`
	SentAt       time.Time     `json:"sent_at"`
}

// PositionOutcome is returned by the geofence engine for each
// ingested sample.
type PositionOutcome struct {
	Sample       PositionSample        `json:"sample"`
	Disposition  PositionDisposition   `json:"disposition"`
	ControlPoint *ControlPoint         `json:"control_point,omitempty"`
	Notification *PositionNotification `json:"notification,omitempty"`
	// SuppressedBy names the gate that skipped forwarding, for
	// operator diagnostics.
	SuppressedBy string `json:"suppressed_by,omitempty"`
}

// PositionStats are windowed statistics folded over sample history.
type PositionStats struct {
	Samples          int           `json:"samples"`
	DistanceM        float64       `json:"distance_m"`
	ActiveDuration   time.Duration `json:"active_duration"`
	AverageSpeedKmh  float64       `json:"average_speed_kmh"`
	ControlPointHits []string      `json:"control_point_hits,omitempty"`
	From             time.Time     `json:"from"`
	To               time.Time     `json:"to"`
}
