package sensorpipe

import "time"

// DefaultNotificationCategory is used when an event crossing the threshold
// carries no notification category.
const DefaultNotificationCategory = "default"

// Broker routes used by the pipeline.
const (
	// SensorEventsTopic carries new sensor event candidates.
	SensorEventsTopic = "sensor.events"

	// NewEventsKey is the routing key (and queue) for new sensor events.
	NewEventsKey = "events.new"

	// AnalyticsTopic receives a copy of every stored event.
	AnalyticsTopic = "analytics.events"

	// AnalyticsKey is the routing key for stored events.
	AnalyticsKey = "analytics.new"
)

// SensorEvent is the unit of work of the pipeline.
//
// ID, CreatedAt and UpdatedAt are assigned by the store on create.
// NotificationSent stays nil unless a notification was attempted.
type SensorEvent struct {
	ID                   int64     `json:"id,omitempty"`
	Category             string    `json:"category"`
	Temperature          *float64  `json:"temperature"`
	Reason               string    `json:"reason,omitempty"`
	Color                string    `json:"color,omitempty"`
	Weight               *float64  `json:"weight,omitempty"`
	Status               string    `json:"status,omitempty"`
	Latitude             *float64  `json:"latitude,omitempty"`
	Longitude            *float64  `json:"longitude,omitempty"`
	NotificationCategory string    `json:"notificationCategory,omitempty"`
	NotificationSent     *bool     `json:"notificationSent,omitempty"`
	CreatedAt            time.Time `json:"createdAt,omitzero"`
	UpdatedAt            time.Time `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy of the event.
func (e SensorEvent) Clone() SensorEvent {
	c := e
	c.Temperature = cloneFloat(e.Temperature)
	c.Weight = cloneFloat(e.Weight)
	c.Latitude = cloneFloat(e.Latitude)
	c.Longitude = cloneFloat(e.Longitude)
	if e.NotificationSent != nil {
		sent := *e.NotificationSent
		c.NotificationSent = &sent
	}
	return c
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
