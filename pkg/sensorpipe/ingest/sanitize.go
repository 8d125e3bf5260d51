package ingest

import (
	"strings"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
)

// Notification thresholds, in degrees.
const (
	CriticalTemperature = 50
	KidsRoomTemperature = 30
	KidsRoomCategory    = "kids-room"
)

// Sanitize trims the free-text fields of ev and collapses inner runs of
// whitespace to a single space. Casing is stored as received; only the
// threshold check compares categories case-insensitively.
func Sanitize(ev sensorpipe.SensorEvent) sensorpipe.SensorEvent {
	ev.Category = cleanText(ev.Category)
	ev.Reason = cleanText(ev.Reason)
	ev.Color = cleanText(ev.Color)
	ev.Status = cleanText(ev.Status)
	ev.NotificationCategory = cleanText(ev.NotificationCategory)
	return ev
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ShouldNotify reports whether ev crosses a notification threshold.
// The category comparison ignores case.
func ShouldNotify(ev sensorpipe.SensorEvent) bool {
	if ev.Temperature == nil {
		return false
	}
	t := *ev.Temperature
	if t > CriticalTemperature {
		return true
	}
	return strings.EqualFold(ev.Category, KidsRoomCategory) && t > KidsRoomTemperature
}

func validate(ev sensorpipe.SensorEvent) error {
	var missing []string
	if ev.Category == "" {
		missing = append(missing, "category")
	}
	if ev.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if len(missing) == 0 {
		return nil
	}
	return errMissing(missing)
}

type errMissing []string

func (e errMissing) Error() string {
	return "missing required fields: " + strings.Join(e, ", ")
}
