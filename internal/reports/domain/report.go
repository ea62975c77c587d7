package reports

import (
	"strings"
	"time"
)

// Status is the activity state carried by a report.
type Status string

const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// ParseStatus normalizes a wire status value.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(value))) {
	case StatusOn:
		return StatusOn, true
	case StatusOff:
		return StatusOff, true
	default:
		return "", false
	}
}

// IsOn reports whether the status marks the device as active.
func (s Status) IsOn() bool {
	return s == StatusOn
}

// StatusReport is one validated status update from a device.
type StatusReport struct {
	DeviceCode      string    `json:"deviceCode"`
	DeviceType      string    `json:"deviceType"`
	DeviceName      string    `json:"deviceName"`
	FirmwareVersion string    `json:"firmwareVersion"`
	Status          Status    `json:"status"`
	ObservedAt      time.Time `json:"observedAt"`
}

// InUse maps the report status onto the component in-use flag.
func (r StatusReport) InUse() bool {
	return r.Status.IsOn()
}
