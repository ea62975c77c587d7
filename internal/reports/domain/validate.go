package reports

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultMaxCodeLength = 32
	defaultMaxFutureSkew = 5 * time.Minute
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Validator turns raw payloads into status reports.
type Validator struct {
	maxCodeLength int
	maxFutureSkew time.Duration
	clock         Clock
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxCodeLength bounds the device code length.
func WithMaxCodeLength(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.maxCodeLength = n
		}
	}
}

// WithMaxFutureSkew bounds how far ahead of now observedAt may be.
func WithMaxFutureSkew(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.maxFutureSkew = d
		}
	}
}

// WithClock overrides the validator clock.
func WithClock(clock Clock) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewValidator constructs a validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		maxCodeLength: defaultMaxCodeLength,
		maxFutureSkew: defaultMaxFutureSkew,
		clock:         systemClock{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses raw and checks every rule. topicCode is the device code
// extracted from the delivery topic, empty when the transport has none.
// On failure the error is a *ValidationError listing all violations.
// A report without a timestamp is observed at the validator clock.
func (v *Validator) Validate(raw []byte, topicCode string) (StatusReport, error) {
	return v.ValidateAt(raw, topicCode, time.Time{})
}

// ValidateAt is Validate with the transport arrival time. A report without
// a timestamp is observed at arrivedAt, so a redelivered message keeps the
// ordering it had on first delivery. A zero arrivedAt falls back to the clock.
func (v *Validator) ValidateAt(raw []byte, topicCode string, arrivedAt time.Time) (StatusReport, error) {
	now := v.clock.Now().UTC()
	if arrivedAt.IsZero() {
		arrivedAt = now
	}
	verr := &ValidationError{}

	fields, err := decodeObject(raw)
	if err != nil {
		verr.DeviceCode = strings.TrimSpace(topicCode)
		verr.add("payload", err.Error())
		return StatusReport{}, verr
	}

	report := StatusReport{}

	code, present := stringField(fields, "code", verr)
	code = strings.TrimSpace(code)
	topicCode = strings.TrimSpace(topicCode)
	switch {
	case !present && topicCode != "":
		code = topicCode
	case !present:
		if !verr.Has("code") {
			verr.add("code", "is required")
		}
	case code == "":
		verr.add("code", "must not be empty")
	case topicCode != "" && code != topicCode:
		verr.add("code", fmt.Sprintf("does not match topic device %q", topicCode))
	}
	if code != "" && utf8.RuneCountInString(code) > v.maxCodeLength {
		verr.add("code", fmt.Sprintf("must be at most %d characters", v.maxCodeLength))
	}
	report.DeviceCode = code
	verr.DeviceCode = code

	report.DeviceType, _ = stringField(fields, "type", verr)
	report.DeviceName, _ = stringField(fields, "name", verr)
	report.FirmwareVersion, _ = stringField(fields, "version", verr)

	rawStatus, present := stringField(fields, "status", verr)
	if !present {
		if !verr.Has("status") {
			verr.add("status", "is required")
		}
	} else if status, ok := ParseStatus(rawStatus); ok {
		report.Status = status
	} else {
		verr.add("status", fmt.Sprintf("must be one of %s, %s", StatusOn, StatusOff))
	}

	observedAt, ok := v.observedAt(fields, verr)
	if ok && observedAt.After(now.Add(v.maxFutureSkew)) {
		verr.add("observedAt", "is too far in the future")
	}
	if observedAt.IsZero() {
		observedAt = arrivedAt
	}
	report.ObservedAt = observedAt.UTC()

	if len(verr.Fields) > 0 {
		return StatusReport{}, verr
	}
	return report, nil
}

func (v *Validator) observedAt(fields map[string]json.RawMessage, verr *ValidationError) (time.Time, bool) {
	if value, present := stringField(fields, "observedAt", verr); present {
		if value == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			verr.add("observedAt", "must be an RFC3339 timestamp")
			return time.Time{}, false
		}
		return parsed, true
	}
	raw, present := fields["ts"]
	if !present || isNull(raw) {
		return time.Time{}, false
	}
	var ts int64
	if err := json.Unmarshal(raw, &ts); err != nil {
		verr.add("ts", "must be an integer epoch timestamp")
		return time.Time{}, false
	}
	if ts <= 0 {
		verr.add("ts", "must be positive")
		return time.Time{}, false
	}
	// Accept milliseconds or seconds.
	if ts > 1_000_000_000_000 {
		return time.UnixMilli(ts).UTC(), true
	}
	return time.Unix(ts, 0).UTC(), true
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("is empty")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errors.New("is not a JSON object")
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

// stringField returns the field value and whether it was present and non-null.
// A type mismatch is recorded on verr and reported as absent.
func stringField(fields map[string]json.RawMessage, name string, verr *ValidationError) (string, bool) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		verr.add(name, "must be a string")
		return "", false
	}
	return value, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
