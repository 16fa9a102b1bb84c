// Package telemetry turns peripheral readings into timestamped records and
// delivers them to one or more sinks.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
)

// Kind is the wire enum for the peripheral that produced a record.
type Kind int

const (
	KindLoadCell Kind = iota
	KindThermocouple
	KindServo
)

func (k Kind) String() string {
	switch k {
	case KindLoadCell:
		return "load_cell"
	case KindThermocouple:
		return "thermocouple"
	case KindServo:
		return "servo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf maps a peripheral kind onto the wire enum. Only sensors and servos
// produce telemetry.
func KindOf(k peripheral.Kind) (Kind, bool) {
	switch k {
	case peripheral.KindLoadCell:
		return KindLoadCell, true
	case peripheral.KindThermocouple:
		return KindThermocouple, true
	case peripheral.KindServo:
		return KindServo, true
	default:
		return 0, false
	}
}

// Data is one telemetry record. Timestamp is unix seconds.
type Data struct {
	ID         uuid.UUID `json:"-"`
	Timestamp  float64   `json:"timestamp"`
	Value      float64   `json:"value"`
	Peripheral Kind      `json:"peripheral"`
	Source     string    `json:"source"`
}

// Time returns the record timestamp as a time.Time.
func (d Data) Time() time.Time {
	sec := int64(d.Timestamp)
	nsec := int64((d.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Sink accepts telemetry records.
type Sink interface {
	Publish(ctx context.Context, d Data) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Data) error

func (f SinkFunc) Publish(ctx context.Context, d Data) error { return f(ctx, d) }
