package telemetry

import (
	"context"

	"go.uber.org/multierr"

	"github.com/KevinKickass/OpenRigCore/internal/api/websocket"
)

// HubSink broadcasts records to live websocket clients.
type HubSink struct {
	hub *websocket.Hub
}

func NewHubSink(hub *websocket.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Publish(_ context.Context, d Data) error {
	s.hub.Broadcast(websocket.NewTelemetryMessage(d.Source, int(d.Peripheral), d.Value, d.Timestamp))
	return nil
}

// MultiSink fans a record out to every sink. All sinks are tried; failures are combined.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, d Data) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Publish(ctx, d))
	}
	return errs
}
