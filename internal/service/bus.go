package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coderashu-1/Trade/internal/domain"
)

func publishJSON(ctx context.Context, bus domain.SignalBus, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	return bus.Publish(ctx, channel, data)
}

// BusMarkerSink publishes chart markers on the owner's marker channel.
type BusMarkerSink struct {
	bus domain.SignalBus
}

func NewBusMarkerSink(bus domain.SignalBus) *BusMarkerSink {
	return &BusMarkerSink{bus: bus}
}

// AddMarker implements domain.MarkerSink.
func (m *BusMarkerSink) AddMarker(ctx context.Context, marker domain.Marker) error {
	if err := publishJSON(ctx, m.bus, domain.MarkerChannel(marker.UserID), marker); err != nil {
		return fmt.Errorf("service: add marker: %w", err)
	}
	return nil
}
