package status

import (
	"log/slog"

	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/log"
)

// Sink receives accepted status tokens. The watchdog implements this.
type Sink interface {
	OnStatus(token Token)
}

// Ingestor filters decoded uplink events down to status tokens from the
// authoritative source. This is the only place untrusted input is checked;
// everything downstream trusts its arguments.
type Ingestor struct {
	source string
	sink   Sink
	hub    *events.Hub
	logger *slog.Logger
}

// NewIngestor creates an Ingestor that accepts events from sourceEUI only.
func NewIngestor(sourceEUI string, sink Sink, hub *events.Hub) *Ingestor {
	return &Ingestor{
		source: sourceEUI,
		sink:   sink,
		hub:    hub,
		logger: log.WithComponent("ingest"),
	}
}

// OnEvent handles one decoded uplink. Foreign or unrecognized events are
// dropped with a log line and never surface an error to the transport.
func (i *Ingestor) OnEvent(sourceEUI, raw string) {
	if sourceEUI != i.source {
		i.logger.Debug("dropping event from foreign source", "dev_eui", sourceEUI)
		return
	}

	token, ok := Parse(raw)
	if !ok {
		i.logger.Warn("dropping unrecognized status value", "dev_eui", sourceEUI, "value", raw)
		i.hub.Publish(events.StatusDropped, map[string]any{
			"dev_eui": sourceEUI,
			"value":   raw,
		})
		return
	}

	i.logger.Info("status accepted", "dev_eui", sourceEUI, "status", token)
	i.hub.Publish(events.StatusAccepted, map[string]any{
		"dev_eui": sourceEUI,
		"status":  token,
	})
	i.sink.OnStatus(token)
}
