package events

import (
	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/logger"
	"token-collector/internal/models"
)

var _ interfaces.EventEmitter = (*LogEmitter)(nil)

// LogEmitter logs every event and forwards it to the wrapped emitter
type LogEmitter struct {
	WrappedEmitter interfaces.EventEmitter
}

func (d *LogEmitter) EmitEvent(event models.CollectorEvent) error {
	entry := logger.GetLogger().Info().
		Str("eventID", event.ID).
		Str("kind", event.Kind.String()).
		Str("actor", event.Actor.Hex()).
		Str("subject", event.Subject.Hex()).
		Time("timestamp", event.Timestamp)

	if event.Asset != (common.Address{}) {
		entry = entry.Str("asset", event.Asset.Hex())
	}
	if event.Amount != nil {
		entry = entry.Str("amount", event.Amount.String())
	}
	entry.Msg("Collector event")

	if d.WrappedEmitter != nil {
		return d.WrappedEmitter.EmitEvent(event)
	}
	return nil
}
