package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/logger"
)

type ChainStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry is the read side of the collector reported on readiness
type Registry interface {
	Assets() []common.Address
	UserCountByAsset(asset common.Address) int
}

type Health struct {
	ready    int32
	registry Registry

	statusMutex sync.RWMutex
	chains      map[string]*ChainStatus
}

func New(registry Registry) *Health {
	return &Health{
		registry: registry,
		chains:   make(map[string]*ChainStatus),
	}
}

func (h *Health) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&h.ready, 1)
	} else {
		atomic.StoreInt32(&h.ready, 0)
	}
}

func (h *Health) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Health) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if atomic.LoadInt32(&h.ready) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
		return
	}

	response := map[string]interface{}{
		"status": "Ready",
	}

	if h.registry != nil {
		assets := make(map[string]int)
		for _, asset := range h.registry.Assets() {
			assets[asset.Hex()] = h.registry.UserCountByAsset(asset)
		}
		response["assets"] = assets
	}

	h.statusMutex.RLock()
	if len(h.chains) > 0 {
		response["chains"] = h.chains
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
	h.statusMutex.RUnlock()
}

// RegisterReporter polls reporter for its block head until ctx is done
func (h *Health) RegisterReporter(ctx context.Context, reporter interfaces.HeadReporter, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			h.check(ctx, reporter)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (h *Health) check(ctx context.Context, reporter interfaces.HeadReporter) {
	head, err := reporter.BlockHead(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.GetLogger().Error().
				Err(err).
				Str("chain", reporter.Name()).
				Msg("Error getting latest block")
		}
		return
	}
	h.updateChainStatus(reporter.Name(), head)
}

func (h *Health) updateChainStatus(name string, lastBlock uint64) {
	h.statusMutex.Lock()
	defer h.statusMutex.Unlock()
	h.chains[name] = &ChainStatus{
		Name:      name,
		LastBlock: lastBlock,
		CheckedAt: time.Now().UTC(),
	}
}
