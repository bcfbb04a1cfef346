package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"token-collector/internal/models"
	"token-collector/internal/validation"
)

// Collector is the collector surface exposed over HTTP
type Collector interface {
	Owner() common.Address
	Address() common.Address
	TransferOwnership(ctx context.Context, caller, newOwner common.Address) error
	AddMasterAddress(ctx context.Context, caller, addr common.Address) error
	RemoveMasterAddress(ctx context.Context, caller, addr common.Address) error
	IsMasterAddress(addr common.Address) bool
	MasterAddresses() []common.Address
	RegisterUser(ctx context.Context, caller, asset common.Address) error
	UsersByAsset(asset common.Address) []common.Address
	UserCountByAsset(asset common.Address) int
	AddressesEligibleForCollection(asset common.Address) []common.Address
	Assets() []common.Address
	Withdraw(ctx context.Context, caller, asset common.Address, addresses []common.Address) (*models.Withdrawal, error)
}

type CollectorHandler struct {
	collector Collector
}

func NewCollectorHandler(collector Collector) *CollectorHandler {
	return &CollectorHandler{collector: collector}
}

type pullView struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type withdrawalView struct {
	Asset     string     `json:"asset"`
	Recipient string     `json:"recipient"`
	Total     string     `json:"total"`
	Pulls     []pullView `json:"pulls"`
	Skipped   int        `json:"skipped"`
	Timestamp int64      `json:"timestamp"`
}

func pullsView(pulls []models.Pull) []pullView {
	out := make([]pullView, 0, len(pulls))
	for _, p := range pulls {
		out = append(out, pullView{From: p.From.Hex(), Amount: p.Amount.String()})
	}
	return out
}

func hexList(list []common.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Hex())
	}
	return out
}

// addressParam parses a path parameter, responding 400 on failure
func addressParam(c *gin.Context, name string) (common.Address, bool) {
	addr, err := validation.ParseAddress(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_address", err)
		return common.Address{}, false
	}
	return addr, true
}

func mustCaller(c *gin.Context) (common.Address, bool) {
	caller, ok := CallerFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("request is not authenticated"))
	}
	return caller, ok
}

// GET /api/collector
func (h *CollectorHandler) GetCollector(c *gin.Context) {
	RespondOK(c, gin.H{
		"address": h.collector.Address().Hex(),
		"owner":   h.collector.Owner().Hex(),
	})
}

// GET /api/owner
func (h *CollectorHandler) GetOwner(c *gin.Context) {
	RespondOK(c, gin.H{"owner": h.collector.Owner().Hex()})
}

// POST /api/owner/transfer
// body: { "new_owner": "0x...", "issued_at": 1700000000, "nonce": "<uuid>" }
func (h *CollectorHandler) TransferOwnership(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req struct {
		NewOwner string `json:"new_owner" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	newOwner, err := validation.ParseAddress(req.NewOwner)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_address", err)
		return
	}

	if err := h.collector.TransferOwnership(c.Request.Context(), caller, newOwner); err != nil {
		respondCollectorError(c, err)
		return
	}
	RespondOK(c, gin.H{"owner": newOwner.Hex()})
}

// GET /api/masters
func (h *CollectorHandler) ListMasters(c *gin.Context) {
	RespondOK(c, gin.H{"masters": hexList(h.collector.MasterAddresses())})
}

// GET /api/masters/:address
func (h *CollectorHandler) GetMaster(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	RespondOK(c, gin.H{
		"address":   addr.Hex(),
		"is_master": h.collector.IsMasterAddress(addr),
	})
}

// POST /api/masters
// body: { "address": "0x...", "issued_at": 1700000000, "nonce": "<uuid>" }
func (h *CollectorHandler) AddMaster(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	addr, err := validation.ParseAddress(req.Address)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_address", err)
		return
	}

	if err := h.collector.AddMasterAddress(c.Request.Context(), caller, addr); err != nil {
		respondCollectorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr.Hex(), "is_master": true})
}

// DELETE /api/masters/:address
// body: { "issued_at": 1700000000, "nonce": "<uuid>" }
func (h *CollectorHandler) RemoveMaster(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}

	if err := h.collector.RemoveMasterAddress(c.Request.Context(), caller, addr); err != nil {
		respondCollectorError(c, err)
		return
	}
	RespondOK(c, gin.H{"address": addr.Hex(), "is_master": false})
}

// GET /api/assets
func (h *CollectorHandler) ListAssets(c *gin.Context) {
	assets := h.collector.Assets()
	out := make([]gin.H, 0, len(assets))
	for _, asset := range assets {
		out = append(out, gin.H{
			"asset":      asset.Hex(),
			"user_count": h.collector.UserCountByAsset(asset),
		})
	}
	RespondOK(c, gin.H{"assets": out})
}

// POST /api/assets/:asset/users
// body: { "issued_at": 1700000000, "nonce": "<uuid>" }
func (h *CollectorHandler) RegisterUser(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	asset, ok := addressParam(c, "asset")
	if !ok {
		return
	}

	if err := h.collector.RegisterUser(c.Request.Context(), caller, asset); err != nil {
		respondCollectorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"asset":      asset.Hex(),
		"user":       caller.Hex(),
		"user_count": h.collector.UserCountByAsset(asset),
	})
}

// GET /api/assets/:asset/users
func (h *CollectorHandler) ListUsers(c *gin.Context) {
	asset, ok := addressParam(c, "asset")
	if !ok {
		return
	}
	users := h.collector.UsersByAsset(asset)
	RespondOK(c, gin.H{
		"asset": asset.Hex(),
		"users": hexList(users),
		"count": len(users),
	})
}

// GET /api/assets/:asset/users/count
func (h *CollectorHandler) CountUsers(c *gin.Context) {
	asset, ok := addressParam(c, "asset")
	if !ok {
		return
	}
	RespondOK(c, gin.H{
		"asset": asset.Hex(),
		"count": h.collector.UserCountByAsset(asset),
	})
}

// GET /api/assets/:asset/eligible
func (h *CollectorHandler) EligibleAddresses(c *gin.Context) {
	asset, ok := addressParam(c, "asset")
	if !ok {
		return
	}
	RespondOK(c, gin.H{
		"asset":     asset.Hex(),
		"addresses": hexList(h.collector.AddressesEligibleForCollection(asset)),
	})
}

// POST /api/assets/:asset/withdraw
// body: { "addresses": ["0x..."], "issued_at": 1700000000, "nonce": "<uuid>" }
// Without "addresses" the eligible list is used.
func (h *CollectorHandler) Withdraw(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	asset, ok := addressParam(c, "asset")
	if !ok {
		return
	}
	var req struct {
		Addresses *[]string `json:"addresses"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var addresses []common.Address
	if req.Addresses == nil {
		addresses = h.collector.AddressesEligibleForCollection(asset)
	} else {
		addresses = make([]common.Address, 0, len(*req.Addresses))
		for _, raw := range *req.Addresses {
			addr, err := validation.ParseAddress(raw)
			if err != nil {
				RespondError(c, http.StatusBadRequest, "invalid_address", err)
				return
			}
			addresses = append(addresses, addr)
		}
	}

	receipt, err := h.collector.Withdraw(c.Request.Context(), caller, asset, addresses)
	if err != nil {
		respondCollectorError(c, err)
		return
	}
	RespondOK(c, withdrawalView{
		Asset:     receipt.Asset.Hex(),
		Recipient: receipt.Recipient.Hex(),
		Total:     receipt.Total.String(),
		Pulls:     pullsView(receipt.Pulls),
		Skipped:   receipt.Skipped,
		Timestamp: receipt.Timestamp.Unix(),
	})
}
