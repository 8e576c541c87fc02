// Package api serves reconstructed invoices over HTTP to the portal.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/deltaDAO/mvg-portal-sub004/internal/auth"
	"github.com/deltaDAO/mvg-portal-sub004/internal/chain"
	"github.com/deltaDAO/mvg-portal-sub004/internal/engine"
	"github.com/deltaDAO/mvg-portal-sub004/internal/invoice"
	"github.com/deltaDAO/mvg-portal-sub004/internal/resolver"
	"github.com/deltaDAO/mvg-portal-sub004/internal/scanner"
)

// Invoicer is satisfied by engine.Engine.
type Invoicer interface {
	AssetInvoices(ctx context.Context, chainID int64, o engine.Order) ([]invoice.Record, error)
	ComputeInvoices(ctx context.Context, chainID int64, asset, algorithm engine.Order) ([]invoice.Record, error)
	FirstOrder(ctx context.Context, chainID int64, datatoken common.Address) (chain.OrderStarted, error)
}

// statusClientClosed is logged when the caller went away mid-resolution.
const statusClientClosed = 499

// Handler wires up the invoice routes onto a Gin engine.
type Handler struct {
	inv Invoicer
	log *zap.Logger
}

func NewHandler(inv Invoicer, log *zap.Logger) *Handler {
	return &Handler{inv: inv, log: log}
}

// Register mounts all routes. walletAuth, when non-nil, gates the invoice
// routes; it must be bound to the :txHash parameter.
func (h *Handler) Register(rg *gin.RouterGroup, walletAuth gin.HandlerFunc) {
	invoices := rg.Group("/invoices/:chainId/:txHash")
	if walletAuth != nil {
		invoices.Use(walletAuth)
	}
	// ── Single asset ───────────────────────────────────────────────────────
	invoices.GET("", h.handleAsset)
	// ── Compute job ────────────────────────────────────────────────────────
	invoices.POST("/compute", h.handleCompute)

	// ── First order of a datatoken (public ledger data) ───────────────────
	rg.GET("/orders/:chainId/:datatoken/first", h.handleFirstOrder)
}

// ── Asset ───────────────────────────────────────────────────────────────────

func (h *Handler) handleAsset(c *gin.Context) {
	chainID, txHash, ok := pathParams(c)
	if !ok {
		return
	}
	var q saleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := q.order(txHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.inv.AssetInvoices(c.Request.Context(), chainID, order)
	if err != nil {
		h.fail(c, txHash, err)
		return
	}
	if !h.issuedTo(c, records) {
		return
	}
	c.JSON(http.StatusOK, records)
}

// ── Compute ─────────────────────────────────────────────────────────────────

func (h *Handler) handleCompute(c *gin.Context) {
	chainID, txHash, ok := pathParams(c)
	if !ok {
		return
	}
	var body computeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset, algorithm, err := body.orders(txHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.inv.ComputeInvoices(c.Request.Context(), chainID, asset, algorithm)
	if err != nil {
		h.fail(c, txHash, err)
		return
	}
	if !h.issuedTo(c, records) {
		return
	}
	c.JSON(http.StatusOK, records)
}

// ── First order ─────────────────────────────────────────────────────────────

func (h *Handler) handleFirstOrder(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}
	dt := c.Param("datatoken")
	if !common.IsHexAddress(dt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid datatoken address"})
		return
	}
	os, err := h.inv.FirstOrder(c.Request.Context(), chainID, common.HexToAddress(dt))
	if err != nil {
		h.fail(c, common.Hash{}, err)
		return
	}
	c.JSON(http.StatusOK, firstOrderResponse{
		TxHash:               os.TxHash,
		BlockNumber:          os.BlockNumber,
		Consumer:             os.Consumer,
		PublishMarketAddress: os.PublishMarketAddress,
	})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func pathParams(c *gin.Context) (int64, common.Hash, bool) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return 0, common.Hash{}, false
	}
	hash, err := parseHash(c.Param("txHash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, common.Hash{}, false
	}
	return chainID, hash, true
}

// issuedTo enforces that a signed-in wallet only receives its own invoices.
func (h *Handler) issuedTo(c *gin.Context, records []invoice.Record) bool {
	wallet, ok := auth.Wallet(c)
	if !ok {
		return true
	}
	if err := CheckBuyer(records, wallet); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// fail maps engine errors onto HTTP statuses. No partial invoice is ever
// written.
func (h *Handler) fail(c *gin.Context, txHash common.Hash, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err)}
	if txHash != (common.Hash{}) {
		fields = append(fields, zap.String("tx", txHash.Hex()))
	}
	if status == statusClientClosed {
		h.log.Info("request cancelled", fields...)
		c.AbortWithStatus(status)
		return
	}
	h.log.Warn("invoice request failed", fields...)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, chain.ErrUnknownChain):
		return http.StatusNotFound
	case chain.IsLookupError(err):
		return http.StatusBadGateway
	case errors.Is(err, scanner.ErrCreationBlockNotFound),
		errors.Is(err, scanner.ErrEventNotFound),
		errors.Is(err, resolver.ErrOrderStartedNotFound),
		errors.Is(err, resolver.ErrReuseDepthExceeded),
		errors.Is(err, resolver.ErrReuseCycle),
		errors.Is(err, resolver.ErrSettlementReverted),
		errors.Is(err, invoice.ErrUnresolved):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
