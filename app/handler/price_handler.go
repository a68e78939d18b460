package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"gpuindex/internal/service/aggregate"
	"gpuindex/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultHistoryDays = 30

// PriceService is the read side served to API clients
type PriceService interface {
	ListOffers(ctx context.Context, gpuSlug, providerSlug string, activeOnly bool) ([]aggregate.Offer, error)
	ComparePrices(ctx context.Context, gpuSlug string) (*aggregate.PriceComparison, error)
	CompareProviders(ctx context.Context, slugA, slugB string) (*aggregate.ProviderComparison, error)
	PriceHistory(ctx context.Context, gpuSlug string, days int, providerSlug string) ([]aggregate.PricePoint, error)
}

var _ PriceService = (*aggregate.Service)(nil)

// PriceHandler handles price comparison HTTP requests
type PriceHandler struct {
	prices PriceService
}

// NewPriceHandler creates a new price handler
func NewPriceHandler(prices PriceService) *PriceHandler {
	return &PriceHandler{prices: prices}
}

// CompareGPU compares every active offer of one GPU model
// @Summary Compare prices for a GPU
// @Tags prices
// @Produce json
// @Param gpu path string true "GPU slug"
// @Success 200 {object} aggregate.PriceComparison
// @Failure 404 {object} map[string]string "GPU not found"
// @Router /api/v1/compare/gpus/{gpu} [get]
func (h *PriceHandler) CompareGPU(c *gin.Context) {
	gpu := c.Param("gpu")

	result, err := h.prices.ComparePrices(c.Request.Context(), gpu)
	if err != nil {
		h.writeError(c, err, "compare prices for %s", gpu)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CompareProviders compares two providers over the GPUs they both offer
// @Summary Compare two providers
// @Tags prices
// @Produce json
// @Param a path string true "Provider A slug"
// @Param b path string true "Provider B slug"
// @Success 200 {object} aggregate.ProviderComparison
// @Router /api/v1/compare/providers/{a}/{b} [get]
func (h *PriceHandler) CompareProviders(c *gin.Context) {
	a, b := c.Param("a"), c.Param("b")

	result, err := h.prices.CompareProviders(c.Request.Context(), a, b)
	if err != nil {
		h.writeError(c, err, "compare providers %s and %s", a, b)
		return
	}

	c.JSON(http.StatusOK, result)
}

// History returns daily min/avg/max per-GPU prices
// @Summary Daily price history
// @Tags prices
// @Produce json
// @Param gpu path string true "GPU slug"
// @Param days query int false "Number of days (1-365, default 30)"
// @Param provider query string false "Provider slug"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/history/{gpu} [get]
func (h *PriceHandler) History(c *gin.Context) {
	gpu := c.Param("gpu")
	provider := c.Query("provider")

	days := defaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer"})
			return
		}
		days = parsed
	}

	points, err := h.prices.PriceHistory(c.Request.Context(), gpu, days, provider)
	if err != nil {
		h.writeError(c, err, "price history for %s", gpu)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gpu":      gpu,
		"provider": provider,
		"days":     len(points),
		"points":   points,
	})
}

// Offers lists raw offers tagged with staleness
// @Summary List offers
// @Tags prices
// @Produce json
// @Param gpu query string false "GPU slug"
// @Param provider query string false "Provider slug"
// @Param include_inactive query bool false "Include inactive rows"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/offers [get]
func (h *PriceHandler) Offers(c *gin.Context) {
	gpu := c.Query("gpu")
	provider := c.Query("provider")
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))

	offers, err := h.prices.ListOffers(c.Request.Context(), gpu, provider, !includeInactive)
	if err != nil {
		h.writeError(c, err, "list offers")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"total":  len(offers),
	})
}

func (h *PriceHandler) writeError(c *gin.Context, err error, format string, args ...interface{}) {
	if errors.Is(err, aggregate.ErrGPUNotFound) || errors.Is(err, aggregate.ErrProviderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.ErrorCtx(c.Request.Context(), "failed to "+format+": %v", append(args, err)...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
