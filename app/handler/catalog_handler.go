package handler

import (
	"context"
	"net/http"

	"gpuindex/internal/service/catalog"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
)

// CatalogReader lists reference data
type CatalogReader interface {
	ListProviders(ctx context.Context) ([]*model.Provider, error)
	ListGPUs(ctx context.Context) ([]*model.GpuModel, error)
}

var _ CatalogReader = (*catalog.Service)(nil)

// CatalogHandler serves providers and GPU models
type CatalogHandler struct {
	catalog CatalogReader
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(catalog CatalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListProviders lists tracked providers
// @Summary List providers
// @Tags catalog
// @Produce json
// @Router /api/v1/providers [get]
func (h *CatalogHandler) ListProviders(c *gin.Context) {
	providers, err := h.catalog.ListProviders(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list providers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "total": len(providers)})
}

// ListGPUs lists known GPU models
// @Summary List GPU models
// @Tags catalog
// @Produce json
// @Router /api/v1/gpus [get]
func (h *CatalogHandler) ListGPUs(c *gin.Context) {
	gpus, err := h.catalog.ListGPUs(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list gpu models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gpus": gpus, "total": len(gpus)})
}
