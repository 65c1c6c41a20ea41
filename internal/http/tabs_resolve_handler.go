package httpapi

import (
	"net/http"
	"strings"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/service"

	"go.uber.org/zap"
)

// TabsResolveHandler 观察者tab解析 Handler
// 观察者上下文来自网关注入的会话头（X-Org-Id / X-Role-Id / X-User-Id），
// 本核心直接信任，不做鉴权
type TabsResolveHandler struct {
	resolver *service.ResolverService
	logger   *zap.Logger
}

// NewTabsResolveHandler 创建解析 Handler
func NewTabsResolveHandler(resolver *service.ResolverService, logger *zap.Logger) *TabsResolveHandler {
	return &TabsResolveHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// Resolve GET /data/api/v1/tabs/resolve
func (h *TabsResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vc := domain.ViewerContext{
		OrganizationID: strings.TrimSpace(r.Header.Get("X-Org-Id")),
		RoleID:         strings.TrimSpace(r.Header.Get("X-Role-Id")),
		UserID:         strings.TrimSpace(r.Header.Get("X-User-Id")),
	}

	tabs, err := h.resolver.Resolve(ctx, vc)
	if err != nil {
		h.logger.Error("Resolve failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": tabs, "total": len(tabs)}))
}
