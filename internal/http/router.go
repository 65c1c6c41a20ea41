package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTabResolveRoutes 注册与 owlFront 对齐的解析路由
func (r *Router) RegisterTabResolveRoutes(h *TabsResolveHandler) {
	r.Handle("/data/api/v1/tabs/resolve", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Resolve(w, req)
	})
}

// RegisterAdminTabConfigRoutes 注册tab配置管理路由
func (r *Router) RegisterAdminTabConfigRoutes(h *TabConfigHandler) {
	r.Handle("/admin/api/v1/tab-configs", h.ServeHTTP)
	r.Handle("/admin/api/v1/tab-configs/", h.ServeHTTP)
}

// RegisterAdminTabPresetRoutes 注册preset路由
func (r *Router) RegisterAdminTabPresetRoutes(h *TabPresetsHandler) {
	r.Handle("/admin/api/v1/tab-presets", h.ServeHTTP)
	r.Handle("/admin/api/v1/tab-presets/", h.ServeHTTP)
}
