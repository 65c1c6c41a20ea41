package httpapi

import (
	"net/http"

	"wisefido-tabs/internal/service"

	"go.uber.org/zap"
)

// TabPresetsHandler Preset目录 Handler
type TabPresetsHandler struct {
	presetService *service.PresetService
	logger        *zap.Logger
}

// NewTabPresetsHandler 创建Preset Handler
func NewTabPresetsHandler(presetService *service.PresetService, logger *zap.Logger) *TabPresetsHandler {
	return &TabPresetsHandler{
		presetService: presetService,
		logger:        logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *TabPresetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/admin/api/v1/tab-presets" && r.Method == http.MethodGet:
		h.ListPresets(w, r)
	case r.URL.Path == "/admin/api/v1/tab-presets/apply" && r.Method == http.MethodPost:
		h.ApplyPreset(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListPresets 查询全部preset
func (h *TabPresetsHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	presets, err := h.presetService.ListPresets(ctx)
	if err != nil {
		h.logger.Error("ListPresets failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": presets, "total": len(presets)}))
}

// ApplyPreset 原子地把preset应用到用户
func (h *TabPresetsHandler) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		UserID     string `json:"user_id"`
		PresetName string `json:"preset_name"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.ApplyPresetRequest{
		Actor:      actorFromReq(r),
		UserID:     payload.UserID,
		PresetName: payload.PresetName,
	}
	if err := h.presetService.ApplyPreset(ctx, req); err != nil {
		h.logger.Error("ApplyPreset failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"applied": payload.PresetName}))
}
