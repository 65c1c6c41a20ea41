package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/service"

	"go.uber.org/zap"
)

// TabConfigHandler Tab配置管理 Handler（管理端CRUD + 批量reorder）
type TabConfigHandler struct {
	entryService *service.EntryService
	logger       *zap.Logger
}

// NewTabConfigHandler 创建Tab配置管理 Handler
func NewTabConfigHandler(entryService *service.EntryService, logger *zap.Logger) *TabConfigHandler {
	return &TabConfigHandler{
		entryService: entryService,
		logger:       logger,
	}
}

// tabConfigItem 条目响应（前端格式：缺省补丁字段输出为null/省略）
type tabConfigItem struct {
	EntryID      string          `json:"entry_id"`
	Scope        string          `json:"scope"`
	ScopeID      *string         `json:"scope_id"`
	Key          string          `json:"key"`
	Label        *string         `json:"label,omitempty"`
	Icon         *string         `json:"icon,omitempty"`
	ContentType  *string         `json:"content_type,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	IsVisible    *bool           `json:"is_visible,omitempty"`
	IsMandatory  bool            `json:"is_mandatory"`
	DisplayOrder *int64          `json:"display_order,omitempty"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CreatedBy    string          `json:"created_by"`
}

// entryToItem 领域模型转前端格式
func entryToItem(e *domain.TabConfigEntry) tabConfigItem {
	item := tabConfigItem{
		EntryID:     e.EntryID,
		Scope:       string(e.Scope),
		Key:         e.Key,
		Settings:    e.Settings,
		IsMandatory: e.IsMandatory,
		Version:     e.Version,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		CreatedBy:   e.CreatedBy,
	}
	if e.ScopeID.Valid {
		item.ScopeID = &e.ScopeID.String
	}
	if e.Label.Valid {
		item.Label = &e.Label.String
	}
	if e.Icon.Valid {
		item.Icon = &e.Icon.String
	}
	if e.ContentType.Valid {
		item.ContentType = &e.ContentType.String
	}
	if e.IsVisible.Valid {
		item.IsVisible = &e.IsVisible.Bool
	}
	if e.DisplayOrder.Valid {
		item.DisplayOrder = &e.DisplayOrder.Int64
	}
	return item
}

// ServeHTTP 实现 http.Handler 接口
func (h *TabConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/admin/api/v1/tab-configs" && r.Method == http.MethodGet:
		h.ListEntries(w, r)
	case r.URL.Path == "/admin/api/v1/tab-configs" && r.Method == http.MethodPost:
		h.CreateEntry(w, r)
	case r.URL.Path == "/admin/api/v1/tab-configs/reorder" && r.Method == http.MethodPost:
		h.Reorder(w, r)
	case strings.HasPrefix(r.URL.Path, "/admin/api/v1/tab-configs/") && r.Method == http.MethodPut:
		h.UpdateEntry(w, r)
	case strings.HasPrefix(r.URL.Path, "/admin/api/v1/tab-configs/") && r.Method == http.MethodDelete:
		h.DeleteEntry(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// scopeFromQuery scope/scope_id查询参数
func scopeFromQuery(r *http.Request) (domain.Scope, string) {
	return domain.Scope(strings.TrimSpace(r.URL.Query().Get("scope"))),
		strings.TrimSpace(r.URL.Query().Get("scope_id"))
}

// actorFromReq 操作者ID（网关注入的已认证会话头，本核心直接信任）
func actorFromReq(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

// ListEntries 查询某个(scope, scope_id)下的条目列表
func (h *TabConfigHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, scopeID := scopeFromQuery(r)

	entries, err := h.entryService.ListEntries(ctx, scope, scopeID)
	if err != nil {
		h.logger.Error("ListEntries failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	items := make([]tabConfigItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryToItem(e))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": items, "total": len(items)}))
}

// CreateEntry 创建条目
func (h *TabConfigHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Scope        string          `json:"scope"`
		ScopeID      string          `json:"scope_id"`
		Key          string          `json:"key"`
		Label        string          `json:"label"`
		Icon         string          `json:"icon"`
		ContentType  string          `json:"content_type"`
		Settings     json.RawMessage `json:"settings"`
		IsVisible    *bool           `json:"is_visible"`
		DisplayOrder *int64          `json:"display_order"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.CreateEntryRequest{
		Actor:        actorFromReq(r),
		Scope:        domain.Scope(payload.Scope),
		ScopeID:      payload.ScopeID,
		Key:          payload.Key,
		Label:        payload.Label,
		Icon:         payload.Icon,
		ContentType:  payload.ContentType,
		Settings:     payload.Settings,
		IsVisible:    payload.IsVisible,
		DisplayOrder: payload.DisplayOrder,
	}

	entry, err := h.entryService.CreateEntry(ctx, req)
	if err != nil {
		h.logger.Error("CreateEntry failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(entryToItem(entry)))
}

// UpdateEntry 更新条目（乐观并发：body必须带expected_version）
func (h *TabConfigHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimPrefix(r.URL.Path, "/admin/api/v1/tab-configs/")
	if key == "" || strings.Contains(key, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	scope, scopeID := scopeFromQuery(r)

	var payload struct {
		Label           *string         `json:"label"`
		Icon            *string         `json:"icon"`
		ContentType     *string         `json:"content_type"`
		Settings        json.RawMessage `json:"settings"`
		IsVisible       *bool           `json:"is_visible"`
		DisplayOrder    *int64          `json:"display_order"`
		ExpectedVersion int             `json:"expected_version"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.UpdateEntryRequest{
		Actor:   actorFromReq(r),
		Scope:   scope,
		ScopeID: scopeID,
		Key:     key,
		Patch: domain.EntryPatch{
			Label:        payload.Label,
			Icon:         payload.Icon,
			ContentType:  payload.ContentType,
			Settings:     payload.Settings,
			IsVisible:    payload.IsVisible,
			DisplayOrder: payload.DisplayOrder,
		},
		ExpectedVersion: payload.ExpectedVersion,
	}

	entry, err := h.entryService.UpdateEntry(ctx, req)
	if err != nil {
		h.logger.Error("UpdateEntry failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(entryToItem(entry)))
}

// DeleteEntry 删除条目
func (h *TabConfigHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimPrefix(r.URL.Path, "/admin/api/v1/tab-configs/")
	if key == "" || strings.Contains(key, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	scope, scopeID := scopeFromQuery(r)

	req := service.DeleteEntryRequest{
		Actor:   actorFromReq(r),
		Scope:   scope,
		ScopeID: scopeID,
		Key:     key,
	}
	if err := h.entryService.DeleteEntry(ctx, req); err != nil {
		h.logger.Error("DeleteEntry failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": key}))
}

// Reorder 批量重排（前端拖拽落位后一次提交）
func (h *TabConfigHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Scope   string            `json:"scope"`
		ScopeID string            `json:"scope_id"`
		Pairs   []domain.KeyOrder `json:"pairs"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.ReorderRequest{
		Actor:   actorFromReq(r),
		Scope:   domain.Scope(payload.Scope),
		ScopeID: payload.ScopeID,
		Pairs:   payload.Pairs,
	}
	if err := h.entryService.Reorder(ctx, req); err != nil {
		h.logger.Error("Reorder failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"reordered": len(payload.Pairs)}))
}
