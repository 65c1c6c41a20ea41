package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wisefido-tabs/internal/repository"
	"wisefido-tabs/internal/seed"
	"wisefido-tabs/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	log := zap.NewNop()

	entriesRepo := repository.NewMemoryEntriesRepository()
	presetsRepo := repository.NewMemoryPresetsRepository()
	require.NoError(t, seed.Apply(context.Background(), entriesRepo, presetsRepo))

	icons := service.NewStaticRegistry(service.DefaultIcons...)
	renderers := service.NewStaticRegistry(service.DefaultRenderers...)
	authz := service.AllowAllAuthz{}

	router := NewRouter(log)
	router.RegisterTabResolveRoutes(NewTabsResolveHandler(
		service.NewResolverService(entriesRepo, nil, log), log))
	router.RegisterAdminTabConfigRoutes(NewTabConfigHandler(
		service.NewEntryService(entriesRepo, icons, renderers, authz, nil, log), log))
	router.RegisterAdminTabPresetRoutes(NewTabPresetsHandler(
		service.NewPresetService(presetsRepo, entriesRepo, icons, renderers, authz, nil, log), log))
	return router
}

func doJSON(t *testing.T, router *Router, method, path string, body any) Result[json.RawMessage] {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-Org-Id", "clinic-a")
	req.Header.Set("X-Role-Id", "nurse")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestResolveEndpoint(t *testing.T) {
	router := newTestRouter(t)

	res := doJSON(t, router, http.MethodGet, "/data/api/v1/tabs/resolve", nil)
	require.Equal(t, ResultSuccess, res.Code)

	var payload struct {
		Items []struct {
			Key          string `json:"key"`
			Label        string `json:"label"`
			DisplayOrder int64  `json:"display_order"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &payload))
	require.Equal(t, 5, payload.Total)
	require.Equal(t, "overview", payload.Items[0].Key)
	require.Equal(t, "billing", payload.Items[4].Key)
}

func TestAdminTabConfigFlow(t *testing.T) {
	router := newTestRouter(t)

	// 创建org层覆盖
	res := doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-configs", map[string]any{
		"scope":    "organization",
		"scope_id": "clinic-a",
		"key":      "labs",
		"label":    "Test Results",
	})
	require.Equal(t, ResultSuccess, res.Code)

	var created struct {
		EntryID string `json:"entry_id"`
		Version int    `json:"version"`
		Label   string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &created))
	require.NotEmpty(t, created.EntryID)
	require.Equal(t, 1, created.Version)
	require.Equal(t, "Test Results", created.Label)

	// 解析端看到覆盖后的label
	res = doJSON(t, router, http.MethodGet, "/data/api/v1/tabs/resolve", nil)
	var payload struct {
		Items []struct {
			Key   string `json:"key"`
			Label string `json:"label"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &payload))
	found := false
	for _, item := range payload.Items {
		if item.Key == "labs" {
			require.Equal(t, "Test Results", item.Label)
			found = true
		}
	}
	require.True(t, found)

	// 乐观更新：带正确版本成功
	res = doJSON(t, router, http.MethodPut,
		"/admin/api/v1/tab-configs/labs?scope=organization&scope_id=clinic-a",
		map[string]any{"label": "Laboratory", "expected_version": 1})
	require.Equal(t, ResultSuccess, res.Code)

	// 过期版本失败
	res = doJSON(t, router, http.MethodPut,
		"/admin/api/v1/tab-configs/labs?scope=organization&scope_id=clinic-a",
		map[string]any{"label": "Stale", "expected_version": 1})
	require.Equal(t, ResultError, res.Code)
	require.Contains(t, res.Message, "version conflict")

	// 删除后回落到system层label
	res = doJSON(t, router, http.MethodDelete,
		"/admin/api/v1/tab-configs/labs?scope=organization&scope_id=clinic-a", nil)
	require.Equal(t, ResultSuccess, res.Code)
}

func TestAdminReorderEndpoint(t *testing.T) {
	router := newTestRouter(t)

	res := doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-configs", map[string]any{
		"scope": "user", "scope_id": "u1", "key": "vitals", "display_order": 100,
	})
	require.Equal(t, ResultSuccess, res.Code)
	res = doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-configs", map[string]any{
		"scope": "user", "scope_id": "u1", "key": "labs", "display_order": 200,
	})
	require.Equal(t, ResultSuccess, res.Code)

	res = doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-configs/reorder", map[string]any{
		"scope": "user", "scope_id": "u1",
		"pairs": []map[string]any{
			{"key": "labs", "display_order": 1},
			{"key": "vitals", "display_order": 2},
		},
	})
	require.Equal(t, ResultSuccess, res.Code)

	// 含未知key的批次整体失败
	res = doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-configs/reorder", map[string]any{
		"scope": "user", "scope_id": "u1",
		"pairs": []map[string]any{
			{"key": "labs", "display_order": 3},
			{"key": "ghost", "display_order": 4},
		},
	})
	require.Equal(t, ResultError, res.Code)
}

func TestPresetEndpoints(t *testing.T) {
	router := newTestRouter(t)

	res := doJSON(t, router, http.MethodGet, "/admin/api/v1/tab-presets", nil)
	require.Equal(t, ResultSuccess, res.Code)

	var listed struct {
		Items []struct {
			Name       string `json:"name"`
			TargetRole string `json:"target_role"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &listed))
	require.Equal(t, 2, listed.Total)

	res = doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-presets/apply", map[string]any{
		"user_id":     "u1",
		"preset_name": "Doctor's View",
	})
	require.Equal(t, ResultSuccess, res.Code)

	// apply未知preset
	res = doJSON(t, router, http.MethodPost, "/admin/api/v1/tab-presets/apply", map[string]any{
		"user_id":     "u1",
		"preset_name": "ghost",
	})
	require.Equal(t, ResultError, res.Code)
}

func TestResolveMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/data/api/v1/tabs/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
