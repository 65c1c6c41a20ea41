//go:build integration
// +build integration

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"wisefido-tabs/internal/domain"

	"github.com/google/uuid"
)

func TestPostgresPresetsRepository_CreateGetList(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	repo := NewPostgresPresetsRepository(db)
	ctx := context.Background()
	name := "Test Preset " + uuid.NewString()
	defer db.Exec(`DELETE FROM tab_presets WHERE preset_name = $1`, name)

	visible := true
	preset := &domain.Preset{
		Name:       name,
		TargetRole: "Doctor",
		Entries: []domain.EntrySeed{
			{Key: "labs", DisplayOrder: 5, IsVisible: &visible},
			{
				Key: "protocol", Label: "Protocol", ContentType: domain.ContentTypeMarkdown,
				Settings: json.RawMessage(`{"markdown": "# Intake protocol"}`), DisplayOrder: 8,
			},
		},
	}
	if err := repo.CreatePreset(ctx, preset); err != nil {
		t.Fatalf("CreatePreset failed: %v", err)
	}

	// 重名拒绝
	if err := repo.CreatePreset(ctx, preset); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := repo.GetPreset(ctx, name)
	if err != nil {
		t.Fatalf("GetPreset failed: %v", err)
	}
	if got.TargetRole != "Doctor" {
		t.Errorf("Expected target_role Doctor, got %q", got.TargetRole)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries[0].Key != "labs" || got.Entries[1].Key != "protocol" {
		t.Errorf("Entries out of order: %+v", got.Entries)
	}

	// 未知名称
	if _, err := repo.GetPreset(ctx, "no-such-preset-"+uuid.NewString()); !errors.Is(err, domain.ErrPresetNotFound) {
		t.Errorf("Expected ErrPresetNotFound, got %v", err)
	}

	presets, err := repo.ListPresets(ctx)
	if err != nil {
		t.Fatalf("ListPresets failed: %v", err)
	}
	found := false
	for _, p := range presets {
		if p.Name == name {
			found = true
		}
	}
	if !found {
		t.Error("Expected created preset in ListPresets")
	}
}
