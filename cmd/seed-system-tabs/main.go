package main

import (
	"context"
	"fmt"
	"log"

	"wisefido-tabs/internal/config"
	"wisefido-tabs/internal/database"
	"wisefido-tabs/internal/repository"
	"wisefido-tabs/internal/seed"
)

// 初始化工具：播种system层tab条目与preset目录
// system条目只能由本工具创建（运行时API拒绝system层创建），重复执行幂等
func main() {
	cfg := config.Load()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	entriesRepo := repository.NewPostgresEntriesRepository(db)
	presetsRepo := repository.NewPostgresPresetsRepository(db)

	if err := seed.Apply(context.Background(), entriesRepo, presetsRepo); err != nil {
		log.Fatalf("Seed failed: %v", err)
	}

	fmt.Println("System tab entries and presets seeded.")
}
