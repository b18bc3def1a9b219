package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
)

// check_db connects with the server's configuration, applies the schema and
// prints what the sync engine will find.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatalf("DB_DRIVER=%s has no database to check", cfg.Database.Driver)
	}

	db, err := database.Connect(cfg.Database, zap.NewNop())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() { _ = database.Close(db) }()

	fmt.Println("✅ Connected to database, schema migrated")
	fmt.Println()

	// Get column info
	type ColumnInfo struct {
		TableName  string
		ColumnName string
		DataType   string
		IsNullable string
	}
	var columns []ColumnInfo
	if err := db.Raw(`
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name IN ('boards', 'elements')
		ORDER BY table_name, ordinal_position
	`).Scan(&columns).Error; err != nil {
		log.Fatal("Failed to read columns:", err)
	}

	fmt.Println("📋 Columns:")
	for _, col := range columns {
		fmt.Printf("  %-10s %-14s %-28s nullable=%s\n", col.TableName, col.ColumnName, col.DataType, col.IsNullable)
	}
	fmt.Println()

	var boards, elements, strokes int64
	db.Table("boards").Count(&boards)
	db.Table("elements").Count(&elements)
	db.Table("elements").Where("jsonb_array_length(COALESCE(points, '[]'::jsonb)) > 0").Count(&strokes)

	fmt.Printf("📊 boards=%d elements=%d elements_with_points=%d\n", boards, elements, strokes)

	// 요소가 가장 많은 보드
	type BoardCount struct {
		BoardID string
		Count   int64
	}
	var top []BoardCount
	db.Table("elements").
		Select("board_id, COUNT(*) AS count").
		Group("board_id").
		Order("count DESC").
		Limit(5).
		Scan(&top)
	if len(top) > 0 {
		fmt.Println()
		fmt.Println("🔝 Busiest boards:")
		for _, b := range top {
			fmt.Printf("  %s: %d elements\n", b.BoardID, b.Count)
		}
	}
}
