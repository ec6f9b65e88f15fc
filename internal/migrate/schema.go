package migrate

import (
	"database/sql"

	"gourmet-log/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续写入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS food_spots (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            lat DOUBLE PRECISION NOT NULL,
            lng DOUBLE PRECISION NOT NULL,
            address_text TEXT,
            city TEXT,
            taste TEXT,
            summary TEXT,
            tags TEXT,
            rating DOUBLE PRECISION,
            price INT,
            original_share_text TEXT,
            source_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_food_spots_location ON food_spots(lat, lng)`,
		`CREATE INDEX IF NOT EXISTS idx_food_spots_created ON food_spots(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS trip_plans (
            id BIGSERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            summary TEXT,
            spot_ids TEXT,
            origin_text TEXT,
            origin_lat DOUBLE PRECISION,
            origin_lng DOUBLE PRECISION,
            radius_km DOUBLE PRECISION,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_trip_plans_created ON trip_plans(created_at DESC)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
