// 包 store：PostgreSQL 数据访问层，提供餐厅记录与旅途规划的读写
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"gourmet-log/internal/logger"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// FoodSpot：一条餐厅记录；身份由 ID 决定，规划链路只读不写
type FoodSpot struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	AddressText       string    `json:"address_text,omitempty"`
	City              string    `json:"city,omitempty"`
	Taste             string    `json:"taste,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Tags              string    `json:"tags,omitempty"` // JSON 数组文本
	Rating            float64   `json:"rating,omitempty"`
	Price             int       `json:"price,omitempty"`
	OriginalShareText string    `json:"original_share_text,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

const spotColumns = `id, name, lat, lng,
	COALESCE(address_text,''), COALESCE(city,''), COALESCE(taste,''),
	COALESCE(summary,''), COALESCE(tags,''), COALESCE(rating,0), COALESCE(price,0),
	COALESCE(original_share_text,''), COALESCE(source_url,''), created_at`

func scanSpot(row interface{ Scan(...any) error }) (*FoodSpot, error) {
	var sp FoodSpot
	err := row.Scan(&sp.ID, &sp.Name, &sp.Lat, &sp.Lng,
		&sp.AddressText, &sp.City, &sp.Taste,
		&sp.Summary, &sp.Tags, &sp.Rating, &sp.Price,
		&sp.OriginalShareText, &sp.SourceURL, &sp.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

var ErrNotFound = errors.New("store: not found")

// CreateSpot：写入一条餐厅记录并返回带 ID 的完整行
func (s *Store) CreateSpot(ctx context.Context, sp *FoodSpot) (*FoodSpot, error) {
	row := s.db.QueryRowContext(ctx, `INSERT INTO food_spots
		(name, lat, lng, address_text, city, taste, summary, tags, rating, price, original_share_text, source_url)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+spotColumns,
		sp.Name, sp.Lat, sp.Lng,
		nullStr(sp.AddressText), nullStr(sp.City), nullStr(sp.Taste),
		nullStr(sp.Summary), nullStr(sp.Tags), nullF64(sp.Rating), nullInt(sp.Price),
		nullStr(sp.OriginalShareText), nullStr(sp.SourceURL))
	created, err := scanSpot(row)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("spot_created", "id", created.ID, "name", created.Name)
	return created, nil
}

// ListSpots：按创建时间倒序返回全部餐厅（单租户应用，数据量可控，不做分页）
func (s *Store) ListSpots(ctx context.Context) ([]FoodSpot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+spotColumns+` FROM food_spots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FoodSpot
	for rows.Next() {
		sp, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func (s *Store) GetSpot(ctx context.Context, id int64) (*FoodSpot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+spotColumns+` FROM food_spots WHERE id=$1`, id)
	sp, err := scanSpot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sp, err
}

func (s *Store) DeleteSpot(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM food_spots WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TripPlan：一条已保存的旅途规划；spot_ids 以 JSON 数组文本入库
type TripPlan struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	SpotIDs    []int64   `json:"spot_ids"`
	OriginText string    `json:"origin_text,omitempty"`
	OriginLat  *float64  `json:"origin_lat,omitempty"`
	OriginLng  *float64  `json:"origin_lng,omitempty"`
	RadiusKm   *float64  `json:"radius_km,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const planColumns = `id, title, COALESCE(summary,''), COALESCE(spot_ids,'[]'),
	COALESCE(origin_text,''), origin_lat, origin_lng, radius_km, created_at`

func scanPlan(row interface{ Scan(...any) error }) (*TripPlan, error) {
	var p TripPlan
	var idsText string
	err := row.Scan(&p.ID, &p.Title, &p.Summary, &idsText,
		&p.OriginText, &p.OriginLat, &p.OriginLng, &p.RadiusKm, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsText), &p.SpotIDs); err != nil {
		p.SpotIDs = nil
	}
	return &p, nil
}

// CreatePlan：保存规划；spot_ids 必须非空，由调用方在落库前复核
func (s *Store) CreatePlan(ctx context.Context, p *TripPlan) (*TripPlan, error) {
	if p.Title == "" {
		return nil, errors.New("store: plan title required")
	}
	if len(p.SpotIDs) == 0 {
		return nil, errors.New("store: plan spot_ids required")
	}
	idsText, err := json.Marshal(p.SpotIDs)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `INSERT INTO trip_plans
		(title, summary, spot_ids, origin_text, origin_lat, origin_lng, radius_km)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+planColumns,
		p.Title, nullStr(p.Summary), string(idsText), nullStr(p.OriginText),
		p.OriginLat, p.OriginLng, p.RadiusKm)
	created, err := scanPlan(row)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("plan_created", "id", created.ID, "title", created.Title, "spots", len(created.SpotIDs))
	return created, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]TripPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM trip_plans ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TripPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trip_plans WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullF64(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
