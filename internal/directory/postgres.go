package directory

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"geosearch/internal/geo"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const startupsQuery = `SELECT id::text AS id, name, COALESCE(industry, '') AS industry, COALESCE(stage, '') AS stage,
	COALESCE(location_name, '') AS location_name, longitude, latitude, COALESCE(website, '') AS website
	FROM startups WHERE status = 'approved' ORDER BY name`

const investorsQuery = `SELECT id::text AS id, name, COALESCE(investor_type, '') AS investor_type,
	COALESCE(location_name, '') AS location_name, longitude, latitude, COALESCE(website, '') AS website
	FROM investors WHERE status = 'approved' ORDER BY name`

type startupRow struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	Industry     string          `db:"industry"`
	Stage        string          `db:"stage"`
	LocationName string          `db:"location_name"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Website      string          `db:"website"`
}

type investorRow struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	InvestorType string          `db:"investor_type"`
	LocationName string          `db:"location_name"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Website      string          `db:"website"`
}

// 文档注释：从目录服务的 PostgreSQL 库加载已审核实体
// 背景：目录表由 CRUD 与审核流程维护，本包只读；坐标缺失时置为 NaN，后续校验会把它剔除，避免误落到 (0,0)。
type PostgresLoader struct {
	db *sqlx.DB
}

func NewPostgresLoader(db *sql.DB) *PostgresLoader {
	return &PostgresLoader{db: sqlx.NewDb(db, "postgres")}
}

func (p *PostgresLoader) Load(ctx context.Context) ([]geo.Entity, error) {
	var srows []startupRow
	if err := p.db.SelectContext(ctx, &srows, startupsQuery); err != nil {
		return nil, fmt.Errorf("load startups: %w", err)
	}
	var irows []investorRow
	if err := p.db.SelectContext(ctx, &irows, investorsQuery); err != nil {
		return nil, fmt.Errorf("load investors: %w", err)
	}
	out := make([]geo.Entity, 0, len(srows)+len(irows))
	for _, r := range srows {
		out = append(out, geo.Entity{
			ID: r.ID, Kind: geo.KindStartup, Name: r.Name, Industry: r.Industry, Stage: r.Stage,
			LocationName: r.LocationName, Center: point(r.Longitude, r.Latitude), Website: r.Website,
		})
	}
	for _, r := range irows {
		out = append(out, geo.Entity{
			ID: r.ID, Kind: geo.KindInvestor, Name: r.Name, Role: r.InvestorType,
			LocationName: r.LocationName, Center: point(r.Longitude, r.Latitude), Website: r.Website,
		})
	}
	return out, nil
}

func point(lng, lat sql.NullFloat64) geo.Point {
	if !lng.Valid || !lat.Valid {
		return geo.Point{Lng: math.NaN(), Lat: math.NaN()}
	}
	return geo.Point{Lng: lng.Float64, Lat: lat.Float64}
}

const upsertStartup = `INSERT INTO startups(name, industry, stage, location_name, longitude, latitude, website, status)
	VALUES(:name, :industry, :stage, :location_name, :longitude, :latitude, :website, :status)
	ON CONFLICT (name) DO UPDATE SET industry=EXCLUDED.industry, stage=EXCLUDED.stage,
	location_name=EXCLUDED.location_name, longitude=EXCLUDED.longitude, latitude=EXCLUDED.latitude,
	website=EXCLUDED.website, status=EXCLUDED.status`

const upsertInvestor = `INSERT INTO investors(name, investor_type, location_name, longitude, latitude, website, status)
	VALUES(:name, :investor_type, :location_name, :longitude, :latitude, :website, :status)
	ON CONFLICT (name) DO UPDATE SET investor_type=EXCLUDED.investor_type,
	location_name=EXCLUDED.location_name, longitude=EXCLUDED.longitude, latitude=EXCLUDED.latitude,
	website=EXCLUDED.website, status=EXCLUDED.status`

// seedRow：写入用的行，两类表共用；未使用的列在对应语句中不出现
type seedRow struct {
	Name         string          `db:"name"`
	Industry     string          `db:"industry"`
	Stage        string          `db:"stage"`
	InvestorType string          `db:"investor_type"`
	LocationName string          `db:"location_name"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Website      string          `db:"website"`
	Status       string          `db:"status"`
}

func toSeedRow(e geo.Entity, status string) seedRow {
	r := seedRow{
		Name: e.Name, Industry: e.Industry, Stage: e.Stage, InvestorType: e.Role,
		LocationName: e.LocationName, Website: e.Website, Status: status,
	}
	if e.Center.Valid() {
		r.Longitude = sql.NullFloat64{Float64: e.Center.Lng, Valid: true}
		r.Latitude = sql.NullFloat64{Float64: e.Center.Lat, Valid: true}
	}
	return r
}

// 文档注释：按名称写入或更新实体
// 背景：供种子导入工具使用；单事务内执行，任一行失败整体回滚。
// 约束：坐标非法的实体以 NULL 坐标写入，刷新时会被剔除；地点类实体忽略。
func (p *PostgresLoader) Upsert(ctx context.Context, es []geo.Entity, status string) (int, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	n := 0
	for _, e := range es {
		q := upsertStartup
		switch e.Kind {
		case geo.KindStartup:
		case geo.KindInvestor:
			q = upsertInvestor
		default:
			continue
		}
		if _, err := tx.NamedExecContext(ctx, q, toSeedRow(e, status)); err != nil {
			return 0, fmt.Errorf("upsert %s %q: %w", e.Kind, e.Name, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
