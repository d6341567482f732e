package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"negotiator/internal/logger"
	"negotiator/internal/types"

	_ "modernc.org/sqlite"
)

// Kind 区分决策类型。
type Kind string

const (
	KindPropose Kind = "propose"
	KindRespond Kind = "respond"
)

// DecisionLogStore 持久化每一次 propose/respond，便于事后排查与可视化。
type DecisionLogStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// Entry is one journal row.
type Entry struct {
	ID        int64          `json:"id"`
	TraceID   string         `json:"trace_id"`
	Partner   string         `json:"partner"`
	Role      types.Role     `json:"role"`
	Kind      Kind           `json:"kind"`
	Variant   string         `json:"variant"`
	Profile   string         `json:"profile,omitempty"`
	Step      int            `json:"step"`
	T         float64        `json:"t"`
	Offer     types.Offer    `json:"offer"`
	Response  types.Response `json:"response,omitempty"`
	Utility   float64        `json:"utility"`
	Target    float64        `json:"target"`
	Fallback  bool           `json:"fallback"`
	Frontier  int            `json:"frontier_size"`
	Error     string         `json:"error,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// Accepted reports whether the entry is an accepting response.
func (e Entry) Accepted() bool { return e.Kind == KindRespond && e.Response == types.ResponseAccept }

// Query 过滤条件；Limit 缺省 100，上限 500。
type Query struct {
	Partner string
	TraceID string
	Kind    Kind
	Limit   int
	Offset  int
}

func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLogStore{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 复用外部（例如 GORM）初始化的 SQLite 连接，避免多连接锁冲突。
func (s *DecisionLogStore) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("decision log store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

func (s *DecisionLogStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	var err error
	if s.ownsDB {
		err = s.db.Close()
	}
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS negotiation_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			partner TEXT,
			role INTEGER NOT NULL,
			kind TEXT NOT NULL,
			variant TEXT,
			profile TEXT,
			step INTEGER NOT NULL,
			t REAL NOT NULL,
			offer_json TEXT NOT NULL,
			response TEXT,
			utility REAL,
			target REAL,
			fallback INTEGER NOT NULL DEFAULT 0,
			frontier_size INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_negotiation_decisions_partner_ts ON negotiation_decisions(partner, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_negotiation_decisions_trace ON negotiation_decisions(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *DecisionLogStore) conn() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return db, nil
}

// Insert 写入一条决策记录，返回自增 ID。
func (s *DecisionLogStore) Insert(ctx context.Context, e Entry) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	offerJSON, err := json.Marshal(e.Offer)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO negotiation_decisions
			(trace_id, partner, role, kind, variant, profile, step, t, offer_json, response,
			 utility, target, fallback, frontier_size, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.Partner, int(e.Role), string(e.Kind), e.Variant, e.Profile, e.Step, e.T,
		string(offerJSON), string(e.Response), finite(e.Utility), finite(e.Target),
		boolToInt(e.Fallback), e.Frontier, e.Error, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertAsync 在后台写入，失败只记录日志，不影响决策返回。
func (s *DecisionLogStore) InsertAsync(e Entry) {
	if s == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Insert(ctx, e); err != nil {
			logger.Warnf("写入决策日志失败 trace=%s: %v", e.TraceID, err)
		}
	}()
}

func buildFilter(q Query) (string, []any) {
	var args []any
	var sb strings.Builder
	sb.WriteString(" WHERE 1=1")
	if p := strings.TrimSpace(q.Partner); p != "" {
		sb.WriteString(" AND partner=?")
		args = append(args, p)
	}
	if id := strings.TrimSpace(q.TraceID); id != "" {
		sb.WriteString(" AND trace_id=?")
		args = append(args, id)
	}
	if q.Kind != "" {
		sb.WriteString(" AND kind=?")
		args = append(args, string(q.Kind))
	}
	return sb.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(scanner rowScanner) (Entry, error) {
	var (
		e        Entry
		role     int
		kind     string
		offer    string
		partner  sql.NullString
		variant  sql.NullString
		profile  sql.NullString
		response sql.NullString
		utility  sql.NullFloat64
		target   sql.NullFloat64
		fallback int
		errStr   sql.NullString
	)
	if err := scanner.Scan(&e.ID, &e.TraceID, &partner, &role, &kind, &variant, &profile, &e.Step, &e.T,
		&offer, &response, &utility, &target, &fallback, &e.Frontier, &errStr, &e.CreatedAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(offer), &e.Offer); err != nil {
		return e, fmt.Errorf("decode offer of decision %d: %w", e.ID, err)
	}
	e.Role = types.Role(role)
	e.Kind = Kind(kind)
	e.Partner = partner.String
	e.Variant = variant.String
	e.Profile = profile.String
	e.Response = types.Response(response.String)
	e.Utility = utility.Float64
	e.Target = target.Float64
	e.Fallback = fallback != 0
	e.Error = errStr.String
	return e, nil
}

// List 按时间倒序返回满足条件的决策。
func (s *DecisionLogStore) List(ctx context.Context, q Query) ([]Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := max(q.Offset, 0)
	filterSQL, args := buildFilter(q)
	var sb strings.Builder
	sb.WriteString(`SELECT id, trace_id, partner, role, kind, variant, profile, step, t, offer_json,
		response, utility, target, fallback, frontier_size, error, created_at
		FROM negotiation_decisions`)
	sb.WriteString(filterSQL)
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Count 统计满足条件的决策数量。
func (s *DecisionLogStore) Count(ctx context.Context, q Query) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	filterSQL, args := buildFilter(q)
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(1) FROM negotiation_decisions"+filterSQL, args...).Scan(&n)
	return n, err
}

// AcceptanceRate is accepted responses over all responses for partner ("" for all).
func (s *DecisionLogStore) AcceptanceRate(ctx context.Context, partner string) (float64, int, error) {
	total, err := s.Count(ctx, Query{Partner: partner, Kind: KindRespond})
	if err != nil || total == 0 {
		return 0, total, err
	}
	db, err := s.conn()
	if err != nil {
		return 0, 0, err
	}
	filterSQL, args := buildFilter(Query{Partner: partner, Kind: KindRespond})
	var accepted int
	err = db.QueryRowContext(ctx, "SELECT COUNT(1) FROM negotiation_decisions"+filterSQL+" AND response=?",
		append(args, string(types.ResponseAccept))...).Scan(&accepted)
	if err != nil {
		return 0, 0, err
	}
	return float64(accepted) / float64(total), total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// finite maps ±Inf/NaN utilities to NULL; sqlite cannot store them.
func finite(v float64) any {
	if v != v || v > 1e308 || v < -1e308 {
		return nil
	}
	return v
}
