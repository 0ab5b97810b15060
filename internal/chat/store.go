package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn 一条对话记录，与具体模型厂商无关
type Turn struct {
	Role      string    `json:"role"` // "user" / "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DatabaseError 历史库读写失败，消息会直接展示给用户
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func dbErr(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}

// Store 按 scope（用户或服务器）保存对话历史和默认模型
type Store struct {
	db       *sql.DB
	maxTurns int
}

func Open(path string, maxTurns int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, dbErr("create history dir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dbErr("open history db", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, dbErr("configure history db", err)
		}
	}

	s := &Store{db: db, maxTurns: maxTurns}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS default_models (
			scope_id   TEXT PRIMARY KEY,
			model      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS histories (
			scope_id   TEXT PRIMARY KEY,
			turns      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return dbErr("migrate history db", err)
		}
	}
	return nil
}

// DefaultModel 返回 scope 保存的默认模型，没有时返回空串
func (s *Store) DefaultModel(ctx context.Context, scopeID string) (string, error) {
	var model string
	err := s.db.QueryRowContext(ctx,
		`SELECT model FROM default_models WHERE scope_id = ?`, scopeID).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("get default model", err)
	}
	return model, nil
}

func (s *Store) SetDefaultModel(ctx context.Context, scopeID, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO default_models (scope_id, model, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET model = excluded.model, updated_at = excluded.updated_at`,
		scopeID, model, time.Now().Unix())
	if err != nil {
		return dbErr("set default model", err)
	}
	return nil
}

// Load 读取 scope 的对话历史，按时间顺序
func (s *Store) Load(ctx context.Context, scopeID string) ([]Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM histories WHERE scope_id = ?`, scopeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load history", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, dbErr("decode history", err)
	}
	return turns, nil
}

// Save 覆盖保存对话历史，只保留最近 maxTurns 轮
func (s *Store) Save(ctx context.Context, scopeID string, turns []Turn) error {
	turns = s.trim(turns)
	data, err := json.Marshal(turns)
	if err != nil {
		return dbErr("encode history", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO histories (scope_id, turns, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`,
		scopeID, string(data), time.Now().Unix())
	if err != nil {
		return dbErr("save history", err)
	}
	return nil
}

// Clear 删除 scope 的对话历史，默认模型保留
func (s *Store) Clear(ctx context.Context, scopeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM histories WHERE scope_id = ?`, scopeID); err != nil {
		return dbErr("clear history", err)
	}
	return nil
}

func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) trim(turns []Turn) []Turn {
	// 保留最近 maxTurns*2 条（每轮 = 1 user + 1 model）
	max := s.maxTurns * 2
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	return turns
}
