package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aiwuxian/recall-knowledge/internal/models"
	_ "modernc.org/sqlite"
)

// Storage SQLite存储：行动者、用户、队伍成员以及按用户划分的标记
type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	// 确保目录存在
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 单连接，避免 :memory: 下每个连接各有一份数据库
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT,
		level INTEGER DEFAULT 0,
		data TEXT NOT NULL, -- JSON object
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_gm INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS party_members (
		actor_id TEXT PRIMARY KEY,
		position INTEGER DEFAULT 0,
		FOREIGN KEY (actor_id) REFERENCES actors(id)
	);

	CREATE TABLE IF NOT EXISTS user_flags (
		user_id TEXT NOT NULL,
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL, -- JSON
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, namespace, key)
	);

	CREATE INDEX IF NOT EXISTS idx_flags_namespace ON user_flags(user_id, namespace);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Flag operations

// GetFlag 读取标记到 out，不存在时返回 false
func (s *Storage) GetFlag(ctx context.Context, userID, namespace, key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_flags WHERE user_id = ? AND namespace = ? AND key = ?
	`, userID, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取标记失败: %w", err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("解析标记失败: %w", err)
	}
	return true, nil
}

func (s *Storage) SetFlag(ctx context.Context, userID, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化标记失败: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_flags (user_id, namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, namespace, key, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("保存标记失败: %w", err)
	}
	return nil
}

func (s *Storage) FlagKeys(ctx context.Context, userID, namespace string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT key FROM user_flags WHERE user_id = ? AND namespace = ? ORDER BY key
	`, userID, namespace)
}

func (s *Storage) FlagUsers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT user_id FROM user_flags ORDER BY user_id`)
}

func (s *Storage) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询失败: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("读取结果失败: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Actor operations

// SaveActor 新建或覆盖行动者
func (s *Storage) SaveActor(ctx context.Context, actor *models.Actor) error {
	actor.UpdatedAt = time.Now()
	data, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("序列化行动者失败: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO actors (id, name, type, level, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, actor.ID, actor.Name, actor.Type, actor.Level, string(data), actor.UpdatedAt)
	if err != nil {
		return fmt.Errorf("保存行动者失败: %w", err)
	}
	return nil
}

// Actor 不存在时返回 nil, nil
func (s *Storage) Actor(ctx context.Context, id string) (*models.Actor, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM actors WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取行动者失败: %w", err)
	}

	var actor models.Actor
	if err := json.Unmarshal([]byte(data), &actor); err != nil {
		return nil, fmt.Errorf("解析行动者失败: %w", err)
	}
	return &actor, nil
}

// Actors 获取所有行动者列表
func (s *Storage) Actors(ctx context.Context) ([]models.Actor, error) {
	return s.queryActors(ctx, `SELECT data FROM actors ORDER BY name`)
}

// PartyMembers 队伍成员，按加入顺序
func (s *Storage) PartyMembers(ctx context.Context) ([]models.Actor, error) {
	return s.queryActors(ctx, `
		SELECT a.data FROM party_members p
		JOIN actors a ON a.id = p.actor_id
		ORDER BY p.position, a.name
	`)
}

// SetParty 整体替换队伍
func (s *Storage) SetParty(ctx context.Context, actorIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM party_members`); err != nil {
		return fmt.Errorf("清空队伍失败: %w", err)
	}
	for i, id := range actorIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO party_members (actor_id, position) VALUES (?, ?)
		`, id, i); err != nil {
			return fmt.Errorf("保存队伍成员失败: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Storage) queryActors(ctx context.Context, query string, args ...any) ([]models.Actor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询行动者失败: %w", err)
	}
	defer rows.Close()

	var actors []models.Actor
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var actor models.Actor
		if err := json.Unmarshal([]byte(data), &actor); err != nil {
			continue
		}
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

// User operations

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (id, name, is_gm) VALUES (?, ?, ?)
	`, user.ID, user.Name, user.IsGM)
	if err != nil {
		return fmt.Errorf("保存用户失败: %w", err)
	}
	return nil
}

// User 不存在时返回 nil, nil
func (s *Storage) User(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_gm FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Name, &user.IsGM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取用户失败: %w", err)
	}
	return &user, nil
}

// GMs 所有GM用户
func (s *Storage) GMs(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, is_gm FROM users WHERE is_gm = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询GM失败: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.IsGM); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
