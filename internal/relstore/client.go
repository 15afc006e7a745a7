// Package relstore is the node's authoritative relational store: Postgres
// tables for transactions, mempool entries, the tx index, blocks,
// balances, equivocation evidence, the validator registry, rewards
// history, node metrics snapshots and anchors.
package relstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a *sql.DB with connection pool tuning and migration support.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger overrides the client's logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient opens a Postgres connection pool at databaseURL sized to
// maxConns and verifies it with a ping.
func NewClient(ctx context.Context, databaseURL string, maxConns int, opts ...ClientOption) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("relstore: database URL cannot be empty")
	}

	c := &Client{logger: log.New(log.Writer(), "[relstore] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("relstore: open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("relstore: ping: %w", err)
	}

	c.db = db
	c.logger.Printf("connected (max_conns=%d)", maxConns)
	return c, nil
}

// DB returns the underlying *sql.DB for repositories to use directly.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// migration is one embedded migration file.
type migration struct {
	Version  string
	Filename string
	SQL      string
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in lexicographic filename order. Each migration file
// is split into individual statements (respecting string literals, line
// and block comments, and dollar-quoted bodies) and executed one at a
// time inside a single transaction; a statement failing with
// "already exists" is tolerated rather than aborting the migration, since
// a prior partially-applied run may have left some objects in place.
func (c *Client) MigrateUp(ctx context.Context) error {
	c.logger.Println("running migrations...")

	migrations, err := c.loadMigrations()
	if err != nil {
		return fmt.Errorf("relstore: load migrations: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("relstore: applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			c.logger.Printf("  skipping %s (already applied)", m.Version)
			continue
		}
		c.logger.Printf("  applying %s...", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("relstore: apply %s: %w", m.Version, err)
		}
		c.logger.Printf("  applied %s", m.Version)
	}

	c.logger.Println("migrations complete")
	return nil
}

func (c *Client) loadMigrations() ([]migration, error) {
	var migrations []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		migrations = append(migrations, migration{
			Version:  strings.TrimSuffix(d.Name(), ".sql"),
			Filename: d.Name(),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *Client) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyMigration(ctx context.Context, m migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	statements := splitStatements(m.SQL)
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("exec statement: %w", err)
		}
	}
	return tx.Commit()
}

// splitStatements splits a SQL script on top-level semicolons, tracking
// single-quoted strings, double-quoted identifiers, line comments (--),
// block comments (/* */) and dollar-quoted bodies ($tag$...$tag$) so that
// semicolons inside any of those are not treated as statement boundaries.
func splitStatements(script string) []string {
	var statements []string
	var cur strings.Builder

	runes := []rune(script)
	n := len(runes)
	i := 0
	for i < n {
		r := runes[i]

		switch {
		case r == '-' && i+1 < n && runes[i+1] == '-':
			end := i
			for end < n && runes[end] != '\n' {
				end++
			}
			cur.WriteString(string(runes[i:end]))
			i = end
			continue

		case r == '/' && i+1 < n && runes[i+1] == '*':
			end := i + 2
			for end+1 < n && !(runes[end] == '*' && runes[end+1] == '/') {
				end++
			}
			end = min(end+2, n)
			cur.WriteString(string(runes[i:end]))
			i = end
			continue

		case r == '\'':
			end := i + 1
			for end < n {
				if runes[end] == '\'' {
					if end+1 < n && runes[end+1] == '\'' {
						end += 2
						continue
					}
					end++
					break
				}
				end++
			}
			cur.WriteString(string(runes[i:end]))
			i = end
			continue

		case r == '"':
			end := i + 1
			for end < n && runes[end] != '"' {
				end++
			}
			end = min(end+1, n)
			cur.WriteString(string(runes[i:end]))
			i = end
			continue

		case r == '$':
			if tag, tagEnd, ok := matchDollarTag(runes, i); ok {
				closing := tag
				end := strings.Index(string(runes[tagEnd:]), closing)
				if end == -1 {
					cur.WriteString(string(runes[i:]))
					i = n
					continue
				}
				absEnd := tagEnd + end + len(closing)
				cur.WriteString(string(runes[i:absEnd]))
				i = absEnd
				continue
			}
			cur.WriteRune(r)
			i++
			continue

		case r == ';':
			statements = append(statements, cur.String())
			cur.Reset()
			i++
			continue

		default:
			cur.WriteRune(r)
			i++
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		statements = append(statements, cur.String())
	}
	return statements
}

// matchDollarTag recognizes a dollar-quote opening tag ($$ or $tag$)
// starting at position i, returning the tag text and the index right
// after it.
func matchDollarTag(runes []rune, i int) (tag string, end int, ok bool) {
	j := i + 1
	for j < len(runes) && (isAlnum(runes[j]) || runes[j] == '_') {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return "", 0, false
	}
	return string(runes[i : j+1]), j + 1, true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
