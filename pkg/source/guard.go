// Package source provides guarded, read-only access to the operational
// database and the watermark-driven row extractor built on top of it.
package source

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/schema"
)

// privilegedAccounts are account names the guard refuses outright.
// The sync engine must only ever run as a dedicated read-only user.
var privilegedAccounts = []string{
	"root",
	"admin",
	"administrator",
	"superuser",
	"sa",
}

// writeProbe is a statement that must FAIL against a correctly
// provisioned source account. It touches no real data even if it runs.
const writeProbe = "CREATE TEMPORARY TABLE _etl_readonly_probe (id INT)"

// Guard wraps the source connection and enforces read-only semantics.
// Account and write-capability checks run once at Open, not per query;
// the statement filter on Query runs always as defense in depth
// independent of the database's own grants.
type Guard struct {
	cfg    *config.EngineConfig
	logger *zap.Logger

	mu       sync.RWMutex
	db       *sql.DB
	user     string
	verified bool

	// open is swappable so tests can hand the guard a mocked handle
	open func(driverName, dsn string) (*sql.DB, error)
}

// NewGuard creates a guard for the configured source. Open must be
// called before any query.
func NewGuard(cfg *config.EngineConfig, logger *zap.Logger) *Guard {
	return &Guard{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "source_guard")),
		open:   sql.Open,
	}
}

// Open establishes the guarded connection. It fails with an access error
// when the DSN names a privileged account or when the live write probe
// unexpectedly succeeds, meaning the source is not actually protected.
func (g *Guard) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.verified {
		return nil
	}

	dsnCfg, err := mysql.ParseDSN(g.cfg.Source.DSN)
	if err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid source DSN")
	}
	g.user = dsnCfg.User

	if err := checkAccountName(dsnCfg.User); err != nil {
		return err
	}

	db, err := g.open("mysql", g.cfg.Source.DSN)
	if err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeConnection, "failed to open source connection")
	}

	db.SetMaxOpenConns(g.cfg.Source.MaxConnections)
	db.SetMaxIdleConns(g.cfg.Source.MaxConnections)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Connection)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return etlerrors.Wrap(err, etlerrors.ErrorTypeConnection, "source ping failed")
	}

	if err := g.probeWriteProtection(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	g.db = db
	g.verified = true

	g.logger.Info("source guard opened",
		zap.String("user", dsnCfg.User),
		zap.String("database", dsnCfg.DBName),
		zap.Int("max_connections", g.cfg.Source.MaxConnections))

	return nil
}

// checkAccountName rejects administrative accounts by name pattern
func checkAccountName(user string) error {
	lower := strings.ToLower(strings.TrimSpace(user))
	if lower == "" {
		return etlerrors.New(etlerrors.ErrorTypeConfig, "source DSN has no user")
	}
	for _, name := range privilegedAccounts {
		if lower == name {
			return etlerrors.Newf(etlerrors.ErrorTypeAccess,
				"refusing to sync as privileged account %q", user)
		}
	}
	if strings.HasPrefix(lower, "mysql.") {
		return etlerrors.Newf(etlerrors.ErrorTypeAccess,
			"refusing to sync as reserved system account %q", user)
	}
	return nil
}

// probeWriteProtection verifies the account genuinely lacks write
// capability. A probe that succeeds is a fatal configuration error, not
// something to warn about and continue.
func (g *Guard) probeWriteProtection(ctx context.Context, db *sql.DB) error {
	probeCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Connection)
	defer cancel()

	if _, err := db.ExecContext(probeCtx, writeProbe); err == nil {
		// Clean up the temp table the probe just created.
		_, _ = db.ExecContext(probeCtx, "DROP TEMPORARY TABLE IF EXISTS _etl_readonly_probe")
		return etlerrors.New(etlerrors.ErrorTypeAccess,
			"write probe succeeded: source account is not read-only")
	}

	g.logger.Debug("write probe rejected by source, read-only confirmed",
		zap.String("user", g.user))
	return nil
}

// allowedStatement reports whether a statement is in the SELECT class
func allowedStatement(query string) bool {
	trimmed := strings.TrimSpace(query)
	for strings.HasPrefix(trimmed, "--") {
		if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
			trimmed = strings.TrimSpace(trimmed[idx+1:])
		} else {
			return false
		}
	}
	first := strings.ToUpper(firstWord(trimmed))
	switch first {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN":
		return true
	default:
		return false
	}
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '(' {
			return s[:i]
		}
	}
	return s
}

// Query executes a read statement through the guard. Statements outside
// the SELECT class are rejected before reaching the source.
func (g *Guard) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	g.mu.RLock()
	db, verified := g.db, g.verified
	g.mu.RUnlock()

	if !verified {
		return nil, etlerrors.New(etlerrors.ErrorTypeValidation, "source guard not opened")
	}
	if !allowedStatement(query) {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeAccess,
			"statement rejected by read-only guard: %s", firstWord(strings.TrimSpace(query)))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeQuery, "source query failed")
	}
	return rows, nil
}

// Columns returns the column catalog for a table in the connected
// database, ordered by ordinal position.
func (g *Guard) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	const catalogQuery = `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := g.Query(ctx, catalogQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close() // Ignore close error

	var columns []schema.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeData, "failed to scan catalog row")
		}
		columns = append(columns, schema.Column{
			Name:     name,
			DataType: dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeData, "error iterating catalog rows")
	}
	if len(columns) == 0 {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeData, "table %q not found or has no columns", table)
	}

	return columns, nil
}

// User returns the account name the guard connected as
func (g *Guard) User() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// Close releases the underlying connection pool
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.verified = false
	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		return err
	}
	return nil
}
