package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supergidii/Loans/config"
)

// Connect opens the configured database with pooling and retry.
func Connect(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.DB.Driver) {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DB.SQLitePath))
		log.Info("database driver sqlite", zap.String("path", cfg.DB.SQLitePath))
	default:
		dsn, err := mysqlDSN(cfg.DB)
		if err != nil {
			return nil, err
		}
		// Never log the password.
		safeDSN := dsn
		if cfg.DB.Pass != "" {
			safeDSN = strings.Replace(safeDSN, cfg.DB.Pass, "******", 1)
		}
		log.Info("database driver mysql", zap.String("dsn", safeDSN))
		dialector = gormmysql.Open(dsn)
	}

	gormCfg := &gorm.Config{Logger: gormLogger(cfg.IsDevelopment())}

	// Retry connection with exponential backoff
	retries := cfg.DB.ConnectRetries
	if retries <= 0 {
		retries = 1
	}
	var db *gorm.DB
	var err error
	backoff := time.Second
	for attempt := 0; attempt < retries; attempt++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			break
		}
		log.Warn("database connect failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < retries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.DB.Driver, "sqlite") {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}

	if err := pingWithTimeout(sqlDB, 5*time.Second); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a SQLite database at path (":memory:" style DSNs are
// accepted as-is) with a single connection.
func OpenSQLite(dsn string, devLogging bool) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger(devLogging)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func mysqlDSN(c config.Database) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	params := c.Params
	if !strings.Contains(params, "tls=") {
		switch strings.ToLower(c.TLS) {
		case "true", "skip-verify", "preferred":
			params += "&tls=" + strings.ToLower(c.TLS)
		}
	}
	// connection timeouts
	if !strings.Contains(params, "timeout=") {
		params += "&timeout=10s"
	}
	if !strings.Contains(params, "readTimeout=") {
		params += "&readTimeout=10s"
	}
	if !strings.Contains(params, "writeTimeout=") {
		params += "&writeTimeout=10s"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", c.User, c.Pass, c.Host, c.Port, c.Name, strings.TrimPrefix(params, "&"))
	if _, err := mysqldriver.ParseDSN(dsn); err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	return dsn, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func gormLogger(dev bool) logger.Interface {
	if dev {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Silent)
}

func pingWithTimeout(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ping timeout after %s", timeout)
		}
		return err
	}
	return nil
}
