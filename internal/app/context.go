// Package app wires a workspace into a ready engine: config, logging,
// database, content storage and metrics.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/engine"
	"dossierline/internal/metrics"
	"dossierline/internal/migrate"
	"dossierline/internal/storage"
)

// EnvFile is the per-workspace dotenv file holding secrets.
const EnvFile = ".env"

// Context is an opened workspace.
type Context struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Disk      *storage.Disk
	Engine    engine.Engine
	Log       *logrus.Logger
	Metrics   *metrics.Metrics
}

// Open loads the workspace config, migrates the database and builds the
// engine. Callers must Close the result.
func Open(ctx context.Context, workspace string, logOut io.Writer) (*Context, error) {
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	log, err := NewLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.WithField("migrations", applied).Debug("database migrated")
	}
	disk, err := storage.NewDisk(cfg.StorageRoot(workspace), cfg.Storage.MaxUploadBytes)
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := metrics.New()
	e := engine.New(conn, cfg, disk.Tokenizer(), disk)
	e.Log = log
	e.Metrics = m
	return &Context{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Disk:      disk,
		Engine:    e,
		Log:       log,
		Metrics:   m,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// NewLogger builds a logrus logger from the log section of the config.
func NewLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	if out != nil {
		log.SetOutput(out)
	}
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// LoadEnv exports the workspace dotenv file without overriding variables
// already set. A missing file is not an error.
func LoadEnv(workspace string) error {
	err := godotenv.Load(filepath.Join(workspace, EnvFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SetEnvValue sets key in a dotenv file, keeping the other entries.
func SetEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	if err := godotenv.Write(values, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
