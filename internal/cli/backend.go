package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Alp4ka/deeppager"
	"github.com/Alp4ka/deeppager/connstring"
	"github.com/Alp4ka/deeppager/esbackend"
	"github.com/Alp4ka/deeppager/gormbackend"
	"github.com/Alp4ka/deeppager/internal/config"
	"github.com/Alp4ka/deeppager/osbackend"
)

// loader is implemented by the backends that accept bulk writes.
type loader interface {
	BulkIndex(ctx context.Context, index string, docs []deeppager.Hit) error
}

// openBackend connects to the configured engine. The returned func releases
// the connection.
func openBackend(cfg *config.Config, logger logrus.FieldLogger) (deeppager.SearchBackend, func(), error) {
	if cfg.Engine.IsSQL() {
		return openSQL(cfg, logger)
	}

	cs, err := connstring.Parse(cfg.Search.URL)
	if err != nil {
		return nil, nil, err
	}

	scheme := "http"
	var transport http.RoundTripper
	if cfg.Search.TLS {
		scheme = "https"
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Search.Insecure}, //nolint:gosec // opt-in
		}
	}

	logger = logger.WithField("hosts", cs.Hosts)

	switch cfg.Engine {
	case config.EngineOpenSearch:
		client, err := osbackend.NewClient(osbackend.Config{
			Addresses:    cs.Addresses(scheme),
			Username:     cs.Username,
			Password:     cs.Password,
			Transport:    transport,
			DisableRetry: cfg.Search.DisableRetry,
		})
		if err != nil {
			return nil, nil, err
		}
		return osbackend.New(client,
			osbackend.WithLogger(logger),
			osbackend.WithRefresh(cfg.Search.Refresh),
			osbackend.WithMaxPageSize(cfg.Search.MaxPageSize),
		), func() {}, nil
	default:
		es, err := esbackend.NewClient(esbackend.Config{
			Addresses:    cs.Addresses(scheme),
			Username:     cs.Username,
			Password:     cs.Password,
			Transport:    transport,
			DisableRetry: cfg.Search.DisableRetry,
		})
		if err != nil {
			return nil, nil, err
		}
		return esbackend.New(es,
			esbackend.WithLogger(logger),
			esbackend.WithRefresh(cfg.Search.Refresh),
			esbackend.WithMaxPageSize(cfg.Search.MaxPageSize),
		), func() {}, nil
	}
}

func openSQL(cfg *config.Config, logger logrus.FieldLogger) (deeppager.SearchBackend, func(), error) {
	dialector := mysql.Open(cfg.SQL.DSN)
	if cfg.Engine == config.EnginePostgres {
		dialector = postgres.Open(cfg.SQL.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to %s: %w", cfg.Engine, err)
	}

	opts := []gormbackend.Option{
		gormbackend.WithLogger(logger.WithField("engine", cfg.Engine)),
		gormbackend.WithIDColumn(cfg.SQL.IDColumn),
	}
	if cfg.SQL.OffsetScroll {
		opts = append(opts, gormbackend.WithOffsetScroll())
	}

	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	return gormbackend.New(db, opts...), closeDB, nil
}
