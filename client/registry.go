package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 建立到数据库的连接，返回数据库和关闭函数
type Dialer func(ctx context.Context, cfg *Config) (Database, func(ctx context.Context) error, error)

func DialMongo(ctx context.Context, cfg *Config) (db Database, closer func(ctx context.Context) error, err error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeoutSeconds > 0 {
		opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutSeconds) * time.Second)
	}
	rc, err := cfg.readConcern()
	if err != nil {
		return
	}
	if rc != nil {
		opts.SetReadConcern(rc)
	}
	wc, err := cfg.writeConcern()
	if err != nil {
		return
	}
	if wc != nil {
		opts.SetWriteConcern(wc)
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		err = errors.Wrapf(err, "connect [%v]", cfg.URI)
		return
	}
	if err = cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		err = errors.Wrapf(err, "ping [%v]", cfg.URI)
		return
	}
	db = NewMongoDatabase(cli.Database(cfg.Database))
	closer = cli.Disconnect
	return
}

// 按数据库名共享连接，锁只保护注册表本身
type Registry struct {
	dial  Dialer
	mu    sync.Mutex
	conns map[string]*Connection
}

func NewRegistry(dial Dialer) *Registry {
	if dial == nil {
		dial = DialMongo
	}
	return &Registry{dial: dial, conns: map[string]*Connection{}}
}

func (r *Registry) Get(name string) (conn *Connection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok = r.conns[name]
	return
}

// 建立新连接并加载已有集合，不加入注册表
func (r *Registry) Open(ctx context.Context, cfg *Config) (conn *Connection, err error) {
	db, closer, err := r.dial(ctx, cfg)
	if err != nil {
		return
	}
	conn, err = NewConnection(db, NewProperties(cfg.EnforceSchema), cfg.StatementCacheSize, closer)
	if err == nil {
		err = conn.Refresh(ctx)
	}
	if err != nil {
		if closer != nil {
			_ = closer(ctx)
		}
		return nil, err
	}
	return
}

func (r *Registry) GetOrCreate(ctx context.Context, cfg *Config) (conn *Connection, err error) {
	if conn, ok := r.Get(cfg.Database); ok {
		return conn, nil
	}
	conn, err = r.Open(ctx, cfg)
	if err != nil {
		return
	}
	r.mu.Lock()
	existing, ok := r.conns[cfg.Database]
	if !ok {
		r.conns[cfg.Database] = conn
	}
	r.mu.Unlock()
	if ok {
		// 并发创建时保留先注册的连接
		if err := conn.Close(ctx); err != nil {
			log.Warnf("close duplicated connection to [%v] failed, err=%v", cfg.Database, err)
		}
		return existing, nil
	}
	log.Infof("connected to database [%v]", cfg.Database)
	return
}

func (r *Registry) Close(ctx context.Context, name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	delete(r.conns, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close(ctx)
}

func (r *Registry) CloseAll(ctx context.Context) (err error) {
	r.mu.Lock()
	conns := r.conns
	r.conns = map[string]*Connection{}
	r.mu.Unlock()
	for name, conn := range conns {
		if e := conn.Close(ctx); e != nil {
			log.Warnf("close connection to [%v] failed, err=%v", name, e)
			if err == nil {
				err = e
			}
		}
	}
	return
}
