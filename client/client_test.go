package client_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/internal/memdb"
)

var CONFIG_TOML = `
uri = "mongodb://db.example:27017"
database = "shop"
enforce_schema = true
read_concern = "majority"
write_concern = "2"
statement_cache_size = 16
log_level = "debug"
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sql2mongo.toml")
	if err := os.WriteFile(path, []byte(CONFIG_TOML), 0o600); err != nil {
		t.Fatalf("write config failed,err=%v", err)
	}
	t.Setenv(client.Env_Database, "shop_test")
	cfg, err := client.LoadConfig(path)
	if err != nil {
		t.Fatalf("load config failed,err=%v", err)
	}
	expected := &client.Config{
		URI:                   "mongodb://db.example:27017",
		Database:              "shop_test",
		EnforceSchema:         true,
		ReadConcern:           "majority",
		WriteConcern:          "2",
		ConnectTimeoutSeconds: client.Default_Connect_Timeout,
		StatementCacheSize:    16,
		LogLevel:              "debug",
	}
	if !reflect.DeepEqual(cfg, expected) {
		t.Errorf("cfg=%+v\nexpected=%+v", cfg, expected)
	}
	if _, err = client.LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("missing config file should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		client.Env_URI:            "mongodb://other",
		client.Env_Enforce_Schema: "true",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg := client.DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env failed,err=%v", err)
	}
	if cfg.URI != "mongodb://other" || !cfg.EnforceSchema || cfg.Database != client.Default_Database {
		t.Errorf("cfg=%+v", cfg)
	}
	env[client.Env_Enforce_Schema] = "sometimes"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Errorf("invalid bool should fail")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []func(cfg *client.Config){
		func(cfg *client.Config) { cfg.URI = "" },
		func(cfg *client.Config) { cfg.Database = "" },
		func(cfg *client.Config) { cfg.ReadConcern = "eventual" },
		func(cfg *client.Config) { cfg.WriteConcern = "-1" },
		func(cfg *client.Config) { cfg.LogLevel = "loud" },
	}
	for i, mutate := range cases {
		cfg := client.DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %v should fail validation, cfg=%+v", i, cfg)
		}
	}
	if err := client.DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid,err=%v", err)
	}
}

type fakeDialer struct {
	dials  int32
	closes int32
	dbs    sync.Map
	err    error
}

func (f *fakeDialer) dial(ctx context.Context, cfg *client.Config) (client.Database, func(ctx context.Context) error, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	atomic.AddInt32(&f.dials, 1)
	db, _ := f.dbs.LoadOrStore(cfg.Database, memdb.New(cfg.Database))
	return db.(*memdb.DB), func(ctx context.Context) error {
		atomic.AddInt32(&f.closes, 1)
		return nil
	}, nil
}

func TestRegistry(t *testing.T) {
	fake := &fakeDialer{}
	registry := client.NewRegistry(fake.dial)
	ctx := context.Background()
	cfg := client.DefaultConfig()
	cfg.Database = "app"

	db, _, _ := fake.dial(ctx, cfg)
	_ = db.CreateCollection(ctx, "users")
	atomic.StoreInt32(&fake.dials, 0)
	atomic.StoreInt32(&fake.closes, 0)

	var (
		wg    sync.WaitGroup
		conns = make([]*client.Connection, 8)
		errs  = make([]error, 8)
	)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = registry.GetOrCreate(ctx, cfg)
		}(i)
	}
	wg.Wait()
	for i, conn := range conns {
		if errs[i] != nil {
			t.Fatalf("get or create failed,err=%v", errs[i])
		}
		if conn != conns[0] {
			t.Errorf("connection %v is not shared", i)
		}
	}
	dials, closes := atomic.LoadInt32(&fake.dials), atomic.LoadInt32(&fake.closes)
	if dials-closes != 1 {
		t.Errorf("dials=%v, closes=%v, expected exactly one live connection", dials, closes)
	}
	conn := conns[0]
	if conn.Name() != "app" || !conn.Properties().IsCached("users") || conn.Cache() == nil {
		t.Errorf("connection not initialised, name=%v, collections=%v", conn.Name(), conn.Properties().Collections())
	}
	if got, ok := registry.Get("app"); !ok || got != conn {
		t.Errorf("registry get mismatch")
	}
	if err := registry.Close(ctx, "app"); err != nil {
		t.Errorf("close failed,err=%v", err)
	}
	if _, ok := registry.Get("app"); ok {
		t.Errorf("closed connection still registered")
	}
	if err := registry.Close(ctx, "app"); err != nil {
		t.Errorf("closing unknown connection should be a no-op,err=%v", err)
	}
	other := *cfg
	other.Database = "other"
	if _, err := registry.GetOrCreate(ctx, &other); err != nil {
		t.Fatalf("get or create failed,err=%v", err)
	}
	before := atomic.LoadInt32(&fake.closes)
	if err := registry.CloseAll(ctx); err != nil {
		t.Errorf("close all failed,err=%v", err)
	}
	if atomic.LoadInt32(&fake.closes) != before+1 {
		t.Errorf("close all did not close the connection")
	}
}

func TestRegistryDialError(t *testing.T) {
	dialErr := errors.New("connection refused")
	registry := client.NewRegistry((&fakeDialer{err: dialErr}).dial)
	if _, err := registry.GetOrCreate(context.Background(), client.DefaultConfig()); !errors.Is(err, dialErr) {
		t.Errorf("err=%v", err)
	}
	if _, ok := registry.Get(client.Default_Database); ok {
		t.Errorf("failed connection should not be registered")
	}
}

func TestProperties(t *testing.T) {
	props := client.NewProperties(false)
	props.LoadCollections([]string{"b", "a"})
	props.AddCollection("c")
	props.RenameCollection("a", "d")
	props.RemoveCollection("b")
	if names := props.Collections(); !reflect.DeepEqual(names, []string{"c", "d"}) {
		t.Errorf("collections=%v", names)
	}
	if props.IsCached("a") || !props.IsCached("d") {
		t.Errorf("rename not applied")
	}
	props.ClearCollections()
	if len(props.Collections()) != 0 {
		t.Errorf("collections not cleared")
	}
}
