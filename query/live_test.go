package query

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/tsfans/sql2mongo/client"
)

// 设置SQL2MONGO_TEST_URI时连接真实mongodb执行
func TestLiveMongo(t *testing.T) {
	uri := os.Getenv("SQL2MONGO_TEST_URI")
	if uri == "" {
		t.Skip("SQL2MONGO_TEST_URI not set")
	}
	cfg := client.DefaultConfig()
	cfg.URI = uri
	cfg.Database = fmt.Sprintf("sql2mongo_test_%d", time.Now().UnixNano())
	ctx := context.Background()
	registry := client.NewRegistry(nil)
	defer registry.CloseAll(ctx)
	conn, err := registry.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open failed,err=%v", err)
	}
	defer execute(t, conn, fmt.Sprintf(`DROP DATABASE "%v"`, cfg.Database))

	for i, sql := range CREATE_LIBRARY {
		execute(t, conn, sql, CREATE_LIBRARY_PARAMS[i]...)
	}
	for _, c := range SELECT_CASES {
		rows := fetchRows(t, conn, c.sql, c.params...)
		if !reflect.DeepEqual(rows, c.expected) {
			t.Errorf("sql=%v, rows=%v, expected=%v", c.sql, rows, c.expected)
		}
	}
}
