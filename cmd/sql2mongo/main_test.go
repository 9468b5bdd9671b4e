package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/internal/memdb"
)

var (
	CREATE_T = `CREATE TABLE t ("id" int AUTOINCREMENT, "name" string NOT NULL);`
	INSERT_T = `INSERT INTO t ("id", "name") VALUES (DEFAULT, 'a'), (DEFAULT, 'b');`
	COUNT_T  = `SELECT COUNT(*) AS "n" FROM t;`
)

func newTestConn(t *testing.T) *client.Connection {
	t.Helper()
	conn, err := client.NewConnection(memdb.New("test"), client.NewProperties(false), 16, nil)
	if err != nil {
		t.Fatalf("new connection failed,err=%v", err)
	}
	return conn
}

func mustRun(t *testing.T, conn *client.Connection, sql string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := run(context.Background(), conn, &buf, sql); err != nil {
		t.Fatalf("run failed,sql=%v,err=%v", sql, err)
	}
	return buf.String()
}

func TestExplainDoesNotExecute(t *testing.T) {
	conn := newTestConn(t)
	mustRun(t, conn, CREATE_T)
	mustRun(t, conn, INSERT_T)

	for _, sql := range []string{`\explain DELETE FROM t;`, `\explain UPDATE t SET "name" = 'x'`, `\explain DROP TABLE t`} {
		var buf bytes.Buffer
		if err := run(context.Background(), conn, &buf, sql); err == nil {
			t.Errorf("sql=%v, expected error", sql)
		}
	}
	if out := mustRun(t, conn, COUNT_T); !strings.Contains(out, `{"n":2}`) {
		t.Errorf("output=%v, expected 2 rows kept", out)
	}

	out := mustRun(t, conn, `\explain SELECT "name" FROM t WHERE "id" = 1;`)
	if !strings.Contains(out, `"collection": "t"`) || !strings.Contains(out, `"find"`) {
		t.Errorf("output=%v, expected find plan on t", out)
	}
}

func TestRun(t *testing.T) {
	conn := newTestConn(t)
	if out := mustRun(t, conn, CREATE_T); !strings.HasPrefix(out, "CREATE OK") {
		t.Errorf("output=%v, expected CREATE OK", out)
	}
	if out := mustRun(t, conn, INSERT_T); !strings.Contains(out, "2 rows affected") {
		t.Errorf("output=%v, expected 2 rows affected", out)
	}
	if out := mustRun(t, conn, `SELECT "name" FROM t ORDER BY "id"`); out != "{\"name\":\"a\"}\n{\"name\":\"b\"}\n(2 rows)\n" {
		t.Errorf("output=%q", out)
	}
	var buf bytes.Buffer
	if err := run(context.Background(), conn, &buf, `\unknown`); err == nil {
		t.Errorf("unknown command should fail")
	}
}

var ACCEPT_CASES = []struct {
	lines    []string
	sql      string
	complete bool
}{
	{lines: []string{`SELECT "a"`, `FROM t;`}, sql: "SELECT \"a\"\nFROM t;", complete: true},
	{lines: []string{`SELECT "a"`}, complete: false},
}

func TestAccept(t *testing.T) {
	for _, c := range ACCEPT_CASES {
		var buf strings.Builder
		var sql string
		var complete bool
		for _, line := range c.lines {
			sql, complete, _ = accept(&buf, line)
		}
		if complete != c.complete || (complete && sql != c.sql) {
			t.Errorf("lines=%v, sql=%q complete=%v, expected sql=%q complete=%v", c.lines, sql, complete, c.sql, c.complete)
		}
	}
}
