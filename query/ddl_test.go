package query

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
	"github.com/tsfans/sql2mongo/sqlerr"
)

var (
	CREATE_UNIQUE = `CREATE TABLE "u" ("id" int AUTOINCREMENT PRIMARY KEY, "email" varchar(20) UNIQUE, "code" int, CONSTRAINT "uniq_code" UNIQUE ("code"))`
	INSERT_UNIQUE = `INSERT INTO "u" ("id", "email", "code") VALUES (DEFAULT, %s, %s)`
)

func schemaDoc(t *testing.T, conn *client.Connection, table string) bson.M {
	t.Helper()
	ctx := context.Background()
	cur, err := conn.Database().Collection(Schema_Collection).Find(ctx, bson.M{schema_Name: table}, client.FindOptions{})
	if err != nil {
		t.Fatalf("find schema failed,err=%v", err)
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		return nil
	}
	var doc bson.M
	if err = cur.Decode(&doc); err != nil {
		t.Fatalf("decode schema failed,err=%v", err)
	}
	return doc
}

func schemaFields(doc bson.M) bson.M {
	fields, _ := doc[schema_Fields].(bson.M)
	return fields
}

func TestCreateTableSchema(t *testing.T) {
	conn := newTestConn(t, false)
	execute(t, conn, CREATE_T)
	doc := schemaDoc(t, conn, "t")
	if doc == nil {
		t.Fatalf("schema of [t] not found")
	}
	expected := bson.M{
		"id":   bson.M{schema_Type_Code: "int"},
		"name": bson.M{schema_Type_Code: "string"},
	}
	if fields := schemaFields(doc); !reflect.DeepEqual(fields, expected) {
		t.Errorf("fields=%v, expected=%v", fields, expected)
	}
	auto, _ := doc[schema_Auto].(bson.M)
	if names := auto["field_names"]; !reflect.DeepEqual(names, bson.A{"id"}) {
		t.Errorf("auto fields=%v, expected=[id]", names)
	}

	execute(t, conn, INSERT_T)
	auto, _ = schemaDoc(t, conn, "t")[schema_Auto].(bson.M)
	if seq, err := converter.ToInt64(auto["seq"]); err != nil || seq != 2 {
		t.Errorf("auto seq=%v, expected=2", auto["seq"])
	}
	if !conn.Properties().IsCached("t") || !conn.Properties().IsCached(Schema_Collection) {
		t.Errorf("collections not cached: %v", conn.Properties().Collections())
	}

	// 重复建表在非enforce模式下忽略
	execute(t, conn, CREATE_T)
	if rows := fetchRows(t, conn, `SELECT COUNT(*) FROM t`); rows[0][0] != int32(2) {
		t.Errorf("rows=%v, expected count 2", rows)
	}
}

func TestUniqueConstraint(t *testing.T) {
	conn := newTestConn(t, false)
	ctx := context.Background()
	execute(t, conn, CREATE_UNIQUE)
	execute(t, conn, INSERT_UNIQUE, "a@x", 1)

	if _, err := New(ctx, conn, INSERT_UNIQUE, []any{"a@x", 2}); err == nil {
		t.Errorf("duplicated unique column should fail")
	}
	if _, err := New(ctx, conn, INSERT_UNIQUE, []any{"b@x", 1}); err == nil {
		t.Errorf("duplicated table constraint should fail")
	}

	execute(t, conn, `ALTER TABLE "u" DROP CONSTRAINT "uniq_code"`)
	execute(t, conn, INSERT_UNIQUE, "c@x", 1)
	// 没有对应索引的约束直接忽略
	execute(t, conn, `ALTER TABLE "u" DROP CONSTRAINT "fk_missing"`)

	_, err := New(ctx, conn, `ALTER TABLE "u" ADD CONSTRAINT "uniq_code" UNIQUE ("code")`, nil)
	var decodeErr *sqlerr.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("unique constraint on duplicated values,err=%v, expected DecodeError", err)
	}
	execute(t, conn, `ALTER TABLE "u" ADD CONSTRAINT "idx_code" INDEX ("code")`)
	execute(t, conn, `ALTER TABLE "u" DROP INDEX "idx_code"`)
	if _, err = New(ctx, conn, `ALTER TABLE "u" DROP INDEX "idx_code"`, nil); !errors.Is(err, client.ErrIndexNotFound) {
		t.Errorf("drop missing index,err=%v, expected ErrIndexNotFound", err)
	}
}

func TestAlterColumn(t *testing.T) {
	conn := newTestConn(t, false)
	execute(t, conn, CREATE_T)
	execute(t, conn, INSERT_T)

	execute(t, conn, `ALTER TABLE t ADD COLUMN "age" int DEFAULT 18`)
	rows := fetchRows(t, conn, `SELECT "name", "age" FROM t ORDER BY "id"`)
	if expected := [][]any{{"a", int64(18)}, {"b", int64(18)}}; !reflect.DeepEqual(rows, expected) {
		t.Errorf("rows=%v, expected=%v", rows, expected)
	}
	if _, ok := schemaFields(schemaDoc(t, conn, "t"))["age"]; !ok {
		t.Errorf("added column missing in schema")
	}

	execute(t, conn, `ALTER TABLE t RENAME COLUMN "age" TO "years"`)
	rows = fetchRows(t, conn, `SELECT "years" FROM t WHERE "years" = 18`)
	if len(rows) != 2 {
		t.Errorf("rows=%v, expected 2 rows", rows)
	}
	fields := schemaFields(schemaDoc(t, conn, "t"))
	if _, ok := fields["age"]; ok {
		t.Errorf("renamed column still in schema: %v", fields)
	}
	if _, ok := fields["years"]; !ok {
		t.Errorf("renamed column missing in schema: %v", fields)
	}

	execute(t, conn, `ALTER TABLE t DROP COLUMN "years" CASCADE`)
	rows = fetchRows(t, conn, `SELECT "years" FROM t`)
	if expected := [][]any{{nil}, {nil}}; !reflect.DeepEqual(rows, expected) {
		t.Errorf("rows=%v, expected=%v", rows, expected)
	}
	if _, ok := schemaFields(schemaDoc(t, conn, "t"))["years"]; ok {
		t.Errorf("dropped column still in schema")
	}

	// 不支持的列修改只告警
	execute(t, conn, `ALTER TABLE t ALTER COLUMN "name" DROP DEFAULT`)
}

func TestAlterTable(t *testing.T) {
	conn := newTestConn(t, false)
	ctx := context.Background()
	execute(t, conn, CREATE_T)
	execute(t, conn, INSERT_T)

	execute(t, conn, `ALTER TABLE t RENAME TO "t2"`)
	props := conn.Properties()
	if props.IsCached("t") || !props.IsCached("t2") {
		t.Errorf("collections=%v, expected t renamed to t2", props.Collections())
	}
	if doc := schemaDoc(t, conn, "t2"); doc == nil {
		t.Errorf("schema of [t2] not found")
	}
	// 自增序列随表名迁移
	q := execute(t, conn, `INSERT INTO "t2" ("id", "name") VALUES (DEFAULT, 'c')`)
	if id := q.LastRowID(); id != int64(3) {
		t.Errorf("last row id=%v, expected=3", id)
	}

	flush := execute(t, conn, `ALTER TABLE "t2" FLUSH`)
	if n, _ := flush.Count(ctx); n != 0 {
		t.Errorf("flush count=%v, expected=0", n)
	}
	if rows := fetchRows(t, conn, `SELECT COUNT(*) FROM "t2"`); rows[0][0] != int32(0) {
		t.Errorf("rows=%v, expected empty table", rows)
	}
}

func TestDropTable(t *testing.T) {
	conn := newTestConn(t, true)
	ctx := context.Background()
	execute(t, conn, CREATE_T)
	execute(t, conn, INSERT_T)

	execute(t, conn, `DROP TABLE IF EXISTS t CASCADE`)
	names, err := conn.Database().ListCollectionNames(ctx)
	if err != nil {
		t.Fatalf("list collections failed,err=%v", err)
	}
	if !reflect.DeepEqual(names, []string{Schema_Collection}) {
		t.Errorf("collections=%v, expected only schema", names)
	}
	if conn.Properties().IsCached("t") {
		t.Errorf("dropped table still cached")
	}
	if doc := schemaDoc(t, conn, "t"); doc != nil {
		t.Errorf("schema of dropped table=%v, expected removed", doc)
	}
	var migrationErr *sqlerr.MigrationError
	if _, err = New(ctx, conn, INSERT_T, nil); !errors.As(err, &migrationErr) {
		t.Errorf("insert into dropped table,err=%v, expected MigrationError", err)
	}
}

func TestIndex(t *testing.T) {
	conn := newTestConn(t, false)
	ctx := context.Background()
	execute(t, conn, CREATE_T)
	execute(t, conn, INSERT_T)

	execute(t, conn, `CREATE UNIQUE INDEX "idx_name" ON t ("name" DESC)`)
	if _, err := New(ctx, conn, `INSERT INTO t ("id", "name") VALUES (DEFAULT, 'a')`, nil); err == nil {
		t.Errorf("duplicated unique index should fail")
	}
	execute(t, conn, `DROP INDEX "idx_name" ON t`)
	execute(t, conn, `INSERT INTO t ("id", "name") VALUES (DEFAULT, 'a')`)

	execute(t, conn, `CREATE INDEX IF NOT EXISTS "idx_name" ON t ("name", "id")`)
	if rows := fetchRows(t, conn, `SELECT "id" FROM t WHERE "name" = 'a'`); len(rows) != 2 {
		t.Errorf("rows=%v, expected 2 rows", rows)
	}
}

func TestDatabase(t *testing.T) {
	conn := newTestConn(t, false)
	ctx := context.Background()
	execute(t, conn, `CREATE DATABASE "test"`)
	execute(t, conn, CREATE_T)
	execute(t, conn, INSERT_T)

	if _, err := New(ctx, conn, `DROP DATABASE "other"`, nil); err == nil {
		t.Errorf("drop another database should fail")
	}
	execute(t, conn, `DROP DATABASE "test"`)
	names, _ := conn.Database().ListCollectionNames(ctx)
	if len(names) != 0 || len(conn.Properties().Collections()) != 0 {
		t.Errorf("collections=%v, expected empty database", names)
	}
}
