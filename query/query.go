package query

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const Version = "0.1.0"

const (
	StatementKind_Select = "SELECT"
	StatementKind_Insert = "INSERT"
	StatementKind_Update = "UPDATE"
	StatementKind_Delete = "DELETE"
	StatementKind_Create = "CREATE"
	StatementKind_Alter  = "ALTER"
	StatementKind_Drop   = "DROP"
)

// 立即执行的语句
type command interface {
	Execute(ctx context.Context) error
	Count() int64
}

type commandBuilder func(conn *client.Connection, tokens []*parser.Token, params []any) (command, error)

func build[T command](newFunc func(*client.Connection, []*parser.Token, []any) (T, error)) commandBuilder {
	return func(conn *client.Connection, tokens []*parser.Token, params []any) (cmd command, err error) {
		c, err := newFunc(conn, tokens, params)
		if err != nil {
			return
		}
		cmd = c
		return
	}
}

var commandBuilders = map[string]commandBuilder{
	StatementKind_Insert: build(NewInsertQuery),
	StatementKind_Update: build(NewUpdateQuery),
	StatementKind_Delete: build(NewDeleteQuery),
	StatementKind_Create: build(NewCreateQuery),
	StatementKind_Alter:  build(NewAlterQuery),
	StatementKind_Drop:   build(NewDropQuery),
}

// 一条SQL语句，SELECT惰性查询，其余语句在New中执行
// 不可并发使用
type Query struct {
	Kind string

	sql       string
	params    []any
	sel       *SelectQuery
	cmd       command
	lastRowID any
}

// 解析并执行一条SQL，%s为位置参数
// 除MigrationError外的错误统一为*sqlerr.DecodeError
func New(ctx context.Context, conn *client.Connection, sql string, params []any) (q *Query, err error) {
	q = &Query{sql: sql, params: params}
	log.Debugf("sql: %v, params: %v", sql, params)
	if err = q.parse(ctx, conn); err != nil {
		return nil, q.wrap(err)
	}
	return
}

// 改写并分词，只允许一条语句
func (q *Query) statement(conn *client.Connection) (tokens []*parser.Token, err error) {
	rewritten, _ := parser.Rewrite(q.sql)
	if tokens, err = conn.Cache().Tokenize(rewritten); err != nil {
		return
	}
	statements := parser.SplitStatements(tokens)
	switch {
	case len(statements) == 0:
		return nil, sqlerr.NewDecodeError("empty statement")
	case len(statements) > 1:
		return nil, sqlerr.NewDecodeError("%v statements found, only one is allowed", len(statements))
	}
	tokens = statements[0]
	first := tokens[0]
	if !first.IsKeyword() {
		return nil, sqlerr.NewDecodeError("unknown statement [%v]", first.String())
	}
	q.Kind = first.Value
	return
}

func (q *Query) parse(ctx context.Context, conn *client.Connection) (err error) {
	tokens, err := q.statement(conn)
	if err != nil {
		return
	}
	if q.Kind == StatementKind_Select {
		q.sel, err = NewSelectQuery(conn, tokens, q.params)
		return
	}
	builder, ok := commandBuilders[q.Kind]
	if !ok {
		log.Debugf("not implemented %v: %v", q.Kind, q.sql)
		return sqlerr.NotSupported("%v command", q.Kind)
	}
	if q.cmd, err = builder(conn, tokens, q.params); err != nil {
		return
	}
	if err = q.cmd.Execute(ctx); err != nil {
		return
	}
	if insert, ok := q.cmd.(*InsertQuery); ok {
		q.lastRowID = insert.LastRowID()
	}
	return
}

// 只解析SELECT并生成查询计划，任何语句都不会被执行
func Explain(conn *client.Connection, sql string, params []any) (plan *Plan, err error) {
	q := &Query{sql: sql, params: params}
	if err = q.explain(conn); err != nil {
		return nil, q.wrap(err)
	}
	plan, err = q.sel.Plan()
	err = q.wrap(err)
	return
}

func (q *Query) explain(conn *client.Connection) (err error) {
	tokens, err := q.statement(conn)
	if err != nil {
		return
	}
	if q.Kind != StatementKind_Select {
		return sqlerr.NotSupported("explain %v", q.Kind)
	}
	q.sel, err = NewSelectQuery(conn, tokens, q.params)
	return
}

// MigrationError原样返回，其余错误补充SQL、参数和版本
func (q *Query) wrap(err error) error {
	if err == nil {
		return nil
	}
	var migrationErr *sqlerr.MigrationError
	if errors.As(err, &migrationErr) {
		return err
	}
	// 只复用最外层的DecodeError，内层的保留在cause中
	decodeErr, ok := err.(*sqlerr.DecodeError)
	if !ok {
		decodeErr = sqlerr.WrapDecodeError(err)
		var inner *sqlerr.DecodeError
		if errors.As(err, &inner) {
			decodeErr.ErrKey, decodeErr.ErrSubSQL = inner.ErrKey, inner.ErrSubSQL
		}
	}
	decodeErr.ErrSQL = q.sql
	decodeErr.Params = q.params
	decodeErr.Version = Version
	return decodeErr
}

func (q *Query) Next(ctx context.Context) bool {
	if q.sel == nil {
		return false
	}
	return q.sel.Next(ctx)
}

func (q *Query) Row() []any {
	if q.sel == nil {
		return nil
	}
	return q.sel.Row()
}

func (q *Query) Err() error {
	if q.sel == nil {
		return nil
	}
	return q.wrap(q.sel.Err())
}

// SELECT结果的列名，有别名时用别名
func (q *Query) Columns() (columns []string) {
	if q.sel == nil {
		return
	}
	for _, tok := range q.sel.SelectedColumns() {
		name := tok.Alias()
		if id, ok := tok.(*parser.Identifier); ok && name == "" {
			name = id.Column()
		}
		columns = append(columns, name)
	}
	return
}

// 读取全部结果
func (q *Query) FetchAll(ctx context.Context) (rows [][]any, err error) {
	for q.Next(ctx) {
		rows = append(rows, q.Row())
	}
	err = q.Err()
	return
}

// SELECT返回结果行数，其余语句返回影响的行数
func (q *Query) Count(ctx context.Context) (n int64, err error) {
	if q.sel != nil {
		n, err = q.sel.Count(ctx)
		err = q.wrap(err)
		return
	}
	if q.cmd != nil {
		n = q.cmd.Count()
	}
	return
}

// INSERT最后分配的自增值或文档_id
func (q *Query) LastRowID() any {
	return q.lastRowID
}

// SELECT的查询计划
func (q *Query) Plan() (plan *Plan, err error) {
	if q.sel == nil {
		err = q.wrap(sqlerr.NotSupported("explain %v", q.Kind))
		return
	}
	plan, err = q.sel.Plan()
	err = q.wrap(err)
	return
}

func (q *Query) Close(ctx context.Context) error {
	if q.sel == nil {
		return nil
	}
	return q.wrap(q.sel.Close(ctx))
}
