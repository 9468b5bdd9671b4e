package query

import (
	"fmt"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
	"github.com/tsfans/sql2mongo/parser"
)

var (
	_ converter.Query    = (*SelectQuery)(nil)
	_ converter.Query    = (*UpdateQuery)(nil)
	_ converter.Query    = (*DeleteQuery)(nil)
	_ converter.Subquery = (*SelectQuery)(nil)
)

// 各类语句共享的解析上下文
type baseQuery struct {
	conn      *client.Connection
	db        client.Database
	params    []any
	alias     *parser.TokenAlias
	leftTable string
	nested    []*converter.NestedInQuery
	extra     []*parser.Func
}

func newBaseQuery(conn *client.Connection, params []any) baseQuery {
	return baseQuery{
		conn:   conn,
		db:     conn.Database(),
		params: params,
		alias:  parser.NewTokenAlias(),
	}
}

func (q *baseQuery) LeftTable() string {
	return q.leftTable
}

func (q *baseQuery) SetLeftTable(table string) {
	q.leftTable = table
}

func (q *baseQuery) Alias() *parser.TokenAlias {
	return q.alias
}

func (q *baseQuery) Params() []any {
	return q.params
}

func (q *baseQuery) SelectedColumns() []parser.SQLToken {
	return nil
}

// 子查询与外层共用参数列表，占位符下标是全局的
func (q *baseQuery) NewSubquery(s *parser.Statement) (sub converter.Subquery, err error) {
	child, err := newSelectQuery(q.conn, s, q.params)
	if err != nil {
		return
	}
	sub = child
	return
}

func (q *baseQuery) AddNested(nested *converter.NestedInQuery) string {
	q.nested = append(q.nested, nested)
	return fmt.Sprintf("_nested_in_%d", len(q.nested)-1)
}

func (q *baseQuery) AddAggregate(f *parser.Func) {
	q.extra = append(q.extra, f)
}

func (q *baseQuery) ExtraAggregates() []*parser.Func {
	return q.extra
}

func (q *baseQuery) properties() *client.Properties {
	return q.conn.Properties()
}

// 读取语句开头的固定关键字序列
func expectKeywords(s *parser.Statement, keywords ...string) error {
	for _, keyword := range keywords {
		if tok := s.Next(); !tok.IsWord(keyword) {
			return fmt.Errorf("expected [%v], got [%v]", keyword, tok.String())
		}
	}
	return nil
}

// 读取单个表名或索引名
func readName(s *parser.Statement) (name string, err error) {
	tok := s.Next()
	if !tok.IsName() {
		err = fmt.Errorf("expected name, got [%v]", tok.String())
		return
	}
	name = tok.Value
	// schema.table 只取表名
	if s.Peek().IsPunct(".") && s.PeekAt(1).IsName() {
		s.Skip(1)
		name = s.Next().Value
	}
	return
}
