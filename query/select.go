package query

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

// 查询计划，Aggregate为false时使用find()
type Plan struct {
	Collection string
	Aggregate  bool
	Find       *converter.FindArgs
	Pipeline   bson.A
	// LIMIT 0，不访问数据库
	Empty bool
}

// SELECT，结果在第一次Next时才查询
type SelectQuery struct {
	baseQuery
	selected *converter.ColumnSelect
	where    *converter.Where
	joins    []*converter.Join
	groupBy  *converter.GroupBy
	having   *converter.Having
	distinct *converter.Distinct
	order    *converter.Order
	limit    *converter.Limit
	offset   *converter.Offset

	// 测试时强制走聚合管道
	forceAggregate bool

	cursor  client.Cursor
	opened  bool
	fetched int
	// Count之后结果全部缓存在buffer中
	buffered     [][]any
	materialized bool
	row          []any
	done         bool
	err          error
}

func NewSelectQuery(conn *client.Connection, tokens []*parser.Token, params []any) (*SelectQuery, error) {
	return newSelectQuery(conn, parser.NewStatement(tokens), params)
}

func newSelectQuery(conn *client.Connection, s *parser.Statement, params []any) (q *SelectQuery, err error) {
	q = &SelectQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(s); err != nil {
		return nil, err
	}
	return
}

// 按子句顺序单遍解析，不认识的关键字直接报错
func (q *SelectQuery) parse(s *parser.Statement) (err error) {
	for !s.Done() {
		tok := s.Next()
		switch {
		case tok.IsKeyword("SELECT"):
			q.selected, err = converter.NewColumnSelect(q, s)
		case tok.IsKeyword("FROM"):
			_, err = converter.NewFrom(q, s)
		case tok.IsKeyword("WHERE"):
			q.where, err = converter.NewWhere(q, s)
		case converter.IsJoinKeyword(tok):
			var join *converter.Join
			join, err = converter.NewJoin(q, tok, s)
			q.joins = append(q.joins, join)
		case tok.IsKeyword("GROUP BY"):
			q.groupBy, err = converter.NewGroupBy(q, s)
		case tok.IsKeyword("HAVING"):
			q.having, err = converter.NewHaving(q, s)
		case tok.IsKeyword("ORDER BY"):
			q.order, err = converter.NewOrder(q, s)
		case tok.IsKeyword("LIMIT"):
			q.limit, err = converter.NewLimit(q, s)
			if err == nil && q.limit.Offset != nil && q.offset == nil {
				q.offset = q.limit.Offset
			}
		case tok.IsKeyword("OFFSET"):
			q.offset, err = converter.NewOffset(q, s)
		default:
			decodeErr := sqlerr.NewDecodeError("unknown keyword [%v]", tok.String())
			decodeErr.ErrKey = tok.String()
			decodeErr.ErrSubSQL = s.String()
			return decodeErr
		}
		if err != nil {
			return
		}
	}
	if q.selected == nil {
		return sqlerr.NewDecodeError("missing column list in [%v]", s.String())
	}
	if q.leftTable == "" {
		return sqlerr.NotSupported("SELECT without FROM")
	}
	if q.having != nil && q.groupBy == nil {
		return sqlerr.NotSupported("HAVING without GROUP BY")
	}
	if q.selected.Distinct {
		q.distinct = converter.NewDistinct(q, q.groupBy != nil)
	}
	return
}

func (q *SelectQuery) SelectedColumns() []parser.SQLToken {
	if q.selected == nil {
		return nil
	}
	return q.selected.Tokens
}

func (q *SelectQuery) needsAggregation() bool {
	return q.forceAggregate ||
		len(q.nested) > 0 ||
		len(q.joins) > 0 ||
		q.distinct != nil ||
		q.groupBy != nil ||
		q.selected.NeedsAggregation()
}

// 没有GROUP BY的聚合函数查询，结果固定一行
func (q *SelectQuery) implicitGroup() bool {
	return q.groupBy == nil && q.selected.IsImplicitGroup()
}

func (q *SelectQuery) offsetSkips() bool {
	return q.offset != nil && q.offset.Count > 0
}

func (q *SelectQuery) limitZero() bool {
	return q.limit != nil && q.limit.Count == 0
}

// 管道阶段顺序固定，与子句在SQL中的位置无关
func (q *SelectQuery) Pipeline() (pipeline bson.A, err error) {
	var clauses []converter.AggregationStageClause
	for _, join := range q.joins {
		clauses = append(clauses, join)
	}
	for _, nested := range q.nested {
		clauses = append(clauses, nested)
	}
	if q.where != nil {
		clauses = append(clauses, q.where)
	}
	switch {
	case q.groupBy != nil:
		clauses = append(clauses, q.groupBy)
	case q.implicitGroup():
		clauses = append(clauses, q.selected)
	}
	if q.having != nil {
		clauses = append(clauses, q.having)
	}
	if q.distinct != nil {
		clauses = append(clauses, q.distinct)
	}
	if q.order != nil {
		clauses = append(clauses, q.order)
	}
	if q.offset != nil {
		clauses = append(clauses, q.offset)
	}
	if q.limit != nil && !q.limitZero() {
		clauses = append(clauses, q.limit)
	}
	if q.distinct == nil && q.groupBy == nil && !q.implicitGroup() {
		clauses = append(clauses, q.selected)
	}
	for _, clause := range clauses {
		var stages bson.A
		stages, err = clause.ToStages()
		if err != nil {
			return
		}
		pipeline = append(pipeline, stages...)
	}
	if q.limitZero() {
		// $limit不接受0，作为子查询时用恒假条件
		pipeline = append(pipeline, bson.M{converter.Mongo_Stage_Match: bson.M{converter.Mongo_Operator_Expr: false}})
	}
	return
}

// 子查询输出的第一列
func (q *SelectQuery) FirstColumn() (column string, err error) {
	tokens := q.SelectedColumns()
	if len(tokens) == 0 {
		err = sqlerr.NewDecodeError("subquery without columns")
		return
	}
	if id, ok := tokens[0].(*parser.Identifier); ok {
		column = id.Field()
		return
	}
	column = tokens[0].Alias()
	return
}

func (q *SelectQuery) findArgs() (args *converter.FindArgs, err error) {
	args = &converter.FindArgs{Filter: bson.M{}}
	clauses := []converter.SimpleFindClause{q.selected}
	if q.where != nil {
		clauses = append(clauses, q.where)
	}
	if q.order != nil {
		clauses = append(clauses, q.order)
	}
	if q.offset != nil {
		clauses = append(clauses, q.offset)
	}
	if q.limit != nil {
		clauses = append(clauses, q.limit)
	}
	for _, clause := range clauses {
		if err = clause.ToFind(args); err != nil {
			return nil, err
		}
	}
	return
}

// 生成查询计划，不执行
func (q *SelectQuery) Plan() (plan *Plan, err error) {
	plan = &Plan{Collection: q.leftTable, Empty: q.limitZero()}
	if q.needsAggregation() {
		plan.Aggregate = true
		plan.Pipeline, err = q.Pipeline()
	} else {
		plan.Find, err = q.findArgs()
	}
	if err != nil {
		return nil, err
	}
	return
}

func (q *SelectQuery) open(ctx context.Context) (err error) {
	q.opened = true
	plan, err := q.Plan()
	if err != nil || plan.Empty {
		return
	}
	coll := q.db.Collection(plan.Collection)
	if plan.Aggregate {
		log.Debugf("aggregate [%v], pipeline: %v", plan.Collection, plan.Pipeline)
		q.cursor, err = coll.Aggregate(ctx, plan.Pipeline)
		return
	}
	args := plan.Find
	log.Debugf("find [%v], filter: %v, projection: %v, sort: %v, skip: %v, limit: %v",
		plan.Collection, args.Filter, args.Projection, args.Sort, args.Skip, args.Limit)
	q.cursor, err = coll.Find(ctx, args.Filter, client.FindOptions{
		Projection: args.Projection,
		Sort:       args.Sort,
		Skip:       args.Skip,
		Limit:      args.Limit,
	})
	return
}

// 读取下一行，ok为false表示结果已读完
func (q *SelectQuery) fetch(ctx context.Context) (row []any, ok bool, err error) {
	if !q.opened {
		if err = q.open(ctx); err != nil {
			return
		}
	}
	if q.cursor != nil && q.cursor.Next(ctx) {
		var doc bson.M
		if err = q.cursor.Decode(&doc); err != nil {
			return
		}
		row, err = q.alignResults(doc)
		if err != nil {
			return
		}
		q.fetched++
		ok = true
		return
	}
	if q.cursor != nil {
		if err = q.cursor.Err(); err != nil {
			return
		}
		err = q.cursor.Close(ctx)
		q.cursor = nil
		if err != nil {
			return
		}
	}
	// 聚合函数在空结果集上仍返回一行，OFFSET跳过该行时不返回
	if q.fetched == 0 && q.implicitGroup() && !q.limitZero() && !q.offsetSkips() {
		q.fetched++
		row, ok = q.emptyGroupRow(), true
	}
	return
}

func (q *SelectQuery) emptyGroupRow() (row []any) {
	for _, tok := range q.selected.Tokens {
		switch t := tok.(type) {
		case *parser.Func:
			row = append(row, converter.FuncEmptyValue(t))
		case *parser.ConstIdentifier:
			row = append(row, t.Value)
		default:
			row = append(row, nil)
		}
	}
	return
}

// 按SELECT列表顺序取出文档字段
func (q *SelectQuery) alignResults(doc bson.M) (row []any, err error) {
	row = make([]any, 0, len(q.selected.Tokens))
	for _, tok := range q.selected.Tokens {
		id, ok := tok.(*parser.Identifier)
		if !ok {
			row = append(row, doc[tok.Alias()])
			continue
		}
		var (
			val   any
			found bool
		)
		if table := id.Table(); table == q.leftTable {
			val, found = doc[id.Column()]
		} else {
			val, found = nestedField(doc[table], id.Column())
		}
		if !found && q.properties().EnforceSchema {
			return nil, sqlerr.NewMigrationError("column [%v] is missing in table [%v]", id.Column(), id.Table())
		}
		row = append(row, val)
	}
	return
}

func (q *SelectQuery) Next(ctx context.Context) bool {
	if q.done || q.err != nil {
		return false
	}
	if q.materialized {
		if len(q.buffered) == 0 {
			q.done = true
			return false
		}
		q.row, q.buffered = q.buffered[0], q.buffered[1:]
		return true
	}
	row, ok, err := q.fetch(ctx)
	if err != nil {
		q.err = err
		return false
	}
	if !ok {
		q.done = true
		return false
	}
	q.row = row
	return true
}

// 当前行，列顺序与SELECT列表一致
func (q *SelectQuery) Row() []any {
	return q.row
}

func (q *SelectQuery) Err() error {
	return q.err
}

// 读取剩余全部结果计数，结果保留供后续Next读取
func (q *SelectQuery) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	if !q.materialized && !q.done {
		for {
			row, ok, err := q.fetch(ctx)
			if err != nil {
				q.err = err
				return 0, err
			}
			if !ok {
				break
			}
			q.buffered = append(q.buffered, row)
		}
		q.materialized = true
	}
	return int64(len(q.buffered)), nil
}

func (q *SelectQuery) Close(ctx context.Context) (err error) {
	q.done = true
	if q.cursor != nil {
		err = q.cursor.Close(ctx)
		q.cursor = nil
	}
	return
}

// 关联表的字段嵌套在表名下
func nestedField(v any, column string) (val any, found bool) {
	switch doc := v.(type) {
	case bson.M:
		val, found = doc[column]
	case bson.D:
		for _, e := range doc {
			if e.Key == column {
				return e.Value, true
			}
		}
	}
	return
}
