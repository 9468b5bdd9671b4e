package converter

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
)

// 查询上下文，由query包中的SELECT/UPDATE/DELETE实现
type Query interface {
	parser.Context
	SetLeftTable(table string)
	// SELECT列表，OUTER JOIN补空字段和GROUP BY聚合时使用
	SelectedColumns() []parser.SQLToken
	// 解析 IN (SELECT ...) 子查询
	NewSubquery(s *parser.Statement) (Subquery, error)
	// 登记子查询，返回$lookup结果字段名
	AddNested(nested *NestedInQuery) string
	// 登记HAVING中出现、SELECT列表中没有的聚合函数
	AddAggregate(f *parser.Func)
	ExtraAggregates() []*parser.Func
}

// 可作为$lookup子管道的查询
type Subquery interface {
	LeftTable() string
	Pipeline() (bson.A, error)
	// 子查询第一个输出列的字段名
	FirstColumn() (string, error)
}

// find()参数
type FindArgs struct {
	Filter     bson.M
	Projection bson.M
	Sort       bson.D
	Skip       int64
	Limit      int64
}

// 可直接转化为find()参数的子句
type SimpleFindClause interface {
	ToFind(args *FindArgs) error
}

// 转化为聚合管道stage的子句
type AggregationStageClause interface {
	ToStages() (bson.A, error)
}
