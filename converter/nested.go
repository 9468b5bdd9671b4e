package converter

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
)

const nestedLookupVar = "lookup_result"

// IN (SELECT ...)：子查询管道经$lookup关联，结果映射为第一列的值数组
type NestedInQuery struct {
	sub Subquery
	// $lookup结果字段
	As string
}

func NewNestedInQuery(q Query, paren *parser.Token) (nested *NestedInQuery, err error) {
	sub, err := q.NewSubquery(parser.NewStatement(paren.Children))
	if err != nil {
		return
	}
	nested = &NestedInQuery{sub: sub}
	nested.As = q.AddNested(nested)
	return
}

func (n *NestedInQuery) ToStages() (stages bson.A, err error) {
	pipeline, err := n.sub.Pipeline()
	if err != nil {
		return
	}
	column, err := n.sub.FirstColumn()
	if err != nil {
		return
	}
	stages = bson.A{
		bson.M{Mongo_Stage_Lookup: bson.M{
			"from":             n.sub.LeftTable(),
			Mongo_Arg_Pipeline: pipeline,
			"as":               n.As,
		}},
		bson.M{Mongo_Stage_AddFields: bson.M{
			n.As: bson.M{Mongo_Operator_Map: bson.M{
				"input": "$" + n.As,
				"as":    nestedLookupVar,
				"in":    "$$" + nestedLookupVar + "." + column,
			}},
		}},
	}
	return
}
