package converter

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const (
	JoinKind_Inner      = "INNER JOIN"
	JoinKind_Left_Outer = "LEFT OUTER JOIN"
)

// [INNER|LEFT [OUTER]] JOIN "t2" ON ("t1"."a" = "t2"."b")
type Join struct {
	query       Query
	Kind        string
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
}

func IsJoinKeyword(tok *parser.Token) bool {
	return tok.IsKeyword("JOIN", "INNER JOIN", "LEFT JOIN", "LEFT OUTER JOIN", "RIGHT JOIN", "RIGHT OUTER JOIN", "CROSS JOIN")
}

func NewJoin(q Query, keyword *parser.Token, s *parser.Statement) (join *Join, err error) {
	join = &Join{query: q}
	switch {
	case keyword.IsKeyword("JOIN", "INNER JOIN"):
		join.Kind = JoinKind_Inner
	case keyword.IsKeyword("LEFT JOIN", "LEFT OUTER JOIN"):
		join.Kind = JoinKind_Left_Outer
	default:
		return nil, sqlerr.NotSupported("[%v]", keyword.Value)
	}
	table, err := parser.ReadTable(q, s)
	if err != nil {
		return nil, err
	}
	join.RightTable = table.Name
	if tok := s.Next(); !tok.IsKeyword("ON") {
		return nil, fmt.Errorf("expected [ON] after [%v %v], got [%v]", keyword.Value, table.String(), tok.String())
	}
	cond := s.ReadUntil(parser.IsClauseKeyword)
	if toks := cond.Tokens(); len(toks) == 1 && toks[0].IsParenthesis() {
		cond = parser.NewStatement(toks[0].Children)
	}
	cmp, err := parser.ReadComparison(q, cond)
	if err != nil {
		return nil, err
	}
	if !cond.Done() || cmp.Operator != "=" {
		return nil, sqlerr.NotSupported("join condition [%v]", cond.String())
	}
	left, lok := cmp.Left.(*parser.Identifier)
	right, rok := cmp.Right.(*parser.Identifier)
	if !lok || !rok {
		return nil, sqlerr.NotSupported("join condition [%v]", cmp.String())
	}
	if left.Table() == join.RightTable {
		left, right = right, left
	}
	join.LeftTable, join.LeftColumn = left.Table(), left.Column()
	join.RightColumn = right.Column()
	return
}

// 左表是主表时直接用列名，否则是之前关联进来的表的嵌套字段
func (j *Join) localField() string {
	if j.LeftTable == j.query.LeftTable() {
		return j.LeftColumn
	}
	return j.LeftTable + "." + j.LeftColumn
}

func (j *Join) lookup() bson.M {
	return bson.M{Mongo_Stage_Lookup: bson.M{
		"from":         j.RightTable,
		"localField":   j.localField(),
		"foreignField": j.RightColumn,
		"as":           j.RightTable,
	}}
}

func (j *Join) ToStages() (stages bson.A, err error) {
	if j.Kind == JoinKind_Inner {
		stages = bson.A{
			bson.M{Mongo_Stage_Match: bson.M{j.localField(): bson.M{
				Mongo_Operator_Ne:     nil,
				Mongo_Operator_Exists: true,
			}}},
			j.lookup(),
			bson.M{Mongo_Stage_Unwind: "$" + j.RightTable},
		}
		return
	}
	// 未关联到的行补齐右表所选列为null
	nulls := bson.M{}
	for _, tok := range j.query.SelectedColumns() {
		if id, ok := tok.(*parser.Identifier); ok && id.Table() == j.RightTable {
			nulls[id.Column()] = nil
		}
	}
	stages = bson.A{
		j.lookup(),
		bson.M{Mongo_Stage_Unwind: bson.M{
			"path":                       "$" + j.RightTable,
			"preserveNullAndEmptyArrays": true,
		}},
		bson.M{Mongo_Stage_AddFields: bson.M{
			j.RightTable: bson.M{Mongo_Operator_IfNull: bson.A{"$" + j.RightTable, nulls}},
		}},
	}
	return
}
