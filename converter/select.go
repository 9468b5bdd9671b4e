package converter

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

// SELECT [DISTINCT] 列表
type ColumnSelect struct {
	query    Query
	Tokens   []parser.SQLToken
	Distinct bool
}

func NewColumnSelect(q Query, s *parser.Statement) (sel *ColumnSelect, err error) {
	sel = &ColumnSelect{query: q}
	if s.Peek().IsKeyword("DISTINCT") {
		s.Next()
		sel.Distinct = true
	}
	sel.Tokens, err = parser.ReadTokenList(q, s, true)
	if err != nil {
		return nil, err
	}
	for _, tok := range sel.Tokens {
		if alias := explicitAlias(tok); alias != "" {
			if err = q.Alias().Register(alias, tok); err != nil {
				return nil, err
			}
		}
	}
	q.Alias().Seal()
	return
}

func explicitAlias(tok parser.SQLToken) string {
	switch t := tok.(type) {
	case *parser.Identifier:
		return t.AsName
	case *parser.Func:
		return t.AsName
	case *parser.ConstIdentifier:
		return t.AsName
	}
	return ""
}

// 含聚合函数或常量列时只能走聚合管道
func (c *ColumnSelect) NeedsAggregation() bool {
	for _, tok := range c.Tokens {
		switch tok.(type) {
		case *parser.Func, *parser.ConstIdentifier:
			return true
		}
	}
	return false
}

func (c *ColumnSelect) Funcs() (funcs []*parser.Func) {
	for _, tok := range c.Tokens {
		if f, ok := tok.(*parser.Func); ok {
			funcs = append(funcs, f)
		}
	}
	return
}

// 不带GROUP BY的聚合查询，结果只有一行
func (c *ColumnSelect) IsImplicitGroup() bool {
	return len(c.Funcs()) > 0
}

func (c *ColumnSelect) ToFind(args *FindArgs) error {
	args.Projection = bson.M{}
	for _, tok := range c.Tokens {
		id, ok := tok.(*parser.Identifier)
		if !ok {
			return fmt.Errorf("column [%v] can not be selected by find", tok.String())
		}
		args.Projection[id.Field()] = 1
	}
	return nil
}

func (c *ColumnSelect) ToStages() (stages bson.A, err error) {
	if c.IsImplicitGroup() {
		return c.implicitGroup()
	}
	project := bson.M{}
	for _, tok := range c.Tokens {
		switch t := tok.(type) {
		case *parser.Identifier:
			project[t.Field()] = true
		case *parser.ConstIdentifier:
			project[t.Alias()] = bson.M{Mongo_Operator_Literal: t.Value}
		}
	}
	stages = bson.A{bson.M{Mongo_Stage_Project: project}}
	return
}

func (c *ColumnSelect) implicitGroup() (stages bson.A, err error) {
	group := bson.M{"_id": nil}
	project := bson.M{"_id": false}
	for _, tok := range c.Tokens {
		switch t := tok.(type) {
		case *parser.Func:
			var acc bson.M
			acc, err = FuncToGroup(t)
			if err != nil {
				return
			}
			group[t.Alias()] = acc
			project[t.Alias()] = FuncToProject(t)
		case *parser.ConstIdentifier:
			project[t.Alias()] = bson.M{Mongo_Operator_Literal: t.Value}
		default:
			err = sqlerr.NotSupported("column [%v] mixed with aggregate functions without GROUP BY", tok.String())
			return
		}
	}
	stages = bson.A{
		bson.M{Mongo_Stage_Group: group},
		bson.M{Mongo_Stage_Project: project},
	}
	return
}

// SELECT DISTINCT，按所选列分组后还原为文档
type Distinct struct {
	query Query
	// 已有GROUP BY时聚合函数结果是普通字段
	grouped bool
}

func NewDistinct(q Query, grouped bool) *Distinct {
	return &Distinct{query: q, grouped: grouped}
}

func (d *Distinct) ToStages() (stages bson.A, err error) {
	id := bson.M{}
	for _, tok := range d.query.SelectedColumns() {
		switch t := tok.(type) {
		case *parser.Identifier:
			if table := t.Table(); table != d.query.LeftTable() {
				setNested(id, table, t.Column(), "$"+t.Field())
			} else {
				id[t.Column()] = "$" + t.Column()
			}
		case *parser.ConstIdentifier:
			id[t.Alias()] = bson.M{Mongo_Operator_Literal: t.Value}
		case *parser.Func:
			if !d.grouped {
				err = sqlerr.NotSupported("DISTINCT with aggregate function [%v]", t.String())
				return
			}
			id[t.Alias()] = "$" + t.Alias()
		}
	}
	stages = bson.A{
		bson.M{Mongo_Stage_Group: bson.M{"_id": id}},
		bson.M{Mongo_Stage_Replace_Root: bson.M{"newRoot": "$_id"}},
	}
	return
}
