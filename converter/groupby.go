package converter

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

// GROUP BY，分组键放入_id，之后$project展开为普通字段
type GroupBy struct {
	query   Query
	Columns []*parser.Identifier
}

func NewGroupBy(q Query, s *parser.Statement) (groupBy *GroupBy, err error) {
	tokens, err := parser.ReadTokenList(q, s, false)
	if err != nil {
		return
	}
	groupBy = &GroupBy{query: q}
	for _, tok := range tokens {
		id, ok := tok.(*parser.Identifier)
		if !ok {
			return nil, sqlerr.NotSupported("GROUP BY [%v]", tok.String())
		}
		groupBy.Columns = append(groupBy.Columns, id)
	}
	return
}

func (g *GroupBy) ToStages() (stages bson.A, err error) {
	id := bson.M{}
	project := bson.M{"_id": false}
	for _, col := range g.Columns {
		table, column := col.Table(), col.Column()
		if table == g.query.LeftTable() {
			id[column] = "$" + column
			project[column] = "$_id." + column
			continue
		}
		setNested(id, table, column, "$"+table+"."+column)
		setNested(project, table, column, "$_id."+table+"."+column)
	}
	group := bson.M{"_id": id}
	addFunc := func(f *parser.Func) error {
		alias := f.Alias()
		if _, ok := group[alias]; ok {
			return nil
		}
		acc, err := FuncToGroup(f)
		if err != nil {
			return err
		}
		group[alias] = acc
		project[alias] = FuncToProject(f)
		return nil
	}
	for _, tok := range g.query.SelectedColumns() {
		switch t := tok.(type) {
		case *parser.Func:
			if err = addFunc(t); err != nil {
				return
			}
		case *parser.ConstIdentifier:
			project[t.Alias()] = bson.M{Mongo_Operator_Literal: t.Value}
		}
	}
	for _, f := range g.query.ExtraAggregates() {
		if err = addFunc(f); err != nil {
			return
		}
	}
	stages = bson.A{
		bson.M{Mongo_Stage_Group: group},
		bson.M{Mongo_Stage_Project: project},
	}
	return
}
