package query

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const (
	CreateKind_Table    = "TABLE"
	CreateKind_Index    = "INDEX"
	CreateKind_Database = "DATABASE"
)

// CREATE TABLE / CREATE [UNIQUE] INDEX / CREATE DATABASE
type CreateQuery struct {
	baseQuery
	Kind        string
	ifNotExists bool
	columns     []*parser.ColumnDef
	constraints []*parser.TableConstraint

	// CREATE INDEX
	indexName string
	indexKeys bson.D
	unique    bool
}

func NewCreateQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *CreateQuery, err error) {
	q = &CreateQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *CreateQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "CREATE"); err != nil {
		return
	}
	tok := s.Next()
	switch {
	case tok.IsKeyword("TABLE"):
		q.Kind = CreateKind_Table
		err = q.parseTable(s)
	case tok.IsKeyword("UNIQUE"):
		q.unique = true
		if err = expectKeywords(s, "INDEX"); err != nil {
			return
		}
		q.Kind = CreateKind_Index
		err = q.parseIndex(s)
	case tok.IsKeyword("INDEX"):
		q.Kind = CreateKind_Index
		err = q.parseIndex(s)
	case tok.IsKeyword("DATABASE", "SCHEMA"):
		q.Kind = CreateKind_Database
		s.Rest()
	default:
		log.Debugf("create statement not supported: %v", s.String())
		err = sqlerr.NotSupported("CREATE [%v]", tok.String())
	}
	return
}

func (q *CreateQuery) parseTable(s *parser.Statement) (err error) {
	if s.Peek().IsKeyword("IF NOT EXISTS") {
		s.Next()
		q.ifNotExists = true
	}
	if q.leftTable, err = readName(s); err != nil {
		return
	}
	q.columns, q.constraints, err = parser.ParseColumnDefs(s.Next())
	if err != nil {
		return
	}
	if !s.Done() {
		err = sqlerr.NewDecodeError("unexpected sql syntax for column definition [%v]", s.Rest().String())
	}
	return
}

// CREATE [UNIQUE] INDEX "name" ON "table" ("a", "b" DESC)
func (q *CreateQuery) parseIndex(s *parser.Statement) (err error) {
	if s.Peek().IsKeyword("IF NOT EXISTS") {
		s.Next()
	}
	if q.indexName, err = readName(s); err != nil {
		return
	}
	if err = expectKeywords(s, "ON"); err != nil {
		return
	}
	if q.leftTable, err = readName(s); err != nil {
		return
	}
	cols, err := parser.ReadColumnList(s.Next())
	if err != nil {
		return
	}
	q.indexKeys = indexKeys(cols)
	if !s.Done() {
		err = sqlerr.NotSupported("index option [%v]", s.Rest().String())
	}
	return
}

func indexKeys(cols []*parser.Identifier) (keys bson.D) {
	for _, col := range cols {
		direction := col.Order
		if direction == 0 {
			direction = parser.Order_Asc
		}
		keys = append(keys, bson.E{Key: col.Name, Value: direction})
	}
	return
}

func (q *CreateQuery) Execute(ctx context.Context) (err error) {
	switch q.Kind {
	case CreateKind_Table:
		err = q.createTable(ctx)
	case CreateKind_Index:
		err = q.db.Collection(q.leftTable).CreateIndex(ctx, q.indexKeys, q.indexName, q.unique)
	}
	return
}

func (q *CreateQuery) createTable(ctx context.Context) (err error) {
	if err = ensureSchema(ctx, q.conn); err != nil {
		return
	}
	props := q.properties()
	err = q.db.CreateCollection(ctx, q.leftTable)
	if errors.Is(err, client.ErrCollectionExists) {
		props.AddCollection(q.leftTable)
		if props.EnforceSchema && !q.ifNotExists {
			return sqlerr.NewMigrationError("table [%v] already exists", q.leftTable)
		}
		return nil
	}
	if err != nil {
		return
	}
	props.AddCollection(q.leftTable)
	log.Debugf("created table: %v", q.leftTable)

	coll := q.db.Collection(q.leftTable)
	set := bson.M{}
	var autoFields bson.A
	for _, col := range q.columns {
		if col.Name == "_id" {
			continue
		}
		set[schema_Field_Prefix+col.Name] = bson.M{schema_Type_Code: col.DataType}
		if col.Has(parser.ColumnConstraint_Autoincrement) {
			autoFields = append(autoFields, col.Name)
			set[schema_Auto_Seq] = 0
		}
		keys := bson.D{{Key: col.Name, Value: 1}}
		if col.Has(parser.ColumnConstraint_Primary_Key) {
			if err = coll.CreateIndex(ctx, keys, Primary_Key_Index, true); err != nil {
				return
			}
		}
		if col.Has(parser.ColumnConstraint_Unique) {
			if err = coll.CreateIndex(ctx, keys, "", true); err != nil {
				return
			}
		}
		if col.Has(parser.ColumnConstraint_Not_Null) || col.Has(parser.ColumnConstraint_Null) {
			sqlerr.Warn("NULL, NOT NULL column validation check")
		}
		for _, ignored := range col.Ignored {
			sqlerr.Warn(fmt.Sprintf("column %v", ignored))
		}
	}
	for _, constraint := range q.constraints {
		if err = createConstraint(ctx, coll, constraint); err != nil {
			return
		}
	}
	if len(set) == 0 {
		set[schema_Fields] = bson.M{}
	}
	update := bson.M{converter.Mongo_Update_Set: set}
	if len(autoFields) > 0 {
		update[converter.Mongo_Update_Push] = bson.M{schema_Auto_Fields: bson.M{converter.Mongo_Update_Each: autoFields}}
	}
	_, err = q.db.Collection(Schema_Collection).UpdateOne(ctx, bson.M{schema_Name: q.leftTable}, update, true)
	return
}

// 表级约束，唯一和主键约束转为索引，外键和CHECK只告警
func createConstraint(ctx context.Context, coll client.Collection, constraint *parser.TableConstraint) error {
	switch constraint.Kind {
	case parser.TableConstraint_Primary_Key:
		return coll.CreateIndex(ctx, indexKeys(constraint.Columns), Primary_Key_Index, true)
	case parser.TableConstraint_Unique:
		return coll.CreateIndex(ctx, indexKeys(constraint.Columns), constraint.Name, true)
	case parser.TableConstraint_Index:
		return coll.CreateIndex(ctx, indexKeys(constraint.Columns), constraint.Name, false)
	default:
		sqlerr.Warn(fmt.Sprintf("schema validation using %v", constraint.Kind))
	}
	return nil
}

func (q *CreateQuery) Count() int64 {
	return 0
}
