package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

type alterAction int

const (
	alterAction_Noop alterAction = iota
	alterAction_Add_Column
	alterAction_Add_Constraint
	alterAction_Drop_Column
	alterAction_Drop_Index
	alterAction_Drop_Constraint
	alterAction_Rename_Column
	alterAction_Rename_Table
	alterAction_Flush
)

// ALTER TABLE "t" ADD|DROP|RENAME|ALTER|FLUSH ...
type AlterQuery struct {
	baseQuery
	action alterAction
	column *parser.ColumnDef
	// 索引、约束或列名
	name       string
	newName    string
	constraint *parser.TableConstraint
}

func NewAlterQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *AlterQuery, err error) {
	q = &AlterQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *AlterQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "ALTER", "TABLE"); err != nil {
		return
	}
	if s.Peek().IsKeyword("IF EXISTS") {
		s.Next()
	}
	if q.leftTable, err = readName(s); err != nil {
		return
	}
	tok := s.Next()
	switch {
	case tok.IsKeyword("ADD"):
		err = q.parseAdd(s)
	case tok.IsKeyword("DROP"):
		err = q.parseDrop(s)
	case tok.IsKeyword("RENAME"):
		err = q.parseRename(s)
	case tok.IsKeyword("ALTER"):
		err = q.parseAlter(s)
	case tok.IsWord("FLUSH"):
		q.action = alterAction_Flush
	default:
		decodeErr := sqlerr.NewDecodeError("unknown token [%v]", tok.String())
		decodeErr.ErrKey = tok.String()
		decodeErr.ErrSubSQL = s.String()
		return decodeErr
	}
	if err == nil && !s.Done() {
		err = sqlerr.NewDecodeError("unexpected token [%v]", s.Rest().String())
	}
	return
}

// ADD [COLUMN] "c" type ... | ADD [CONSTRAINT "n"] UNIQUE|PRIMARY KEY|INDEX|FOREIGN KEY (...)
func (q *AlterQuery) parseAdd(s *parser.Statement) (err error) {
	if parser.IsTableConstraint(s.Peek()) {
		q.action = alterAction_Add_Constraint
		q.constraint, err = parser.ReadTableConstraint(s)
		return
	}
	if s.Peek().IsKeyword("COLUMN") {
		s.Next()
	}
	q.action = alterAction_Add_Column
	q.column, err = parser.ReadColumnDef(s)
	return
}

// DROP COLUMN "c" [CASCADE] | DROP INDEX "n" | DROP CONSTRAINT "n"
func (q *AlterQuery) parseDrop(s *parser.Statement) (err error) {
	tok := s.Next()
	switch {
	case tok.IsKeyword("COLUMN"):
		q.action = alterAction_Drop_Column
	case tok.IsKeyword("INDEX", "KEY"):
		q.action = alterAction_Drop_Index
	case tok.IsKeyword("CONSTRAINT"):
		q.action = alterAction_Drop_Constraint
	case tok.IsName():
		// DROP "c"
		q.action = alterAction_Drop_Column
		s.Skip(-1)
	default:
		return sqlerr.NotSupported("DROP [%v]", tok.String())
	}
	if s.Peek().IsKeyword("IF EXISTS") {
		s.Next()
	}
	if q.name, err = readName(s); err != nil {
		return
	}
	if s.Peek().IsWord("CASCADE", "RESTRICT") {
		sqlerr.Warn("DROP " + strings.ToUpper(s.Next().Value))
	}
	return
}

// RENAME COLUMN "a" TO "b" | RENAME TO "t2"
func (q *AlterQuery) parseRename(s *parser.Statement) (err error) {
	q.action = alterAction_Rename_Table
	if s.Peek().IsKeyword("COLUMN") {
		s.Next()
		q.action = alterAction_Rename_Column
		if q.name, err = readName(s); err != nil {
			return
		}
	}
	if err = expectKeywords(s, "TO"); err != nil {
		return
	}
	q.newName, err = readName(s)
	return
}

// ALTER [COLUMN] "c" ...，只记录不支持的特性
func (q *AlterQuery) parseAlter(s *parser.Statement) (err error) {
	q.action = alterAction_Noop
	var feature []string
	for !s.Done() {
		tok := s.Next()
		switch {
		case tok.IsName(), tok.Kind == parser.TokenKind_Placeholder, tok.Kind == parser.TokenKind_String,
			tok.Kind == parser.TokenKind_Number, tok.IsParenthesis():
		case tok.Kind == parser.TokenKind_Keyword:
			feature = append(feature, tok.Value)
		default:
			decodeErr := sqlerr.NewDecodeError("unknown token [%v]", tok.String())
			decodeErr.ErrKey = tok.String()
			return decodeErr
		}
	}
	sqlerr.Warn("ALTER " + strings.Join(feature, " "))
	return
}

func (q *AlterQuery) Execute(ctx context.Context) (err error) {
	coll := q.db.Collection(q.leftTable)
	schema := q.db.Collection(Schema_Collection)
	filter := bson.M{schema_Name: q.leftTable}
	switch q.action {
	case alterAction_Add_Column:
		err = q.addColumn(ctx, coll, schema)
	case alterAction_Add_Constraint:
		err = createConstraint(ctx, coll, q.constraint)
	case alterAction_Drop_Column:
		if _, err = coll.UpdateMany(ctx, bson.M{}, bson.M{converter.Mongo_Update_Unset: bson.M{q.name: ""}}); err != nil {
			return
		}
		_, err = schema.UpdateOne(ctx, filter, bson.M{converter.Mongo_Update_Unset: bson.M{schema_Field_Prefix + q.name: ""}}, false)
	case alterAction_Drop_Index:
		err = coll.DropIndex(ctx, q.name)
	case alterAction_Drop_Constraint:
		// 约束只以同名索引的形式存在
		if err = coll.DropIndex(ctx, q.name); errors.Is(err, client.ErrIndexNotFound) {
			log.Debugf("constraint [%v] of [%v] has no index", q.name, q.leftTable)
			err = nil
		}
	case alterAction_Rename_Column:
		if _, err = coll.UpdateMany(ctx, bson.M{}, bson.M{converter.Mongo_Update_Rename: bson.M{q.name: q.newName}}); err != nil {
			return
		}
		_, err = schema.UpdateOne(ctx, filter, bson.M{converter.Mongo_Update_Rename: bson.M{
			schema_Field_Prefix + q.name: schema_Field_Prefix + q.newName,
		}}, false)
	case alterAction_Rename_Table:
		if err = q.db.RenameCollection(ctx, q.leftTable, q.newName); err != nil {
			return
		}
		q.properties().RenameCollection(q.leftTable, q.newName)
		_, err = schema.UpdateOne(ctx, filter, bson.M{converter.Mongo_Update_Set: bson.M{schema_Name: q.newName}}, false)
	case alterAction_Flush:
		var deleted int64
		deleted, err = coll.DeleteMany(ctx, bson.M{})
		log.Debugf("flushed [%v], deleted: %v", q.leftTable, deleted)
	}
	return
}

// 已有文档缺少该字段或为null时写入默认值
func (q *AlterQuery) addColumn(ctx context.Context, coll, schema client.Collection) (err error) {
	col := q.column
	var def any
	if col.Default != nil {
		if def, err = col.Default.Resolve(q.params); err != nil {
			return
		}
	}
	backfill := bson.M{converter.Mongo_Operator_Or: bson.A{
		bson.M{col.Name: bson.M{converter.Mongo_Operator_Exists: false}},
		bson.M{col.Name: nil},
	}}
	if _, err = coll.UpdateMany(ctx, backfill, bson.M{converter.Mongo_Update_Set: bson.M{col.Name: def}}); err != nil {
		return
	}
	if col.Has(parser.ColumnConstraint_Unique) || col.Has(parser.ColumnConstraint_Primary_Key) {
		name := ""
		if col.Has(parser.ColumnConstraint_Primary_Key) {
			name = Primary_Key_Index
		}
		if err = coll.CreateIndex(ctx, bson.D{{Key: col.Name, Value: 1}}, name, true); err != nil {
			return
		}
	}
	if col.Has(parser.ColumnConstraint_Not_Null) || col.Has(parser.ColumnConstraint_Null) {
		sqlerr.Warn("NULL, NOT NULL column validation check")
	}
	for _, ignored := range col.Ignored {
		sqlerr.Warn(fmt.Sprintf("schema validation using %v", ignored))
	}
	_, err = schema.UpdateOne(ctx, bson.M{schema_Name: q.leftTable}, bson.M{converter.Mongo_Update_Set: bson.M{
		schema_Field_Prefix + col.Name: bson.M{schema_Type_Code: col.DataType},
	}}, false)
	return
}

func (q *AlterQuery) Count() int64 {
	return 0
}
