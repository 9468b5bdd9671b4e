package query

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const (
	DropKind_Table    = "TABLE"
	DropKind_Database = "DATABASE"
	DropKind_Index    = "INDEX"
)

// DROP TABLE [IF EXISTS] "t" [CASCADE] / DROP DATABASE "d" / DROP INDEX "n" ON "t"
type DropQuery struct {
	baseQuery
	Kind string
	name string
}

func NewDropQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *DropQuery, err error) {
	q = &DropQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *DropQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "DROP"); err != nil {
		return
	}
	tok := s.Next()
	switch {
	case tok.IsKeyword("TABLE"):
		q.Kind = DropKind_Table
	case tok.IsKeyword("DATABASE", "SCHEMA"):
		q.Kind = DropKind_Database
	case tok.IsKeyword("INDEX"):
		q.Kind = DropKind_Index
	default:
		return sqlerr.NewDecodeError("statement: [%v]", s.String())
	}
	if s.Peek().IsKeyword("IF EXISTS") {
		s.Next()
	}
	if q.name, err = readName(s); err != nil {
		return
	}
	if q.Kind == DropKind_Index {
		if err = expectKeywords(s, "ON"); err != nil {
			return
		}
		if q.leftTable, err = readName(s); err != nil {
			return
		}
	} else {
		q.leftTable = q.name
	}
	if s.Peek().IsWord("CASCADE", "RESTRICT") {
		sqlerr.Warn("DROP " + s.Next().Value)
	}
	if !s.Done() {
		err = sqlerr.NewDecodeError("unexpected token [%v]", s.Rest().String())
	}
	return
}

func (q *DropQuery) Execute(ctx context.Context) (err error) {
	switch q.Kind {
	case DropKind_Database:
		if q.name != q.db.Name() {
			return fmt.Errorf("database [%v] is not the connected database [%v]", q.name, q.db.Name())
		}
		if err = q.db.DropDatabase(ctx); err != nil {
			return
		}
		q.properties().ClearCollections()
	case DropKind_Table:
		if err = q.db.DropCollection(ctx, q.name); err != nil {
			return
		}
		q.properties().RemoveCollection(q.name)
		var deleted int64
		deleted, err = q.db.Collection(Schema_Collection).DeleteMany(ctx, bson.M{schema_Name: q.name})
		log.Debugf("dropped table [%v], schema documents removed: %v", q.name, deleted)
	case DropKind_Index:
		err = q.db.Collection(q.leftTable).DropIndex(ctx, q.name)
	}
	return
}

func (q *DropQuery) Count() int64 {
	return 0
}
