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

// UPDATE "t" SET "a" = v WHERE ...
type UpdateQuery struct {
	baseQuery
	set   *converter.Set
	where *converter.Where

	matched int64
}

func NewUpdateQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *UpdateQuery, err error) {
	q = &UpdateQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *UpdateQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "UPDATE"); err != nil {
		return
	}
	if _, err = converter.NewFrom(q, s); err != nil {
		return
	}
	for !s.Done() {
		tok := s.Next()
		switch {
		case tok.IsKeyword("SET"):
			q.set, err = converter.NewSet(q, s)
		case tok.IsKeyword("WHERE"):
			q.where, err = converter.NewWhere(q, s)
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
	if q.set == nil {
		return sqlerr.NewDecodeError("missing SET in [%v]", s.String())
	}
	return checkWriteFilter(q.nested)
}

func (q *UpdateQuery) Execute(ctx context.Context) (err error) {
	filter, err := writeFilter(q.where)
	if err != nil {
		return
	}
	update, err := q.set.ToUpdate()
	if err != nil {
		return
	}
	q.matched, err = q.db.Collection(q.leftTable).UpdateMany(ctx, filter, update)
	log.Debugf("update [%v] matched: %v", q.leftTable, q.matched)
	return
}

// 匹配的行数
func (q *UpdateQuery) Count() int64 {
	return q.matched
}

// DELETE FROM "t" WHERE ...
type DeleteQuery struct {
	baseQuery
	where *converter.Where

	deleted int64
}

func NewDeleteQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *DeleteQuery, err error) {
	q = &DeleteQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *DeleteQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "DELETE", "FROM"); err != nil {
		return
	}
	if _, err = converter.NewFrom(q, s); err != nil {
		return
	}
	if s.Done() {
		return
	}
	if tok := s.Next(); !tok.IsKeyword("WHERE") {
		decodeErr := sqlerr.NewDecodeError("unknown keyword [%v]", tok.String())
		decodeErr.ErrKey = tok.String()
		return decodeErr
	}
	if q.where, err = converter.NewWhere(q, s); err != nil {
		return
	}
	if !s.Done() {
		return sqlerr.NewDecodeError("unexpected token [%v]", s.Peek().String())
	}
	return checkWriteFilter(q.nested)
}

func (q *DeleteQuery) Execute(ctx context.Context) (err error) {
	filter, err := writeFilter(q.where)
	if err != nil {
		return
	}
	q.deleted, err = q.db.Collection(q.leftTable).DeleteMany(ctx, filter)
	log.Debugf("delete from [%v] deleted: %v", q.leftTable, q.deleted)
	return
}

// 删除的行数
func (q *DeleteQuery) Count() int64 {
	return q.deleted
}

func writeFilter(where *converter.Where) (filter bson.M, err error) {
	if where == nil {
		filter = bson.M{}
		return
	}
	return where.Filter()
}

// 写操作的过滤条件不能使用$lookup
func checkWriteFilter(nested []*converter.NestedInQuery) error {
	if len(nested) > 0 {
		return sqlerr.NotSupported("IN (SELECT ...) in UPDATE or DELETE")
	}
	return nil
}
