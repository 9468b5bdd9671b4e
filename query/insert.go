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

// INSERT INTO "t" ("a", "b") VALUES (...), (...)
type InsertQuery struct {
	baseQuery
	columns []string
	values  [][]*parser.Value

	inserted  int64
	lastRowID any
}

func NewInsertQuery(conn *client.Connection, tokens []*parser.Token, params []any) (q *InsertQuery, err error) {
	q = &InsertQuery{baseQuery: newBaseQuery(conn, params)}
	if err = q.parse(parser.NewStatement(tokens)); err != nil {
		return nil, err
	}
	return
}

func (q *InsertQuery) parse(s *parser.Statement) (err error) {
	if err = expectKeywords(s, "INSERT", "INTO"); err != nil {
		return
	}
	table, err := readName(s)
	if err != nil {
		return
	}
	props := q.properties()
	if !props.IsCached(table) {
		if props.EnforceSchema {
			return sqlerr.NewMigrationError("table [%v] does not exist in database", table)
		}
		props.AddCollection(table)
	}
	q.leftTable = table

	cols, err := parser.ReadColumnList(s.Next())
	if err != nil {
		return
	}
	for _, col := range cols {
		q.columns = append(q.columns, col.Name)
	}
	if tok := s.Next(); !tok.IsKeyword("VALUES") {
		return fmt.Errorf("expected [VALUES], got [%v]", tok.String())
	}
	for !s.Done() {
		var row []*parser.Value
		row, err = parser.ReadValueList(s.Next())
		if err != nil {
			return
		}
		if len(row) != len(q.columns) {
			return fmt.Errorf("%v values given for %v columns", len(row), len(q.columns))
		}
		q.values = append(q.values, row)
		if s.Done() {
			break
		}
		if tok := s.Next(); !tok.IsPunct(",") {
			decodeErr := sqlerr.NewDecodeError("unexpected token [%v] after values", tok.String())
			decodeErr.ErrKey = tok.String()
			return decodeErr
		}
	}
	if len(q.values) == 0 {
		return fmt.Errorf("no values to insert into [%v]", table)
	}
	return
}

// 先为所有行预留自增值，再无序批量写入
func (q *InsertQuery) Execute(ctx context.Context) (err error) {
	auto, err := reserveAutoIncrement(ctx, q.db, q.leftTable, len(q.values))
	if err != nil {
		return
	}
	docs := make([]any, 0, len(q.values))
	for i, row := range q.values {
		doc := bson.M{}
		if auto != nil {
			id := auto.seq - int64(len(q.values)) + int64(i) + 1
			for _, name := range auto.fieldNames {
				doc[name] = id
			}
		}
		for j, v := range row {
			// DEFAULT 不写入该字段，自增列保留分配的值
			if v.Default {
				continue
			}
			var val any
			val, err = v.Resolve(q.params)
			if err != nil {
				return
			}
			doc[q.columns[j]] = val
		}
		docs = append(docs, doc)
	}
	ids, err := q.db.Collection(q.leftTable).InsertMany(ctx, docs)
	q.inserted = int64(len(ids))
	log.Debugf("inserted into [%v], ids: %v", q.leftTable, ids)
	if err != nil {
		return
	}
	if auto != nil {
		q.lastRowID = auto.seq
	} else if len(ids) > 0 {
		q.lastRowID = ids[len(ids)-1]
	}
	return
}

func (q *InsertQuery) Count() int64 {
	return q.inserted
}

// 最后分配的自增值，没有自增列时为最后插入文档的_id
func (q *InsertQuery) LastRowID() any {
	return q.lastRowID
}
