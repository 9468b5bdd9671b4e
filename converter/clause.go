package converter

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

// FROM "table" [alias]
type From struct {
	Table *parser.Identifier
}

func NewFrom(q Query, s *parser.Statement) (from *From, err error) {
	table, err := parser.ReadTable(q, s)
	if err != nil {
		return
	}
	if s.Peek().IsPunct(",") {
		err = sqlerr.NotSupported("multiple tables in FROM [%v, %v]", table.String(), s.PeekAt(1).String())
		return
	}
	q.SetLeftTable(table.Name)
	from = &From{Table: table}
	return
}

// WHERE 条件
type Where struct {
	op *WhereOp
}

func NewWhere(q Query, s *parser.Statement) (where *Where, err error) {
	op, err := NewWhereOp(q, s.ReadUntil(parser.IsClauseKeyword))
	if err != nil {
		return
	}
	where = &Where{op: op}
	return
}

func (w *Where) Filter() (bson.M, error) {
	return w.op.ToMongo()
}

func (w *Where) ToFind(args *FindArgs) (err error) {
	args.Filter, err = w.op.ToMongo()
	return
}

func (w *Where) ToStages() (stages bson.A, err error) {
	filter, err := w.op.ToMongo()
	if err != nil {
		return
	}
	stages = bson.A{bson.M{Mongo_Stage_Match: filter}}
	return
}

// HAVING 条件，聚合函数以其别名引用$group的输出
type Having struct {
	op *WhereOp
}

func NewHaving(q Query, s *parser.Statement) (having *Having, err error) {
	op, err := NewWhereOp(q, s.ReadUntil(parser.IsClauseKeyword))
	if err != nil {
		return
	}
	having = &Having{op: op}
	return
}

func (h *Having) ToStages() (stages bson.A, err error) {
	filter, err := h.op.ToMongo()
	if err != nil {
		return
	}
	stages = bson.A{bson.M{Mongo_Stage_Match: filter}}
	return
}

// ORDER BY
type Order struct {
	Columns []*parser.Identifier
}

func NewOrder(q Query, s *parser.Statement) (order *Order, err error) {
	tokens, err := parser.ReadTokenList(q, s, false)
	if err != nil {
		return
	}
	order = &Order{}
	for _, tok := range tokens {
		id, ok := tok.(*parser.Identifier)
		if !ok {
			return nil, sqlerr.NotSupported("ORDER BY [%v]", tok.String())
		}
		order.Columns = append(order.Columns, id)
	}
	return
}

func (o *Order) sort() (sort bson.D) {
	for _, col := range o.Columns {
		direction := col.Order
		if direction == 0 {
			direction = parser.Order_Asc
		}
		sort = append(sort, bson.E{Key: col.Field(), Value: direction})
	}
	return
}

func (o *Order) ToFind(args *FindArgs) error {
	args.Sort = o.sort()
	return nil
}

func (o *Order) ToStages() (bson.A, error) {
	return bson.A{bson.M{Mongo_Stage_Sort: o.sort()}}, nil
}

// LIMIT n 或 LIMIT offset, n
type Limit struct {
	Count  int64
	Offset *Offset
}

func NewLimit(q Query, s *parser.Statement) (limit *Limit, err error) {
	n, err := readCount(q, s)
	if err != nil {
		return
	}
	limit = &Limit{Count: n}
	if s.Peek().IsPunct(",") {
		s.Next()
		limit.Offset = &Offset{Count: n}
		limit.Count, err = readCount(q, s)
		if err != nil {
			return nil, err
		}
	}
	return
}

func (l *Limit) ToFind(args *FindArgs) error {
	args.Limit = l.Count
	return nil
}

func (l *Limit) ToStages() (bson.A, error) {
	return bson.A{bson.M{Mongo_Stage_Limit: l.Count}}, nil
}

// OFFSET n
type Offset struct {
	Count int64
}

func NewOffset(q Query, s *parser.Statement) (offset *Offset, err error) {
	n, err := readCount(q, s)
	if err != nil {
		return
	}
	offset = &Offset{Count: n}
	return
}

func (o *Offset) ToFind(args *FindArgs) error {
	args.Skip = o.Count
	return nil
}

func (o *Offset) ToStages() (bson.A, error) {
	if o.Count == 0 {
		return nil, nil
	}
	return bson.A{bson.M{Mongo_Stage_Skip: o.Count}}, nil
}

func readCount(q Query, s *parser.Statement) (n int64, err error) {
	v, err := parser.ReadValue(s)
	if err != nil {
		return
	}
	val, err := v.Resolve(q.Params())
	if err != nil {
		return
	}
	n, err = ToInt64(val)
	if err == nil && n < 0 {
		err = fmt.Errorf("negative count [%v]", n)
	}
	return
}

// UPDATE ... SET "a" = v, "b" = v
type Set struct {
	query Query
	Pairs []*parser.Comparison
}

func NewSet(q Query, s *parser.Statement) (set *Set, err error) {
	set = &Set{query: q}
	for {
		var cmp *parser.Comparison
		cmp, err = parser.ReadComparison(q, s)
		if err != nil {
			return nil, err
		}
		if _, ok := cmp.Left.(*parser.Identifier); !ok || cmp.Operator != "=" {
			return nil, fmt.Errorf("invalid assignment [%v]", cmp.String())
		}
		if _, ok := cmp.Right.(*parser.Value); !ok {
			return nil, sqlerr.NotSupported("assignment from expression [%v]", cmp.String())
		}
		set.Pairs = append(set.Pairs, cmp)
		if !s.Peek().IsPunct(",") {
			break
		}
		s.Next()
	}
	return
}

func (s *Set) ToUpdate() (update bson.M, err error) {
	fields := bson.M{}
	for _, cmp := range s.Pairs {
		var val any
		val, err = cmp.Right.(*parser.Value).Resolve(s.query.Params())
		if err != nil {
			return
		}
		fields[cmp.Left.(*parser.Identifier).Column()] = val
	}
	update = bson.M{Mongo_Update_Set: fields}
	return
}
