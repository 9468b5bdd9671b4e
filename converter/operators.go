package converter

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const (
	Precedence_Or      = 1
	Precedence_And     = 2
	Precedence_Not     = 3
	Precedence_Not_In  = 4
	Precedence_In      = 5
	Precedence_Like    = 6
	Precedence_Between = 7
	Precedence_Is      = 8
)

// 布尔表达式节点
// 扫描时按出现顺序组成双向链表，求值时按优先级由高到低依次吸收相邻节点
type Op interface {
	ToMongo() (bson.M, error)
	Negate() error
	Precedence() int
	// 求值，返回在链表中代替自身的节点
	evaluate() (Op, error)
	links() *opLinks
}

type opLinks struct {
	lhs, rhs Op
}

func (l *opLinks) links() *opLinks {
	return l
}

// 以单个列或聚合函数为操作数的叶子节点
type leafOp struct {
	opLinks
	query   Query
	operand parser.SQLToken
	negated bool
}

func newLeafOp(q Query, operand parser.SQLToken) leafOp {
	if f, ok := operand.(*parser.Func); ok {
		// HAVING中的聚合函数需要在$group中计算
		q.AddAggregate(f)
	}
	return leafOp{query: q, operand: operand}
}

func (o *leafOp) Negate() error {
	o.negated = !o.negated
	return nil
}

func (o *leafOp) field() (field string, err error) {
	switch t := o.operand.(type) {
	case *parser.Identifier:
		field = t.Field()
	case *parser.Func:
		field = t.Alias()
	default:
		err = fmt.Errorf("unsupported operand [%v]", o.operand.String())
	}
	return
}

// 字段路径和参数值，参数为单key文档时比较嵌套字段 field.key
func (o *leafOp) resolve(v *parser.Value) (field string, val any, err error) {
	field, err = o.field()
	if err != nil {
		return
	}
	val, err = v.Resolve(o.query.Params())
	if err != nil {
		return
	}
	if key, inner, ok := embeddedValue(val); ok {
		field += "." + key
		val = inner
	}
	return
}

// field op value
type CmpOp struct {
	leafOp
	operator string
	value    *parser.Value
}

func newCmpOp(q Query, operand parser.SQLToken, s *parser.Statement) (op *CmpOp, err error) {
	opTok := s.Next()
	code, ok := SQL_Comparison_Opcode[opTok.Value]
	if !opTok.IsOperator() || !ok {
		err = fmt.Errorf("expected comparison operator after [%v], got [%v]", operand.String(), opTok.String())
		return
	}
	if s.Peek().IsName() {
		err = sqlerr.NotSupported("join using WHERE [%v %v %v]", operand.String(), opTok.Value, s.Peek().String())
		return
	}
	op = &CmpOp{leafOp: newLeafOp(q, operand), operator: Mongo_Binary_Operator_Mapping[code]}
	op.value, err = parser.ReadValue(s)
	if err != nil {
		op = nil
	}
	return
}

func (o *CmpOp) Precedence() int {
	return 0
}

func (o *CmpOp) evaluate() (Op, error) {
	return o, nil
}

func (o *CmpOp) ToMongo() (doc bson.M, err error) {
	field, val, err := o.resolve(o.value)
	if err != nil {
		return
	}
	cond := bson.M{o.operator: val}
	if o.negated {
		doc = bson.M{field: bson.M{Mongo_Operator_Not: cond}}
	} else {
		doc = bson.M{field: cond}
	}
	return
}

// field [NOT] IN (values...) 或 field [NOT] IN (SELECT ...)
type InOp struct {
	leafOp
	not    bool
	values []*parser.Value
	nested *NestedInQuery
}

func newInOp(q Query, operand parser.SQLToken, s *parser.Statement, not bool) (op *InOp, err error) {
	paren := s.Next()
	op = &InOp{leafOp: newLeafOp(q, operand), not: not}
	if paren.IsSubquery() {
		op.nested, err = NewNestedInQuery(q, paren)
	} else {
		op.values, err = parser.ReadValueList(paren)
	}
	if err != nil {
		op = nil
	}
	return
}

func (o *InOp) Precedence() int {
	if o.not {
		return Precedence_Not_In
	}
	return Precedence_In
}

func (o *InOp) evaluate() (Op, error) {
	return o, nil
}

func (o *InOp) ToMongo() (doc bson.M, err error) {
	field, err := o.field()
	if err != nil {
		return
	}
	in := o.not == o.negated
	if o.nested != nil {
		expr := bson.M{Mongo_Operator_In: bson.A{"$" + field, "$" + o.nested.As}}
		if !in {
			expr = bson.M{Mongo_Operator_Not: bson.A{expr}}
		}
		doc = bson.M{Mongo_Operator_Expr: expr}
		return
	}
	values := make(bson.A, 0, len(o.values))
	for _, v := range o.values {
		var val any
		val, err = v.Resolve(o.query.Params())
		if err != nil {
			return
		}
		values = append(values, val)
	}
	operator := Mongo_Operator_In
	if !in {
		operator = Mongo_Operator_Nin
	}
	doc = bson.M{field: bson.M{operator: values}}
	return
}

// field [NOT] LIKE|ILIKE pattern
type LikeOp struct {
	leafOp
	value           *parser.Value
	caseInsensitive bool
}

func newLikeOp(q Query, operand parser.SQLToken, s *parser.Statement, caseInsensitive bool) (op *LikeOp, err error) {
	op = &LikeOp{leafOp: newLeafOp(q, operand), caseInsensitive: caseInsensitive}
	op.value, err = parser.ReadValue(s)
	if err != nil {
		op = nil
	}
	return
}

func (o *LikeOp) Precedence() int {
	return Precedence_Like
}

func (o *LikeOp) evaluate() (Op, error) {
	return o, nil
}

func (o *LikeOp) ToMongo() (doc bson.M, err error) {
	field, val, err := o.resolve(o.value)
	if err != nil {
		return
	}
	pattern, ok := val.(string)
	if !ok {
		err = fmt.Errorf("pattern of [%v] must be a string, got [%v]", field, val)
		return
	}
	regex := LikeToRegex(pattern)
	var options string
	if o.caseInsensitive {
		options = "im"
	}
	if o.negated {
		doc = bson.M{field: bson.M{Mongo_Operator_Not: primitive.Regex{Pattern: regex, Options: options}}}
		return
	}
	cond := bson.M{Mongo_Operator_Regex: regex}
	if options != "" {
		cond[Mongo_Operator_Options] = options
	}
	doc = bson.M{field: cond}
	return
}

// LIKE模式转为锚定的正则：%匹配任意串，_匹配单个字符，\转义下一个字符
func LikeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				b.WriteString(regexp.QuoteMeta(`\`))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// field [NOT] BETWEEN lower AND upper
type BetweenOp struct {
	leafOp
	lower, upper *parser.Value
}

func newBetweenOp(q Query, operand parser.SQLToken, s *parser.Statement) (op *BetweenOp, err error) {
	op = &BetweenOp{leafOp: newLeafOp(q, operand)}
	op.lower, err = parser.ReadValue(s)
	if err != nil {
		return nil, err
	}
	if tok := s.Next(); !tok.IsKeyword("AND") {
		return nil, fmt.Errorf("expected [AND] in BETWEEN of [%v], got [%v]", operand.String(), tok.String())
	}
	op.upper, err = parser.ReadValue(s)
	if err != nil {
		return nil, err
	}
	return
}

func (o *BetweenOp) Precedence() int {
	return Precedence_Between
}

func (o *BetweenOp) evaluate() (Op, error) {
	return o, nil
}

func (o *BetweenOp) ToMongo() (doc bson.M, err error) {
	field, err := o.field()
	if err != nil {
		return
	}
	lower, err := o.lower.Resolve(o.query.Params())
	if err != nil {
		return
	}
	upper, err := o.upper.Resolve(o.query.Params())
	if err != nil {
		return
	}
	cond := bson.M{Mongo_Operator_Gte: lower, Mongo_Operator_Lte: upper}
	if o.negated {
		doc = bson.M{field: bson.M{Mongo_Operator_Not: cond}}
	} else {
		doc = bson.M{field: cond}
	}
	return
}

// field IS [NOT] NULL
type IsOp struct {
	leafOp
	isNull bool
}

func newIsOp(q Query, operand parser.SQLToken, s *parser.Statement) (op *IsOp, err error) {
	op = &IsOp{leafOp: newLeafOp(q, operand)}
	switch tok := s.Next(); {
	case tok.IsKeyword("NULL"):
		op.isNull = true
	case tok.IsKeyword("NOT NULL"):
	default:
		op, err = nil, fmt.Errorf("expected [NULL] or [NOT NULL] after [%v IS], got [%v]", operand.String(), tok.String())
	}
	return
}

func (o *IsOp) Precedence() int {
	return Precedence_Is
}

func (o *IsOp) evaluate() (Op, error) {
	return o, nil
}

func (o *IsOp) ToMongo() (doc bson.M, err error) {
	field, err := o.field()
	if err != nil {
		return
	}
	if o.isNull != o.negated {
		doc = bson.M{field: nil}
	} else {
		doc = bson.M{field: bson.M{Mongo_Operator_Ne: nil}}
	}
	return
}

// 一元NOT，求值时对右侧节点取反后从链表中移除自身
type NotOp struct {
	opLinks
	negated bool
}

func (o *NotOp) Precedence() int {
	return Precedence_Not
}

// 外层括号取反时，右侧的叶子节点已作为同层成员取反，NOT仍需再取反一次；
// 右侧是括号时不会被外层取反，两次取反抵消
func (o *NotOp) Negate() error {
	o.negated = !o.negated
	return nil
}

func (o *NotOp) evaluate() (Op, error) {
	r := o.rhs
	if r == nil || isPending(r) {
		return nil, fmt.Errorf("missing operand of [NOT]")
	}
	p, isParen := r.(*ParenthesisOp)
	if !(o.negated && isParen) {
		if err := r.Negate(); err != nil {
			return nil, err
		}
	}
	if isParen {
		if _, err := p.evaluate(); err != nil {
			return nil, err
		}
	}
	r.links().lhs = o.lhs
	if o.lhs != nil {
		o.lhs.links().rhs = r
	}
	return r, nil
}

func (o *NotOp) ToMongo() (bson.M, error) {
	return nil, fmt.Errorf("unevaluated [NOT]")
}

// AND/OR，求值时吸收两侧操作数，同类连接符合并为一层
type AndOrOp struct {
	opLinks
	or        bool
	negated   bool
	acc       []Op
	evaluated bool
}

// 取反后AND按OR输出，OR按AND输出
func (o *AndOrOp) isOr() bool {
	return o.or != o.negated
}

func (o *AndOrOp) keyword() string {
	if o.or {
		return "OR"
	}
	return "AND"
}

func (o *AndOrOp) Precedence() int {
	if o.or {
		return Precedence_Or
	}
	return Precedence_And
}

func (o *AndOrOp) Negate() error {
	o.negated = !o.negated
	return nil
}

func (o *AndOrOp) evaluate() (Op, error) {
	l, r := o.lhs, o.rhs
	if l == nil || r == nil || isPending(l) || isPending(r) {
		return nil, fmt.Errorf("missing operand of [%v]", o.keyword())
	}
	if err := o.absorb(l, true); err != nil {
		return nil, err
	}
	if err := o.absorb(r, false); err != nil {
		return nil, err
	}
	o.lhs, o.rhs = l.links().lhs, r.links().rhs
	if o.lhs != nil {
		o.lhs.links().rhs = o
	}
	if o.rhs != nil {
		o.rhs.links().lhs = o
	}
	o.evaluated = true
	return o, nil
}

func (o *AndOrOp) absorb(operand Op, left bool) error {
	items := []Op{operand}
	switch t := operand.(type) {
	case *AndOrOp:
		if t.isOr() == o.isOr() {
			items = t.acc
		}
	case *ParenthesisOp:
		if _, err := t.evaluate(); err != nil {
			return err
		}
	}
	if left {
		o.acc = append(append([]Op{}, items...), o.acc...)
	} else {
		o.acc = append(o.acc, items...)
	}
	return nil
}

func (o *AndOrOp) ToMongo() (doc bson.M, err error) {
	docs := make(bson.A, 0, len(o.acc))
	for _, op := range o.acc {
		var d bson.M
		d, err = op.ToMongo()
		if err != nil {
			return
		}
		docs = append(docs, d)
	}
	operator := Mongo_Operator_And
	if o.isOr() {
		operator = Mongo_Operator_Or
	}
	doc = bson.M{operator: docs}
	return
}

// 尚未求值的连接符不能作为操作数
func isPending(op Op) bool {
	switch t := op.(type) {
	case *NotOp:
		return true
	case *AndOrOp:
		return !t.evaluated
	}
	return false
}

// 括号子表达式，内部独立扫描和求值
type ParenthesisOp struct {
	opLinks
	expr *opExpr
}

func (o *ParenthesisOp) Precedence() int {
	return 0
}

// 对括号内的直接成员逐个取反，嵌套括号只在作为唯一成员时取反
func (o *ParenthesisOp) Negate() error {
	for _, op := range o.expr.members {
		if err := op.Negate(); err != nil {
			return err
		}
	}
	return nil
}

func (o *ParenthesisOp) evaluate() (Op, error) {
	if err := o.expr.evaluate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *ParenthesisOp) ToMongo() (bson.M, error) {
	if err := o.expr.evaluate(); err != nil {
		return nil, err
	}
	return o.expr.root.ToMongo()
}

// 一段布尔表达式的扫描结果
type opExpr struct {
	// 按优先级排列的待求值节点，同优先级保持出现顺序
	ops []Op
	// 取反时需要翻转的直接成员
	members   []Op
	first     Op
	root      Op
	evaluated bool
}

func parseExpr(q Query, s *parser.Statement) (expr *opExpr, err error) {
	expr = &opExpr{}
	var (
		prev    Op
		count   int
		pending parser.SQLToken
	)
	takeOperand := func(keyword string) (operand parser.SQLToken, err error) {
		if pending == nil {
			err = fmt.Errorf("missing left operand of [%v]", keyword)
			return
		}
		operand, pending = pending, nil
		return
	}
	for !s.Done() {
		tok := s.Peek()
		var (
			op       Op
			operand  parser.SQLToken
			negateOp bool
		)
		switch {
		case tok.IsKeyword("AND"), tok.IsKeyword("OR"):
			s.Next()
			op = &AndOrOp{or: tok.IsKeyword("OR")}
		case tok.IsKeyword("NOT"):
			s.Next()
			next := s.Peek()
			switch {
			case next.IsKeyword("IN"):
				s.Next()
				if operand, err = takeOperand("NOT IN"); err == nil {
					op, err = newInOp(q, operand, s, true)
				}
			case next.IsKeyword("LIKE"), next.IsWord("ILIKE") && pending != nil:
				s.Next()
				if operand, err = takeOperand("NOT " + strings.ToUpper(next.Value)); err == nil {
					op, err = newLikeOp(q, operand, s, next.IsWord("ILIKE"))
				}
				negateOp = true
			case next.IsKeyword("BETWEEN"):
				s.Next()
				if operand, err = takeOperand("NOT BETWEEN"); err == nil {
					op, err = newBetweenOp(q, operand, s)
				}
				negateOp = true
			default:
				if pending != nil {
					err = fmt.Errorf("unexpected [NOT] after [%v]", pending.String())
				}
				op = &NotOp{}
			}
		case tok.IsKeyword("IN"):
			s.Next()
			if operand, err = takeOperand("IN"); err == nil {
				op, err = newInOp(q, operand, s, false)
			}
		case tok.IsKeyword("LIKE"), tok.IsWord("ILIKE") && pending != nil:
			s.Next()
			if operand, err = takeOperand(strings.ToUpper(tok.Value)); err == nil {
				op, err = newLikeOp(q, operand, s, tok.IsWord("ILIKE"))
			}
		case tok.IsKeyword("BETWEEN"):
			s.Next()
			if operand, err = takeOperand("BETWEEN"); err == nil {
				op, err = newBetweenOp(q, operand, s)
			}
		case tok.IsKeyword("IS"):
			s.Next()
			if operand, err = takeOperand("IS"); err == nil {
				op, err = newIsOp(q, operand, s)
			}
		case tok.IsOperator():
			if operand, err = takeOperand(tok.Value); err == nil {
				op, err = newCmpOp(q, operand, s)
			}
		case tok.IsParenthesis() && !tok.IsSubquery():
			if pending != nil {
				err = fmt.Errorf("unexpected [%v] after [%v]", tok.String(), pending.String())
				break
			}
			s.Next()
			var inner *opExpr
			inner, err = parseExpr(q, parser.NewStatement(tok.Children))
			op = &ParenthesisOp{expr: inner}
		case tok.IsName():
			if pending != nil {
				err = fmt.Errorf("unexpected [%v] after [%v]", tok.String(), pending.String())
				break
			}
			pending, err = parser.ReadSQLToken(q, s, false)
			continue
		default:
			err = fmt.Errorf("unknown token [%v]", tok.String())
		}
		if err != nil {
			return nil, err
		}
		if negateOp {
			if err = op.Negate(); err != nil {
				return nil, err
			}
		}
		if prev != nil {
			prev.links().rhs = op
			op.links().lhs = prev
		} else {
			expr.first = op
		}
		prev = op
		count++
		if _, ok := op.(*ParenthesisOp); !ok {
			expr.members = append(expr.members, op)
			if _, ok := op.(*CmpOp); !ok {
				expr.insert(op)
			}
		}
	}
	if pending != nil {
		return nil, fmt.Errorf("incomplete expression after [%v]", pending.String())
	}
	if count == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	if p, ok := expr.first.(*ParenthesisOp); ok && count == 1 {
		expr.members = []Op{p}
	}
	return
}

// 插入到第一个优先级更低的节点之前
func (e *opExpr) insert(op Op) {
	i := len(e.ops)
	for j, o := range e.ops {
		if o.Precedence() < op.Precedence() {
			i = j
			break
		}
	}
	e.ops = append(e.ops, nil)
	copy(e.ops[i+1:], e.ops[i:])
	e.ops[i] = op
}

func (e *opExpr) evaluate() (err error) {
	if e.evaluated {
		if e.root == nil {
			err = fmt.Errorf("malformed expression")
		}
		return
	}
	e.evaluated = true
	last := e.first
	for _, op := range e.ops {
		last, err = op.evaluate()
		if err != nil {
			return
		}
	}
	// 求值后链表应只剩一个节点
	if l := last.links(); l.lhs != nil || l.rhs != nil {
		err = fmt.Errorf("malformed expression, missing [AND] or [OR]")
		return
	}
	e.root = last
	return
}

// WHERE/HAVING条件的根
type WhereOp struct {
	expr *opExpr
}

func NewWhereOp(q Query, s *parser.Statement) (op *WhereOp, err error) {
	expr, err := parseExpr(q, s)
	if err != nil {
		return
	}
	if err = expr.evaluate(); err != nil {
		return
	}
	op = &WhereOp{expr: expr}
	return
}

func (o *WhereOp) ToMongo() (bson.M, error) {
	return o.expr.root.ToMongo()
}
