package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// 查询上下文，token据此解析表名和字段路径
type Context interface {
	// 主表(FROM/INSERT INTO/UPDATE的表)
	LeftTable() string
	Alias() *TokenAlias
	Params() []any
}

// 原始token的类型化包装
type SQLToken interface {
	Alias() string
	String() string
}

const (
	Order_Asc  = 1
	Order_Desc = -1
)

var comparisonOperators = []string{"=", "<", ">", "<=", ">=", "<>", "<=>"}

// 表名或列名，可带表前缀、别名和排序方向
type Identifier struct {
	ctx    Context
	Parent string
	Name   string
	AsName string
	Order  int
	// 出现在FROM/JOIN/INTO等表位置
	IsTable bool
}

func NewIdentifier(ctx Context, parent, name string) *Identifier {
	return &Identifier{ctx: ctx, Parent: parent, Name: name}
}

func (i *Identifier) Alias() string {
	return i.AsName
}

func (i *Identifier) String() string {
	name := quoteName(i.Name)
	if i.Parent != "" {
		name = quoteName(i.Parent) + "." + name
	}
	return name
}

// 无前缀且名称是SELECT列表中的别名时，返回别名指向的token
func (i *Identifier) target() SQLToken {
	if i.Parent != "" || i.IsTable || i.ctx == nil {
		return nil
	}
	tok, ok := i.ctx.Alias().Lookup(i.Name)
	if !ok {
		return nil
	}
	if id, ok := tok.(*Identifier); ok {
		if id == i || id.IsTable || (id.Parent == "" && id.Name == i.Name) {
			return nil
		}
	}
	return tok
}

// 所属集合名，表前缀为别名时解析为真实表名，无前缀时属于主表
func (i *Identifier) Table() string {
	if t, ok := i.target().(*Identifier); ok {
		return t.Table()
	}
	if i.IsTable {
		return i.Name
	}
	if i.Parent == "" {
		if i.ctx == nil {
			return ""
		}
		return i.ctx.LeftTable()
	}
	if i.ctx != nil {
		if tok, ok := i.ctx.Alias().Lookup(i.Parent); ok {
			if ref, ok := tok.(*Identifier); ok && ref.IsTable {
				return ref.Name
			}
		}
	}
	return i.Parent
}

func (i *Identifier) Column() string {
	if t, ok := i.target().(*Identifier); ok {
		return t.Column()
	}
	return i.Name
}

// mongo字段路径，主表字段为列名，关联表字段嵌套在表名下
func (i *Identifier) Field() string {
	switch t := i.target().(type) {
	case nil:
	case *Identifier:
		return t.Field()
	default:
		// 函数或常量的别名就是输出字段
		return i.Name
	}
	table := i.Table()
	if i.ctx == nil || table == i.ctx.LeftTable() {
		return i.Name
	}
	return table + "." + i.Name
}

// SELECT (1) AS "a" 这类常量列
type ConstIdentifier struct {
	Value  any
	AsName string
	text   string
}

func (c *ConstIdentifier) Alias() string {
	if c.AsName != "" {
		return c.AsName
	}
	return c.text
}

func (c *ConstIdentifier) String() string {
	return c.text
}

// 函数调用，只支持单个列参数或*
type Func struct {
	ctx      Context
	Name     string
	Distinct bool
	Star     bool
	Arg      *Identifier
	AsName   string
}

func (f *Func) String() string {
	var arg string
	if f.Star {
		arg = "*"
	} else if f.Arg != nil {
		arg = f.Arg.String()
	}
	if f.Distinct {
		arg = "DISTINCT " + arg
	}
	return f.Name + "(" + arg + ")"
}

// 显式别名，或SELECT列表中为同一表达式注册的别名，否则生成不含.的默认名
func (f *Func) Alias() string {
	if f.AsName != "" {
		return f.AsName
	}
	if f.ctx != nil {
		if alias, ok := f.ctx.Alias().AliasOf(f); ok {
			return alias
		}
	}
	arg := "*"
	if f.Arg != nil {
		arg = strings.ReplaceAll(f.Arg.Field(), ".", "_")
	}
	if f.Distinct {
		arg = "DISTINCT " + arg
	}
	return f.Name + "(" + arg + ")"
}

// 比较表达式 lhs op rhs，用于SET、JOIN ON和WHERE
type Comparison struct {
	Left     SQLToken
	Operator string
	Right    SQLToken
}

func (c *Comparison) Alias() string {
	return ""
}

func (c *Comparison) String() string {
	return c.Left.String() + " " + c.Operator + " " + c.Right.String()
}

// 占位符或字面量
type Value struct {
	// 占位符对应参数下标，字面量为-1
	Index   int
	Literal any
	// SQL DEFAULT
	Default bool
	text    string
}

func (v *Value) Alias() string {
	return ""
}

func (v *Value) String() string {
	return v.text
}

func (v *Value) IsPlaceholder() bool {
	return v.Index >= 0
}

func (v *Value) Resolve(params []any) (val any, err error) {
	if v.Index < 0 {
		val = v.Literal
		return
	}
	if v.Index >= len(params) {
		err = fmt.Errorf("placeholder %v out of range, %v params given", v.text, len(params))
		return
	}
	val = params[v.Index]
	return
}

func quoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func parseNumber(text string) (any, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number [%v]", text)
	}
	return f, nil
}

// 读取一个值：占位符、字符串、数值、NULL、TRUE/FALSE、DEFAULT
func ReadValue(s *Statement) (v *Value, err error) {
	tok := s.Next()
	if tok == nil {
		err = fmt.Errorf("missing value at end of statement")
		return
	}
	v = &Value{Index: -1, text: tok.String()}
	switch {
	case tok.Kind == TokenKind_Placeholder:
		v.Index = tok.Index
	case tok.Kind == TokenKind_String:
		v.Literal = tok.Value
	case tok.Kind == TokenKind_Number:
		v.Literal, err = parseNumber(tok.Value)
	case tok.IsKeyword("NULL"):
	case tok.IsKeyword("TRUE"):
		v.Literal = true
	case tok.IsKeyword("FALSE"):
		v.Literal = false
	case tok.IsKeyword("DEFAULT"):
		v.Default = true
	case tok.IsOperator("-", "+"):
		num := s.Next()
		if num == nil || num.Kind != TokenKind_Number {
			err = fmt.Errorf("invalid value [%v%v]", tok.Value, num.String())
			return
		}
		v.text = tok.Value + num.Value
		v.Literal, err = parseNumber(v.text)
	default:
		err = fmt.Errorf("invalid value [%v]", tok.String())
	}
	if err != nil {
		v = nil
	}
	return
}

// 读取括号内逗号分隔的值列表
func ReadValueList(paren *Token) (values []*Value, err error) {
	if !paren.IsParenthesis() {
		err = fmt.Errorf("expected value list, got [%v]", paren.String())
		return
	}
	s := NewStatement(paren.Children)
	for !s.Done() {
		var v *Value
		v, err = ReadValue(s)
		if err != nil {
			return
		}
		values = append(values, v)
		if s.Done() {
			break
		}
		if tok := s.Next(); !tok.IsPunct(",") {
			err = fmt.Errorf("unexpected token [%v] in value list", tok.String())
			return
		}
	}
	return
}

func readAlias(s *Statement) (alias string, err error) {
	tok := s.Peek()
	switch {
	case tok.IsKeyword("AS"):
		s.Next()
		tok = s.Next()
		if tok == nil || (tok.Kind != TokenKind_Name && tok.Kind != TokenKind_String) {
			err = fmt.Errorf("invalid alias [%v]", tok.String())
			return
		}
		alias = tok.Value
	case tok.IsName():
		s.Next()
		alias = tok.Value
	}
	return
}

func readOrder(s *Statement) (order int) {
	if s.Peek().IsKeyword("ASC") {
		s.Next()
		order = Order_Asc
	} else if s.Peek().IsKeyword("DESC") {
		s.Next()
		order = Order_Desc
	}
	return
}

// 读取 name 或 parent.name，可选别名和排序方向
func ReadIdentifier(ctx Context, s *Statement, allowAlias bool) (id *Identifier, err error) {
	tok := s.Next()
	if !tok.IsName() {
		err = fmt.Errorf("expected identifier, got [%v]", tok.String())
		return
	}
	id = &Identifier{ctx: ctx, Name: tok.Value}
	if s.Peek().IsPunct(".") && s.PeekAt(1).IsName() {
		s.Skip(1)
		id.Parent = id.Name
		id.Name = s.Next().Value
	}
	if allowAlias {
		id.AsName, err = readAlias(s)
		if err != nil {
			return
		}
	}
	id.Order = readOrder(s)
	return
}

// 读取表引用并注册表别名
func ReadTable(ctx Context, s *Statement) (table *Identifier, err error) {
	table, err = ReadIdentifier(ctx, s, true)
	if err != nil {
		return
	}
	// schema.table 只取表名
	table.Parent = ""
	table.IsTable = true
	if table.AsName != "" && ctx != nil {
		err = ctx.Alias().Register(table.AsName, table)
	}
	return
}

func ReadFunc(ctx Context, s *Statement, allowAlias bool) (f *Func, err error) {
	nameTok := s.Next()
	paren := s.Next()
	if !nameTok.IsName() || !paren.IsParenthesis() {
		err = fmt.Errorf("invalid function call [%v%v]", nameTok.String(), paren.String())
		return
	}
	f = &Func{ctx: ctx, Name: strings.ToUpper(nameTok.Value)}
	inner := NewStatement(paren.Children)
	if inner.Peek().IsKeyword("DISTINCT") {
		inner.Next()
		f.Distinct = true
	}
	switch next := inner.Peek(); {
	case next.IsPunct("*"):
		inner.Next()
		f.Star = true
	case next != nil && next.Kind == TokenKind_Number && f.Name == "COUNT":
		// count(1)
		inner.Next()
		f.Star = true
	case next != nil:
		f.Arg, err = ReadIdentifier(ctx, inner, false)
		if err != nil {
			err = fmt.Errorf("unsupported argument of function [%v]: %w", f.Name, err)
			return
		}
	}
	if !inner.Done() {
		err = fmt.Errorf("unsupported argument [%v] of function [%v]", JoinTokens(paren.Children), f.Name)
		return
	}
	if allowAlias {
		f.AsName, err = readAlias(s)
	}
	return
}

// 读取SELECT/ORDER BY/GROUP BY中的单个元素
func ReadSQLToken(ctx Context, s *Statement, allowAlias bool) (tok SQLToken, err error) {
	next := s.Peek()
	switch {
	case next == nil:
		err = fmt.Errorf("unexpected end of statement")
	case next.IsName() && s.PeekAt(1).IsParenthesis():
		tok, err = ReadFunc(ctx, s, allowAlias)
	case next.IsName():
		tok, err = ReadIdentifier(ctx, s, allowAlias)
	case next.IsParenthesis():
		if next.IsSubquery() {
			err = fmt.Errorf("subquery [%v] is not supported here", next.String())
			return
		}
		s.Next()
		inner := NewStatement(next.Children)
		tok, err = readConst(ctx, inner, next.String())
		if err == nil && !inner.Done() {
			err = fmt.Errorf("unsupported expression [%v]", next.String())
		}
		if err == nil && allowAlias {
			tok.(*ConstIdentifier).AsName, err = readAlias(s)
		}
	case next.Kind == TokenKind_String, next.Kind == TokenKind_Number, next.Kind == TokenKind_Placeholder,
		next.IsKeyword("NULL", "TRUE", "FALSE"), next.IsOperator("-", "+"):
		tok, err = readConst(ctx, s, "")
		if err == nil && allowAlias {
			tok.(*ConstIdentifier).AsName, err = readAlias(s)
		}
	case next.IsPunct("*"):
		err = fmt.Errorf("wildcard column [*] is not supported")
	default:
		err = fmt.Errorf("unknown token [%v]", next.String())
	}
	return
}

func readConst(ctx Context, s *Statement, text string) (tok SQLToken, err error) {
	var v *Value
	v, err = ReadValue(s)
	if err != nil {
		return
	}
	var params []any
	if ctx != nil {
		params = ctx.Params()
	}
	c := &ConstIdentifier{text: text}
	if c.text == "" {
		c.text = v.String()
	}
	c.Value, err = v.Resolve(params)
	tok = c
	return
}

// 读取逗号分隔的元素列表，直到子句关键字或语句结束
func ReadTokenList(ctx Context, s *Statement, allowAlias bool) (tokens []SQLToken, err error) {
	for {
		var tok SQLToken
		tok, err = ReadSQLToken(ctx, s, allowAlias)
		if err != nil {
			return
		}
		tokens = append(tokens, tok)
		if !s.Peek().IsPunct(",") {
			break
		}
		s.Next()
	}
	if next := s.Peek(); next != nil && !IsClauseKeyword(next) {
		err = fmt.Errorf("unexpected token [%v] after [%v]", next.String(), tokens[len(tokens)-1].String())
	}
	return
}

// 读取 lhs op rhs，rhs为列时表示表关联条件
func ReadComparison(ctx Context, s *Statement) (cmp *Comparison, err error) {
	cmp = &Comparison{}
	cmp.Left, err = ReadSQLToken(ctx, s, false)
	if err != nil {
		return
	}
	op := s.Next()
	if !op.IsOperator(comparisonOperators...) {
		err = fmt.Errorf("expected comparison operator after [%v], got [%v]", cmp.Left.String(), op.String())
		return
	}
	cmp.Operator = op.Value
	if s.Peek().IsName() {
		cmp.Right, err = ReadIdentifier(ctx, s, false)
	} else {
		cmp.Right, err = ReadValue(s)
	}
	return
}

// 读取括号内的列名列表，如 ("a", "b" DESC)
func ReadColumnList(paren *Token) (cols []*Identifier, err error) {
	if !paren.IsParenthesis() {
		err = fmt.Errorf("expected column list, got [%v]", paren.String())
		return
	}
	for _, part := range SplitByComma(paren.Children) {
		s := NewStatement(part)
		var col *Identifier
		col, err = ReadIdentifier(nil, s, false)
		if err != nil {
			return
		}
		if !s.Done() {
			err = fmt.Errorf("unexpected token [%v] in column list", s.Peek().String())
			return
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		err = fmt.Errorf("empty column list")
	}
	return
}
