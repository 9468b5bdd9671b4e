package parser

import (
	"fmt"
	"slices"
	"strings"
)

type TokenKind int

const (
	// 关键字，Value统一为大写，复合关键字以单个空格连接，如 ORDER BY
	TokenKind_Keyword TokenKind = 1
	// 标识符(表名、列名、别名、函数名)
	TokenKind_Name TokenKind = 2
	// 字符串常量
	TokenKind_String TokenKind = 3
	// 数值常量
	TokenKind_Number TokenKind = 4
	// 位置参数占位符
	TokenKind_Placeholder TokenKind = 5
	// 标点 , . ; * ( )
	TokenKind_Punct TokenKind = 6
	// 运算符 = < > <= >= <> + - / %
	TokenKind_Operator TokenKind = 7
	// 括号分组，内容在Children中
	TokenKind_Parenthesis TokenKind = 8
)

type Token struct {
	Kind  TokenKind
	Value string
	// 占位符对应的参数下标
	Index    int
	Children []*Token
}

func (t *Token) IsKeyword(values ...string) bool {
	if t == nil || t.Kind != TokenKind_Keyword {
		return false
	}
	return len(values) == 0 || slices.Contains(values, t.Value)
}

// 关键字或未加引号也可能出现的单词，如 ILIKE、AUTOINCREMENT、FLUSH
func (t *Token) IsWord(values ...string) bool {
	if t == nil || (t.Kind != TokenKind_Keyword && t.Kind != TokenKind_Name) {
		return false
	}
	return slices.Contains(values, strings.ToUpper(t.Value))
}

func (t *Token) IsPunct(value string) bool {
	return t != nil && t.Kind == TokenKind_Punct && t.Value == value
}

func (t *Token) IsOperator(values ...string) bool {
	if t == nil || t.Kind != TokenKind_Operator {
		return false
	}
	return len(values) == 0 || slices.Contains(values, t.Value)
}

func (t *Token) IsName() bool {
	return t != nil && t.Kind == TokenKind_Name
}

func (t *Token) IsParenthesis() bool {
	return t != nil && t.Kind == TokenKind_Parenthesis
}

// 括号内是否为子查询
func (t *Token) IsSubquery() bool {
	return t.IsParenthesis() && len(t.Children) > 0 && t.Children[0].IsKeyword("SELECT")
}

func (t *Token) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TokenKind_Name:
		return `"` + strings.ReplaceAll(t.Value, `"`, `""`) + `"`
	case TokenKind_String:
		return "'" + strings.ReplaceAll(t.Value, "'", "''") + "'"
	case TokenKind_Placeholder:
		return fmt.Sprintf("%%(%d)s", t.Index)
	case TokenKind_Parenthesis:
		return "(" + JoinTokens(t.Children) + ")"
	default:
		return t.Value
	}
}

// 还原为SQL文本，用于错误信息和别名
func JoinTokens(tokens []*Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && !tok.IsPunct(",") && !tok.IsPunct(".") && !tokens[i-1].IsPunct(".") {
			b.WriteByte(' ')
		}
		b.WriteString(tok.String())
	}
	return b.String()
}

// 按顶层逗号切分
func SplitByComma(tokens []*Token) (parts [][]*Token) {
	var cur []*Token
	for _, tok := range tokens {
		if tok.IsPunct(",") {
			parts = append(parts, cur)
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 || len(parts) > 0 {
		parts = append(parts, cur)
	}
	return
}
