package parser

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/xwb1989/sqlparser"
)

var (
	// 复合关键字，按顺序最长匹配
	compoundKeywords = [][]string{
		{"LEFT", "OUTER", "JOIN"},
		{"RIGHT", "OUTER", "JOIN"},
		{"IF", "NOT", "EXISTS"},
		{"INNER", "JOIN"},
		{"LEFT", "JOIN"},
		{"RIGHT", "JOIN"},
		{"CROSS", "JOIN"},
		{"ORDER", "BY"},
		{"GROUP", "BY"},
		{"NOT", "NULL"},
		{"PRIMARY", "KEY"},
		{"FOREIGN", "KEY"},
		{"IF", "EXISTS"},
	}

	operatorTokens = map[int]string{
		sqlparser.LE:              "<=",
		sqlparser.GE:              ">=",
		sqlparser.NE:              "<>",
		sqlparser.NULL_SAFE_EQUAL: "<=>",
	}
)

// 将SQL中的双引号标识符改写为反引号，%s占位符按出现顺序改写为:pN，%%还原为%
// 单引号字符串内的内容保持不变
func Rewrite(sql string) (rewritten string, placeholders int) {
	var b strings.Builder
	b.Grow(len(sql) + 8)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case '\'', '`':
			end := skipQuoted(sql, i)
			b.WriteString(sql[i:end])
			i = end - 1
		case '"':
			b.WriteByte('`')
			j := i + 1
			for ; j < len(sql); j++ {
				if sql[j] == '"' {
					if j+1 < len(sql) && sql[j+1] == '"' {
						b.WriteByte('"')
						j++
						continue
					}
					break
				}
				if sql[j] == '`' {
					b.WriteString("``")
					continue
				}
				b.WriteByte(sql[j])
			}
			b.WriteByte('`')
			i = j
		case '%':
			if i+1 < len(sql) && sql[i+1] == 's' {
				fmt.Fprintf(&b, ":p%d", placeholders)
				placeholders++
				i++
			} else if i+1 < len(sql) && sql[i+1] == '%' {
				b.WriteByte('%')
				i++
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	rewritten = b.String()
	return
}

// 返回引号结束后的位置，支持重复引号和反斜杠转义
func skipQuoted(sql string, start int) int {
	quote := sql[start]
	for i := start + 1; i < len(sql); i++ {
		switch sql[i] {
		case '\\':
			if quote == '\'' {
				i++
			}
		case quote:
			if i+1 < len(sql) && sql[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return len(sql)
}

// 词法分析，返回按括号分组后的token树
// 输入应为Rewrite之后的SQL
func Tokenize(sql string) (tokens []*Token, err error) {
	var flat []*Token
	flat, err = scan(sql)
	if err != nil {
		return
	}
	flat = mergeKeywords(flat)
	tokens, err = groupParenthesis(flat)
	return
}

func scan(sql string) (tokens []*Token, err error) {
	tkn := sqlparser.NewStringTokenizer(sql)
	for {
		typ, val := tkn.Scan()
		switch typ {
		case 0:
			return
		case sqlparser.LEX_ERROR:
			err = fmt.Errorf("invalid token near [%v] at position %v", string(val), tkn.Position)
			return
		case sqlparser.COMMENT:
			continue
		case sqlparser.ID:
			tokens = append(tokens, &Token{Kind: TokenKind_Name, Value: string(val)})
		case sqlparser.STRING:
			tokens = append(tokens, &Token{Kind: TokenKind_String, Value: string(val)})
		case sqlparser.INTEGRAL, sqlparser.FLOAT:
			tokens = append(tokens, &Token{Kind: TokenKind_Number, Value: string(val)})
		case sqlparser.VALUE_ARG:
			var index int
			index, err = placeholderIndex(string(val))
			if err != nil {
				return
			}
			tokens = append(tokens, &Token{Kind: TokenKind_Placeholder, Value: string(val), Index: index})
		case sqlparser.AND:
			tokens = append(tokens, &Token{Kind: TokenKind_Keyword, Value: "AND"})
		case sqlparser.OR:
			tokens = append(tokens, &Token{Kind: TokenKind_Keyword, Value: "OR"})
		default:
			if op, ok := operatorTokens[typ]; ok {
				tokens = append(tokens, &Token{Kind: TokenKind_Operator, Value: op})
				continue
			}
			if typ < 256 {
				ch := string(rune(typ))
				switch ch {
				case ",", ".", ";", "*", "(", ")":
					tokens = append(tokens, &Token{Kind: TokenKind_Punct, Value: ch})
				default:
					tokens = append(tokens, &Token{Kind: TokenKind_Operator, Value: ch})
				}
				continue
			}
			if len(val) == 0 {
				err = fmt.Errorf("unsupported token type [%v] at position %v", typ, tkn.Position)
				return
			}
			tokens = append(tokens, &Token{Kind: TokenKind_Keyword, Value: strings.ToUpper(string(val))})
		}
	}
}

// :pN 为%s改写结果，:vN 为tokenizer对?的编号(从1开始)
func placeholderIndex(val string) (index int, err error) {
	if len(val) < 3 || (val[1] != 'p' && val[1] != 'v') {
		err = fmt.Errorf("named placeholder [%v] is not supported", val)
		return
	}
	index, err = strconv.Atoi(val[2:])
	if err != nil {
		err = fmt.Errorf("invalid placeholder [%v]", val)
		return
	}
	if val[1] == 'v' {
		index--
	}
	return
}

func mergeKeywords(tokens []*Token) (merged []*Token) {
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == TokenKind_Keyword {
			if words := matchCompound(tokens[i:]); words != nil {
				merged = append(merged, &Token{Kind: TokenKind_Keyword, Value: strings.Join(words, " ")})
				i += len(words) - 1
				continue
			}
		}
		merged = append(merged, tok)
	}
	return
}

func matchCompound(tokens []*Token) []string {
	for _, words := range compoundKeywords {
		if len(tokens) < len(words) {
			continue
		}
		ok := true
		for i, w := range words {
			if !tokens[i].IsKeyword(w) {
				ok = false
				break
			}
		}
		if ok {
			return words
		}
	}
	return nil
}

func groupParenthesis(flat []*Token) (tokens []*Token, err error) {
	stack := [][]*Token{nil}
	for _, tok := range flat {
		switch {
		case tok.IsPunct("("):
			stack = append(stack, []*Token{})
		case tok.IsPunct(")"):
			if len(stack) == 1 {
				err = fmt.Errorf("unbalanced parenthesis, unexpected [)]")
				return
			}
			children := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			top := len(stack) - 1
			stack[top] = append(stack[top], &Token{Kind: TokenKind_Parenthesis, Children: children})
		default:
			top := len(stack) - 1
			stack[top] = append(stack[top], tok)
		}
	}
	if len(stack) != 1 {
		err = fmt.Errorf("unbalanced parenthesis, missing [)]")
		return
	}
	tokens = stack[0]
	return
}

// 按顶层分号切分为多条语句，忽略空语句
func SplitStatements(tokens []*Token) (statements [][]*Token) {
	var cur []*Token
	for _, tok := range tokens {
		if tok.IsPunct(";") {
			if len(cur) > 0 {
				statements = append(statements, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		statements = append(statements, cur)
	}
	return
}

// 已分词SQL的缓存，ORM会反复执行相同的SQL文本
// token树只读，可在多个查询之间共享
type Cache struct {
	lru *lru.Cache[string, []*Token]
}

func NewCache(size int) (cache *Cache, err error) {
	var c *lru.Cache[string, []*Token]
	c, err = lru.New[string, []*Token](size)
	if err != nil {
		return
	}
	cache = &Cache{lru: c}
	return
}

// nil Cache 直接分词
func (c *Cache) Tokenize(sql string) (tokens []*Token, err error) {
	if c == nil {
		return Tokenize(sql)
	}
	if cached, ok := c.lru.Get(sql); ok {
		tokens = cached
		return
	}
	tokens, err = Tokenize(sql)
	if err != nil {
		return
	}
	if evicted := c.lru.Add(sql, tokens); evicted {
		log.Debugf("statement cache full, evicted oldest entry, size=%v", c.lru.Len())
	}
	return
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
