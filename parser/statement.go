package parser

// 语句游标，支持前瞻、跳过和切片
// 每条语句只被解析一次，不可复用
type Statement struct {
	tokens []*Token
	// 下一个待读取token的位置
	pos int
}

func NewStatement(tokens []*Token) *Statement {
	return &Statement{tokens: tokens}
}

func (s *Statement) Next() (tok *Token) {
	if s.pos < len(s.tokens) {
		tok = s.tokens[s.pos]
	}
	if s.pos <= len(s.tokens) {
		s.pos++
	}
	return
}

func (s *Statement) Peek() *Token {
	return s.PeekAt(0)
}

func (s *Statement) PeekAt(n int) *Token {
	if i := s.pos + n; i >= 0 && i < len(s.tokens) {
		return s.tokens[i]
	}
	return nil
}

// 最近一次Next返回的token
func (s *Statement) Current() *Token {
	return s.PeekAt(-1)
}

// Current之前的token
func (s *Statement) Prev() *Token {
	return s.PeekAt(-2)
}

func (s *Statement) Skip(n int) {
	s.pos += n
	if s.pos > len(s.tokens) {
		s.pos = len(s.tokens)
	}
	if s.pos < 0 {
		s.pos = 0
	}
}

func (s *Statement) Done() bool {
	return s.pos >= len(s.tokens)
}

func (s *Statement) Len() int {
	return len(s.tokens)
}

func (s *Statement) Position() int {
	return s.pos
}

// 按绝对位置切片，返回新的游标
func (s *Statement) Slice(from, to int) *Statement {
	if from < 0 {
		from = 0
	}
	if to > len(s.tokens) {
		to = len(s.tokens)
	}
	if from > to {
		from = to
	}
	return NewStatement(s.tokens[from:to])
}

// 读取token直到stop返回true(不消费该token)，返回读取部分的游标
func (s *Statement) ReadUntil(stop func(*Token) bool) *Statement {
	start := s.pos
	for !s.Done() && !stop(s.Peek()) {
		s.pos++
	}
	return s.Slice(start, s.pos)
}

// 剩余全部token
func (s *Statement) Rest() *Statement {
	start := s.pos
	s.pos = len(s.tokens)
	return s.Slice(start, s.pos)
}

func (s *Statement) Tokens() []*Token {
	return s.tokens
}

func (s *Statement) String() string {
	return JoinTokens(s.tokens)
}

var clauseKeywords = map[string]bool{
	"FROM":             true,
	"WHERE":            true,
	"GROUP BY":         true,
	"HAVING":           true,
	"ORDER BY":         true,
	"LIMIT":            true,
	"OFFSET":           true,
	"JOIN":             true,
	"INNER JOIN":       true,
	"LEFT JOIN":        true,
	"LEFT OUTER JOIN":  true,
	"RIGHT JOIN":       true,
	"RIGHT OUTER JOIN": true,
	"CROSS JOIN":       true,
	"ON":               true,
	"SET":              true,
	"VALUES":           true,
	"UNION":            true,
	"RETURNING":        true,
}

// 子句起始关键字，作为子句边界
func IsClauseKeyword(tok *Token) bool {
	return tok.IsKeyword() && clauseKeywords[tok.Value]
}
