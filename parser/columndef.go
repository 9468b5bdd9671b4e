package parser

import (
	"fmt"
	"strings"
)

const (
	ColumnConstraint_Not_Null      = "NOT NULL"
	ColumnConstraint_Null          = "NULL"
	ColumnConstraint_Primary_Key   = "PRIMARY KEY"
	ColumnConstraint_Unique        = "UNIQUE"
	ColumnConstraint_Autoincrement = "AUTOINCREMENT"

	TableConstraint_Primary_Key = "PRIMARY KEY"
	TableConstraint_Unique      = "UNIQUE"
	TableConstraint_Foreign_Key = "FOREIGN KEY"
	TableConstraint_Check       = "CHECK"
	TableConstraint_Index       = "INDEX"
)

// 列定义 "name" type [constraints...]
type ColumnDef struct {
	Name        string
	DataType    string
	Constraints map[string]bool
	Default     *Value
	// 接受但不生效的定义，如 REFERENCES、CHECK
	Ignored []string
}

func (c *ColumnDef) Has(constraint string) bool {
	return c.Constraints[constraint]
}

// 表级约束 [CONSTRAINT name] PRIMARY KEY|UNIQUE|FOREIGN KEY|CHECK|INDEX (cols)
type TableConstraint struct {
	Name    string
	Kind    string
	Columns []*Identifier
}

// 解析CREATE TABLE括号内的定义列表
func ParseColumnDefs(paren *Token) (cols []*ColumnDef, constraints []*TableConstraint, err error) {
	if !paren.IsParenthesis() {
		err = fmt.Errorf("expected column definitions, got [%v]", paren.String())
		return
	}
	for _, part := range SplitByComma(paren.Children) {
		s := NewStatement(part)
		if IsTableConstraint(s.Peek()) {
			var constraint *TableConstraint
			constraint, err = ReadTableConstraint(s)
			if err != nil {
				return
			}
			constraints = append(constraints, constraint)
			continue
		}
		var col *ColumnDef
		col, err = ReadColumnDef(s)
		if err != nil {
			return
		}
		cols = append(cols, col)
	}
	return
}

func IsTableConstraint(tok *Token) bool {
	return tok.IsKeyword("CONSTRAINT", "PRIMARY KEY", "UNIQUE", "FOREIGN KEY", "CHECK", "INDEX", "KEY")
}

func ReadColumnDef(s *Statement) (col *ColumnDef, err error) {
	nameTok := s.Next()
	if !nameTok.IsName() {
		err = fmt.Errorf("expected column name, got [%v]", nameTok.String())
		return
	}
	typeTok := s.Next()
	if typeTok == nil || (typeTok.Kind != TokenKind_Keyword && typeTok.Kind != TokenKind_Name) {
		err = fmt.Errorf("missing data type of column [%v]", nameTok.Value)
		return
	}
	col = &ColumnDef{
		Name:        nameTok.Value,
		DataType:    strings.ToLower(typeTok.Value),
		Constraints: map[string]bool{},
	}
	// varchar(20)、decimal(10, 2)
	if s.Peek().IsParenthesis() {
		s.Next()
	}
	err = readColumnConstraints(s, col)
	return
}

func readColumnConstraints(s *Statement, col *ColumnDef) (err error) {
	for !s.Done() {
		tok := s.Next()
		switch {
		case tok.IsKeyword(ColumnConstraint_Not_Null):
			col.Constraints[ColumnConstraint_Not_Null] = true
		case tok.IsKeyword("NULL"):
			col.Constraints[ColumnConstraint_Null] = true
		case tok.IsKeyword(ColumnConstraint_Primary_Key):
			col.Constraints[ColumnConstraint_Primary_Key] = true
		case tok.IsKeyword(ColumnConstraint_Unique):
			col.Constraints[ColumnConstraint_Unique] = true
		case tok.IsWord("AUTOINCREMENT", "AUTO_INCREMENT"):
			col.Constraints[ColumnConstraint_Autoincrement] = true
		case tok.IsKeyword("DEFAULT"):
			col.Default, err = ReadValue(s)
			if err != nil {
				return
			}
		case tok.IsKeyword("CHECK"):
			s.Next()
			col.Ignored = append(col.Ignored, "CHECK")
		case tok.IsKeyword("REFERENCES"):
			// REFERENCES "t" ("id") [ON DELETE ...] [DEFERRABLE INITIALLY DEFERRED]
			s.Rest()
			col.Ignored = append(col.Ignored, "REFERENCES")
		case tok.IsWord("COLLATE"):
			s.Next()
			col.Ignored = append(col.Ignored, "COLLATE")
		default:
			err = fmt.Errorf("unsupported constraint [%v] of column [%v]", tok.String(), col.Name)
			return
		}
	}
	return
}

func ReadTableConstraint(s *Statement) (constraint *TableConstraint, err error) {
	constraint = &TableConstraint{}
	if s.Peek().IsKeyword("CONSTRAINT") {
		s.Next()
		nameTok := s.Next()
		if !nameTok.IsName() {
			err = fmt.Errorf("expected constraint name, got [%v]", nameTok.String())
			return
		}
		constraint.Name = nameTok.Value
	}
	tok := s.Next()
	switch {
	case tok.IsKeyword(TableConstraint_Primary_Key, TableConstraint_Unique, TableConstraint_Foreign_Key, TableConstraint_Check):
		constraint.Kind = tok.Value
	case tok.IsKeyword("INDEX", "KEY"):
		constraint.Kind = TableConstraint_Index
	default:
		err = fmt.Errorf("unsupported table constraint [%v]", tok.String())
		return
	}
	// UNIQUE KEY/INDEX name (cols)
	if constraint.Kind == TableConstraint_Unique && s.Peek().IsKeyword("KEY", "INDEX") {
		s.Next()
	}
	if s.Peek().IsName() {
		constraint.Name = s.Next().Value
	}
	cols := s.Next()
	if constraint.Kind == TableConstraint_Check {
		// 条件表达式不解析
		s.Rest()
		return
	}
	constraint.Columns, err = ReadColumnList(cols)
	if err != nil {
		return
	}
	// FOREIGN KEY 的 REFERENCES 部分以及 DEFERRABLE 等修饰不生效
	s.Rest()
	return
}
