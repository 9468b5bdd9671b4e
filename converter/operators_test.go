package converter

import (
	"errors"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tsfans/sql2mongo/internal/memdb"
	"github.com/tsfans/sql2mongo/sqlerr"
)

func parseWhere(t *testing.T, sql string, params ...any) (filter bson.M, err error) {
	t.Helper()
	q := newTestQuery("t1", params...)
	op, err := NewWhereOp(q, statementOf(t, sql))
	if err != nil {
		return
	}
	return op.ToMongo()
}

var WHERE_CASES = []struct {
	sql      string
	params   []any
	expected bson.M
}{
	{
		sql:      `"a" = %s`,
		params:   []any{1},
		expected: bson.M{"a": bson.M{"$eq": 1}},
	},
	{
		sql:      `"a" <> %s`,
		params:   []any{1},
		expected: bson.M{"a": bson.M{"$ne": 1}},
	},
	{
		sql:    `"a" = %s AND "b" > %s AND "c" <= %s`,
		params: []any{1, 2, 3},
		expected: bson.M{"$and": bson.A{
			bson.M{"a": bson.M{"$eq": 1}},
			bson.M{"b": bson.M{"$gt": 2}},
			bson.M{"c": bson.M{"$lte": 3}},
		}},
	},
	{
		sql:    `"a" = %s OR "b" = %s AND "c" = %s`,
		params: []any{1, 2, 3},
		expected: bson.M{"$or": bson.A{
			bson.M{"a": bson.M{"$eq": 1}},
			bson.M{"$and": bson.A{bson.M{"b": bson.M{"$eq": 2}}, bson.M{"c": bson.M{"$eq": 3}}}},
		}},
	},
	{
		sql:    `("a" = %s OR "b" = %s) AND "c" = %s`,
		params: []any{1, 2, 3},
		expected: bson.M{"$and": bson.A{
			bson.M{"$or": bson.A{bson.M{"a": bson.M{"$eq": 1}}, bson.M{"b": bson.M{"$eq": 2}}}},
			bson.M{"c": bson.M{"$eq": 3}},
		}},
	},
	{
		sql:    `NOT ("a" = %s AND "b" = %s)`,
		params: []any{1, 2},
		expected: bson.M{"$or": bson.A{
			bson.M{"a": bson.M{"$not": bson.M{"$eq": 1}}},
			bson.M{"b": bson.M{"$not": bson.M{"$eq": 2}}},
		}},
	},
	{
		// 只翻转括号内的直接成员，嵌套括号保持原样
		sql:    `NOT ("a" = %s AND ("b" = %s OR "c" = %s))`,
		params: []any{1, 2, 3},
		expected: bson.M{"$or": bson.A{
			bson.M{"a": bson.M{"$not": bson.M{"$eq": 1}}},
			bson.M{"$or": bson.A{bson.M{"b": bson.M{"$eq": 2}}, bson.M{"c": bson.M{"$eq": 3}}}},
		}},
	},
	{
		sql:      `NOT (NOT ("a" > %s))`,
		params:   []any{1},
		expected: bson.M{"a": bson.M{"$gt": 1}},
	},
	{
		sql:      `"a" IN (%s, %s)`,
		params:   []any{1, 2},
		expected: bson.M{"a": bson.M{"$in": bson.A{1, 2}}},
	},
	{
		sql:      `"a" NOT IN (%s, %s)`,
		params:   []any{1, 2},
		expected: bson.M{"a": bson.M{"$nin": bson.A{1, 2}}},
	},
	{
		sql:      `NOT "a" IN (%s)`,
		params:   []any{1},
		expected: bson.M{"a": bson.M{"$nin": bson.A{1}}},
	},
	{
		sql:      `"name" LIKE %s`,
		params:   []any{"ab%"},
		expected: bson.M{"name": bson.M{"$regex": "^ab.*$"}},
	},
	{
		sql:      `"name" ILIKE %s`,
		params:   []any{"%ab_"},
		expected: bson.M{"name": bson.M{"$regex": "^.*ab.$", "$options": "im"}},
	},
	{
		sql:      `"name" NOT LIKE %s`,
		params:   []any{"a.b"},
		expected: bson.M{"name": bson.M{"$not": primitive.Regex{Pattern: `^a\.b$`}}},
	},
	{
		sql:      `"a" BETWEEN %s AND %s`,
		params:   []any{1, 5},
		expected: bson.M{"a": bson.M{"$gte": 1, "$lte": 5}},
	},
	{
		sql:      `"a" NOT BETWEEN %s AND %s`,
		params:   []any{1, 5},
		expected: bson.M{"a": bson.M{"$not": bson.M{"$gte": 1, "$lte": 5}}},
	},
	{
		sql:    `"a" BETWEEN %s AND %s AND "b" IS NULL`,
		params: []any{1, 5},
		expected: bson.M{"$and": bson.A{
			bson.M{"a": bson.M{"$gte": 1, "$lte": 5}},
			bson.M{"b": nil},
		}},
	},
	{
		sql:      `"a" IS NOT NULL`,
		expected: bson.M{"a": bson.M{"$ne": nil}},
	},
	{
		sql:      `NOT ("a" IS NULL)`,
		expected: bson.M{"a": bson.M{"$ne": nil}},
	},
	{
		sql:      `"data" = %s`,
		params:   []any{bson.M{"key": "v"}},
		expected: bson.M{"data.key": bson.M{"$eq": "v"}},
	},
	{
		sql:      `"t2"."title" = %s`,
		params:   []any{"x"},
		expected: bson.M{"t2.title": bson.M{"$eq": "x"}},
	},
	{
		sql:      `"a" = 'x' OR "a" = 'y' OR "a" = 'z'`,
		expected: bson.M{"$or": bson.A{bson.M{"a": bson.M{"$eq": "x"}}, bson.M{"a": bson.M{"$eq": "y"}}, bson.M{"a": bson.M{"$eq": "z"}}}},
	},
	{
		sql:      `COUNT("id") > %s`,
		params:   []any{1},
		expected: bson.M{"COUNT(id)": bson.M{"$gt": 1}},
	},
}

func TestWhereToMongo(t *testing.T) {
	for _, c := range WHERE_CASES {
		filter, err := parseWhere(t, c.sql, c.params...)
		if err != nil {
			t.Errorf("parse failed,sql=%v,err=%v", c.sql, err.Error())
			continue
		}
		if !reflect.DeepEqual(filter, c.expected) {
			t.Errorf("sql=%v\nfilter=%v\nexpected=%v", c.sql, filter, c.expected)
		}
	}
}

func TestWhereNestedIn(t *testing.T) {
	filter, err := parseWhere(t, `"a" IN (SELECT "id" FROM "t2")`)
	if err != nil {
		t.Fatalf("parse failed,err=%v", err)
	}
	expected := bson.M{"$expr": bson.M{"$in": bson.A{"$a", "$_nested_in_0"}}}
	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("filter=%v, expected=%v", filter, expected)
	}
	filter, err = parseWhere(t, `"a" NOT IN (SELECT "id" FROM "t2")`)
	if err != nil {
		t.Fatalf("parse failed,err=%v", err)
	}
	expected = bson.M{"$expr": bson.M{"$not": bson.A{bson.M{"$in": bson.A{"$a", "$_nested_in_0"}}}}}
	if !reflect.DeepEqual(filter, expected) {
		t.Errorf("filter=%v, expected=%v", filter, expected)
	}
}

func TestHavingRegistersAggregate(t *testing.T) {
	q := newTestQuery("t1", 2)
	if _, err := NewWhereOp(q, statementOf(t, `SUM("price") > %s`)); err != nil {
		t.Fatalf("parse failed,err=%v", err)
	}
	if len(q.extra) != 1 || q.extra[0].Alias() != "SUM(price)" {
		t.Errorf("aggregate not registered, extra=%v", q.extra)
	}
}

var WHERE_ERRORS = []string{
	`"a" = %s AND`,
	`AND "a" = %s`,
	`"a" = %s "b" = %s`,
	`NOT NOT "a" = %s`,
	`"a" BETWEEN %s`,
	`"a" IS %s`,
	`"a"`,
	`IN (%s)`,
	``,
}

func TestWhereErrors(t *testing.T) {
	for _, sql := range WHERE_ERRORS {
		if _, err := parseWhere(t, sql, 1, 2); err == nil {
			t.Errorf("expected error,sql=%v", sql)
		}
	}
	_, err := parseWhere(t, `"t1"."a" = "t2"."b"`)
	var notSupported *sqlerr.NotSupportedError
	if !errors.As(err, &notSupported) {
		t.Errorf("join using WHERE should not be supported, err=%v", err)
	}
	if _, err = parseWhere(t, `"a" LIKE %s`, 1); err == nil {
		t.Errorf("non-string LIKE pattern should fail")
	}
}

func TestLikeToRegex(t *testing.T) {
	cases := map[string]string{
		"abc":     "^abc$",
		"a%b_c":   "^a.*b.c$",
		`50\%`:    "^50%$",
		`a\_b`:    "^a_b$",
		"a.b(c)":  `^a\.b\(c\)$`,
		"%":       "^.*$",
		"":        "^$",
		`x\\y`:    `^x\\y$`,
	}
	for pattern, expected := range cases {
		if regex := LikeToRegex(pattern); regex != expected {
			t.Errorf("pattern=%v, regex=%v, expected=%v", pattern, regex, expected)
		}
	}
}

// 生成的过滤条件在文档上求值，检查与SQL布尔语义一致
func sampleDocs() (docs []bson.M) {
	for a := int32(0); a < 3; a++ {
		for b := int32(0); b < 3; b++ {
			for c := int32(0); c < 3; c++ {
				docs = append(docs, bson.M{"a": a, "b": b, "c": c, "name": []string{"ab", "Abc", "xyz"}[c]})
			}
		}
	}
	return
}

var TRUTH_CASES = []struct {
	sql    string
	params []any
	eval   func(a, b, c int32, name string) bool
}{
	{
		sql:    `NOT ("a" = %s AND "b" = %s)`,
		params: []any{1, 2},
		eval:   func(a, b, c int32, name string) bool { return !(a == 1 && b == 2) },
	},
	{
		sql:    `NOT ("a" = %s OR "b" > %s)`,
		params: []any{1, 0},
		eval:   func(a, b, c int32, name string) bool { return !(a == 1 || b > 0) },
	},
	{
		sql:    `NOT (NOT ("a" >= %s))`,
		params: []any{1},
		eval:   func(a, b, c int32, name string) bool { return a >= 1 },
	},
	{
		sql:    `"a" = %s OR "b" = %s AND "c" = %s`,
		params: []any{0, 1, 2},
		eval:   func(a, b, c int32, name string) bool { return a == 0 || (b == 1 && c == 2) },
	},
	{
		sql:    `NOT "a" IN (%s, %s) AND "c" NOT BETWEEN %s AND %s`,
		params: []any{0, 2, 1, 1},
		eval:   func(a, b, c int32, name string) bool { return a != 0 && a != 2 && (c < 1 || c > 1) },
	},
	{
		sql:    `"name" ILIKE %s OR NOT ("a" < %s)`,
		params: []any{"a%", 2},
		eval: func(a, b, c int32, name string) bool {
			return name == "ab" || name == "Abc" || a >= 2
		},
	},
	{
		sql:    `"name" NOT LIKE %s`,
		params: []any{"_b%"},
		eval:   func(a, b, c int32, name string) bool { return name == "xyz" },
	},
}

func TestWhereTruth(t *testing.T) {
	for _, c := range TRUTH_CASES {
		filter, err := parseWhere(t, c.sql, c.params...)
		if err != nil {
			t.Errorf("parse failed,sql=%v,err=%v", c.sql, err)
			continue
		}
		for _, doc := range sampleDocs() {
			matched, err := memdb.Match(doc, filter)
			if err != nil {
				t.Fatalf("match failed,filter=%v,err=%v", filter, err)
			}
			expected := c.eval(doc["a"].(int32), doc["b"].(int32), doc["c"].(int32), doc["name"].(string))
			if matched != expected {
				t.Errorf("sql=%v, doc=%v, matched=%v, expected=%v", c.sql, doc, matched, expected)
			}
		}
	}
}

func TestDoubleNegation(t *testing.T) {
	sqls := []string{`"a" > %s`, `"a" IN (%s, 2)`, `"name" LIKE %s`, `"a" BETWEEN %s AND 2`, `"b" IS NULL`}
	for _, sql := range sqls {
		q := newTestQuery("t1", 1)
		if sql == `"name" LIKE %s` {
			q.params = []any{"a%"}
		}
		op, err := NewWhereOp(q, statementOf(t, sql))
		if err != nil {
			t.Fatalf("parse failed,sql=%v,err=%v", sql, err)
		}
		before, _ := op.ToMongo()
		root := op.expr.root
		if err = root.Negate(); err != nil {
			t.Fatalf("negate failed,err=%v", err)
		}
		negated, _ := op.ToMongo()
		if reflect.DeepEqual(before, negated) {
			t.Errorf("negation did not change filter,sql=%v", sql)
		}
		_ = root.Negate()
		after, _ := op.ToMongo()
		if !reflect.DeepEqual(before, after) {
			t.Errorf("double negation changed filter,sql=%v,before=%v,after=%v", sql, before, after)
		}
	}
}
