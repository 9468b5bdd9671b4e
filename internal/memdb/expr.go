package memdb

import (
	"fmt"
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// 聚合表达式求值，vars 为 $$name 变量
func evalExpr(expr any, doc bson.M, vars map[string]any) (any, error) {
	switch e := expr.(type) {
	case string:
		switch {
		case strings.HasPrefix(e, "$$"):
			name, rest, _ := strings.Cut(e[2:], ".")
			v, ok := vars[name]
			if !ok {
				return nil, fmt.Errorf("use of undefined variable [%v]", name)
			}
			if rest == "" {
				return v, nil
			}
			v, _ = getPath(v, rest)
			return v, nil
		case strings.HasPrefix(e, "$"):
			v, _ := getPath(doc, e[1:])
			return v, nil
		}
		return e, nil
	case bson.A, []any:
		arr, _ := asArray(e)
		out := make(bson.A, 0, len(arr))
		for _, item := range arr {
			v, err := evalExpr(item, doc, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	d, ok := asDoc(expr)
	if !ok {
		return expr, nil
	}
	if len(d) == 1 {
		for op, arg := range d {
			if strings.HasPrefix(op, "$") {
				return evalOperator(op, arg, doc, vars)
			}
		}
	}
	out := make(bson.M, len(d))
	for k, v := range d {
		if strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("unknown expression [%v]", k)
		}
		val, err := evalExpr(v, doc, vars)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

func evalArgs(op string, arg any, n int, doc bson.M, vars map[string]any) (args bson.A, err error) {
	list, ok := asArray(arg)
	if !ok {
		list = bson.A{arg}
	}
	if n > 0 && len(list) != n {
		err = fmt.Errorf("%v takes %v arguments, got %v", op, n, len(list))
		return
	}
	v, err := evalExpr(list, doc, vars)
	if err != nil {
		return
	}
	args = v.(bson.A)
	return
}

func evalOperator(op string, arg any, doc bson.M, vars map[string]any) (any, error) {
	switch op {
	case "$literal":
		return arg, nil
	case "$cond":
		var cond, then, otherwise any
		if spec, ok := asDoc(arg); ok {
			cond, then, otherwise = spec["if"], spec["then"], spec["else"]
		} else if list, ok := asArray(arg); ok && len(list) == 3 {
			cond, then, otherwise = list[0], list[1], list[2]
		} else {
			return nil, fmt.Errorf("invalid $cond [%v]", arg)
		}
		c, err := evalExpr(cond, doc, vars)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			return evalExpr(then, doc, vars)
		}
		return evalExpr(otherwise, doc, vars)
	case "$ifNull":
		args, err := evalArgs(op, arg, 0, doc, vars)
		if err != nil || len(args) == 0 {
			return nil, err
		}
		for _, v := range args[:len(args)-1] {
			if v != nil {
				return v, nil
			}
		}
		return args[len(args)-1], nil
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		args, err := evalArgs(op, arg, 2, doc, vars)
		if err != nil {
			return nil, err
		}
		c := compareValues(args[0], args[1])
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		}
		return c <= 0, nil
	case "$in":
		args, err := evalArgs(op, arg, 2, doc, vars)
		if err != nil {
			return nil, err
		}
		list, ok := asArray(args[1])
		if !ok {
			return nil, fmt.Errorf("$in requires an array as a second argument, found [%v]", args[1])
		}
		for _, item := range list {
			if equalValues(args[0], item) {
				return true, nil
			}
		}
		return false, nil
	case "$not":
		args, err := evalArgs(op, arg, 1, doc, vars)
		if err != nil {
			return nil, err
		}
		return !truthy(args[0]), nil
	case "$and", "$or":
		args, err := evalArgs(op, arg, 0, doc, vars)
		if err != nil {
			return nil, err
		}
		for _, v := range args {
			if truthy(v) == (op == "$or") {
				return op == "$or", nil
			}
		}
		return op == "$and", nil
	case "$size":
		args, err := evalArgs(op, arg, 1, doc, vars)
		if err != nil {
			return nil, err
		}
		list, ok := asArray(args[0])
		if !ok {
			return nil, fmt.Errorf("the argument to $size must be an array, found [%v]", args[0])
		}
		return int32(len(list)), nil
	case "$map":
		spec, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("invalid $map [%v]", arg)
		}
		input, err := evalExpr(spec["input"], doc, vars)
		if err != nil || input == nil {
			return nil, err
		}
		list, ok := asArray(input)
		if !ok {
			return nil, fmt.Errorf("input to $map must be an array, found [%v]", input)
		}
		name, _ := spec["as"].(string)
		if name == "" {
			name = "this"
		}
		scope := make(map[string]any, len(vars)+1)
		for k, v := range vars {
			scope[k] = v
		}
		out := make(bson.A, 0, len(list))
		for _, item := range list {
			scope[name] = item
			v, err := evalExpr(spec["in"], doc, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported expression operator [%v]", op)
}

// $group累加器
type accumulator interface {
	add(v any)
	result() any
}

func newAccumulator(op string) (accumulator, error) {
	switch op {
	case "$sum":
		return &sumAcc{}, nil
	case "$avg":
		return &avgAcc{}, nil
	case "$min":
		return &extremeAcc{sign: -1}, nil
	case "$max":
		return &extremeAcc{sign: 1}, nil
	case "$addToSet":
		return &addToSetAcc{seen: map[string]bool{}}, nil
	case "$first":
		return &firstAcc{}, nil
	case "$push":
		return &pushAcc{}, nil
	}
	return nil, fmt.Errorf("unknown group operator [%v]", op)
}

// 整数求和结果在int32范围内时返回int32
type sumAcc struct {
	ints     int64
	floats   float64
	isFloat  bool
	hasInt64 bool
}

func (a *sumAcc) add(v any) {
	switch n := v.(type) {
	case int64:
		a.hasInt64 = true
		a.ints += n
	case float32, float64:
		f, _ := toFloat(n)
		a.isFloat = true
		a.floats += f
	default:
		if f, ok := toFloat(v); ok {
			a.ints += int64(f)
		}
	}
}

func (a *sumAcc) result() any {
	if a.isFloat {
		return a.floats + float64(a.ints)
	}
	if !a.hasInt64 && a.ints >= math.MinInt32 && a.ints <= math.MaxInt32 {
		return int32(a.ints)
	}
	return a.ints
}

type avgAcc struct {
	sum float64
	n   int
}

func (a *avgAcc) add(v any) {
	if f, ok := toFloat(v); ok {
		a.sum += f
		a.n++
	}
}

func (a *avgAcc) result() any {
	if a.n == 0 {
		return nil
	}
	return a.sum / float64(a.n)
}

type extremeAcc struct {
	sign  int
	value any
	set   bool
}

func (a *extremeAcc) add(v any) {
	if v == nil {
		return
	}
	if !a.set || compareValues(v, a.value)*a.sign > 0 {
		a.value, a.set = v, true
	}
}

func (a *extremeAcc) result() any {
	return a.value
}

type addToSetAcc struct {
	seen   map[string]bool
	values bson.A
}

// 缺失的字段不计入
func (a *addToSetAcc) add(v any) {
	if v == nil {
		return
	}
	key := canonicalKey(v)
	if a.seen[key] {
		return
	}
	a.seen[key] = true
	a.values = append(a.values, v)
}

func (a *addToSetAcc) result() any {
	if a.values == nil {
		return bson.A{}
	}
	return a.values
}

type firstAcc struct {
	value any
	set   bool
}

func (a *firstAcc) add(v any) {
	if !a.set {
		a.value, a.set = v, true
	}
}

func (a *firstAcc) result() any {
	return a.value
}

type pushAcc struct {
	values bson.A
}

func (a *pushAcc) add(v any) {
	a.values = append(a.values, v)
}

func (a *pushAcc) result() any {
	if a.values == nil {
		return bson.A{}
	}
	return a.values
}
