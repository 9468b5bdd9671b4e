package memdb

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Match 判断文档是否满足find/$match查询条件
func Match(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc bson.M, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		list, ok := asArray(cond)
		if !ok {
			return false, fmt.Errorf("%v argument must be an array, got [%v]", key, cond)
		}
		for _, item := range list {
			sub, ok := asDoc(item)
			if !ok {
				return false, fmt.Errorf("%v entries must be documents, got [%v]", key, item)
			}
			matched, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			switch {
			case key == "$and" && !matched:
				return false, nil
			case key == "$or" && matched:
				return true, nil
			case key == "$nor" && matched:
				return false, nil
			}
		}
		return key != "$or", nil
	case "$expr":
		v, err := evalExpr(cond, doc, nil)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unknown top level operator [%v]", key)
	}
	val, exists := getPath(doc, key)
	return matchValue(val, exists, cond)
}

// 所有key都是$操作符的文档
func operatorDoc(cond any) (ops bson.M, ok bool) {
	ops, ok = asDoc(cond)
	if !ok || len(ops) == 0 {
		return nil, false
	}
	for k := range ops {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return
}

func matchValue(val any, exists bool, cond any) (bool, error) {
	if re, ok := cond.(primitive.Regex); ok {
		return matchRegex(val, re.Pattern, re.Options)
	}
	ops, ok := operatorDoc(cond)
	if !ok {
		return equalMatch(val, exists, cond), nil
	}
	for op, arg := range ops {
		matched, err := matchOperator(val, exists, op, arg, ops)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

// 数组字段与标量比较时任一元素相等即匹配，null匹配不存在的字段
func equalMatch(val any, exists bool, target any) bool {
	if target == nil {
		return !exists || val == nil
	}
	if equalValues(val, target) {
		return true
	}
	if arr, ok := asArray(val); ok {
		for _, item := range arr {
			if equalValues(item, target) {
				return true
			}
		}
	}
	return false
}

// 比较操作符只在同一类型分组内生效
func compareMatch(val any, exists bool, arg any, accept func(int) bool) bool {
	if !exists {
		return arg == nil && accept(0)
	}
	if typeClass(val) == typeClass(arg) && accept(compareValues(val, arg)) {
		return true
	}
	if arr, ok := asArray(val); ok {
		for _, item := range arr {
			if typeClass(item) == typeClass(arg) && accept(compareValues(item, arg)) {
				return true
			}
		}
	}
	return false
}

func matchOperator(val any, exists bool, op string, arg any, ops bson.M) (bool, error) {
	switch op {
	case "$eq":
		return equalMatch(val, exists, arg), nil
	case "$ne":
		return !equalMatch(val, exists, arg), nil
	case "$gt":
		return compareMatch(val, exists, arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return compareMatch(val, exists, arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return compareMatch(val, exists, arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return compareMatch(val, exists, arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		list, ok := asArray(arg)
		if !ok {
			return false, fmt.Errorf("%v needs an array, got [%v]", op, arg)
		}
		in := false
		for _, item := range list {
			if equalMatch(val, exists, item) {
				in = true
				break
			}
		}
		return in == (op == "$in"), nil
	case "$exists":
		return truthy(arg) == exists, nil
	case "$not":
		matched, err := matchValue(val, exists, arg)
		return !matched, err
	case "$regex":
		var options string
		if o, ok := ops["$options"].(string); ok {
			options = o
		}
		switch p := arg.(type) {
		case string:
			return matchRegex(val, p, options)
		case primitive.Regex:
			if options == "" {
				options = p.Options
			}
			return matchRegex(val, p.Pattern, options)
		}
		return false, fmt.Errorf("$regex needs a string, got [%v]", arg)
	case "$options":
		if _, ok := ops["$regex"]; !ok {
			return false, fmt.Errorf("$options needs a $regex")
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown operator [%v]", op)
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	var flags string
	for _, f := range options {
		if strings.ContainsRune("ims", f) {
			flags += string(f)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func matchRegex(val any, pattern, options string) (bool, error) {
	re, err := compileRegex(pattern, options)
	if err != nil {
		return false, err
	}
	if s, ok := val.(string); ok {
		return re.MatchString(s), nil
	}
	if arr, ok := asArray(val); ok {
		for _, item := range arr {
			if s, ok := item.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
	}
	return false, nil
}
