package memdb

import (
	"fmt"
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

func applyUpdate(doc bson.M, update bson.M) error {
	// 参数值统一为驱动的标准类型
	normalized, err := normalize(update)
	if err != nil {
		return err
	}
	for op, arg := range normalized {
		fields, ok := asDoc(arg)
		if !ok {
			return fmt.Errorf("modifier %v needs a document, got [%v]", op, arg)
		}
		for path, v := range fields {
			if err := applyModifier(doc, op, path, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyModifier(doc bson.M, op, path string, v any) error {
	switch op {
	case "$set":
		setPath(doc, path, copyValue(v))
	case "$unset":
		deletePath(doc, path)
	case "$inc":
		cur, found := getPath(doc, path)
		if !found || cur == nil {
			setPath(doc, path, v)
			return nil
		}
		sum, err := addNumbers(cur, v)
		if err != nil {
			return fmt.Errorf("cannot apply $inc to [%v]: %w", path, err)
		}
		setPath(doc, path, sum)
	case "$push":
		cur, found := getPath(doc, path)
		arr, ok := asArray(cur)
		if found && cur != nil && !ok {
			return fmt.Errorf("the field [%v] must be an array", path)
		}
		items := bson.A{v}
		if spec, ok := asDoc(v); ok {
			if each, ok := spec["$each"]; ok {
				if items, ok = asArray(each); !ok {
					return fmt.Errorf("the argument to $each in $push must be an array, got [%v]", each)
				}
			}
		}
		pushed := append(append(bson.A{}, arr...), copyValue(items).(bson.A)...)
		setPath(doc, path, pushed)
	case "$rename":
		to, ok := v.(string)
		if !ok {
			return fmt.Errorf("the 'to' field for $rename must be a string, got [%v]", v)
		}
		if cur, found := getPath(doc, path); found {
			deletePath(doc, path)
			setPath(doc, to, cur)
		}
	default:
		if !strings.HasPrefix(op, "$") {
			return fmt.Errorf("replacement documents are not supported, got [%v]", op)
		}
		return fmt.Errorf("unknown modifier [%v]", op)
	}
	return nil
}

func addNumbers(a, b any) (any, error) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, fmt.Errorf("non-numeric value [%v]", a)
	}
	_, floatA := a.(float64)
	_, floatB := b.(float64)
	if floatA || floatB {
		return fa + fb, nil
	}
	sum := int64(fa) + int64(fb)
	_, int64A := a.(int64)
	_, int64B := b.(int64)
	if !int64A && !int64B && sum >= math.MinInt32 && sum <= math.MaxInt32 {
		return int32(sum), nil
	}
	return sum, nil
}

// upsert时以查询条件中的等值字段作为新文档的初始内容
func upsertSeed(filter bson.M) bson.M {
	doc := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, isOp := operatorDoc(v); isOp {
			continue
		}
		setPath(doc, k, copyValue(v))
	}
	return doc
}
