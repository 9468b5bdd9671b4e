package memdb

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// BSON类型排序分组，跨分组比较时按分组顺序
const (
	typeClass_Null = iota + 1
	typeClass_Number
	typeClass_String
	typeClass_Document
	typeClass_Array
	typeClass_ObjectID
	typeClass_Bool
	typeClass_Date
	typeClass_Other
)

func typeClass(v any) int {
	switch v.(type) {
	case nil:
		return typeClass_Null
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64:
		return typeClass_Number
	case string:
		return typeClass_String
	case bson.M, map[string]any, bson.D:
		return typeClass_Document
	case bson.A, []any:
		return typeClass_Array
	case primitive.ObjectID:
		return typeClass_ObjectID
	case bool:
		return typeClass_Bool
	case time.Time, primitive.DateTime:
		return typeClass_Date
	}
	return typeClass_Other
}

func toFloat(v any) (f float64, ok bool) {
	ok = true
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		ok = false
	}
	return
}

func toInt64(v any) (n int64, err error) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		err = fmt.Errorf("expected integer, got [%v]", v)
		return
	}
	n = int64(f)
	return
}

func toMillis(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case primitive.DateTime:
		return int64(t)
	}
	return 0
}

// 文档视图，bson.D 转为 bson.M
func asDoc(v any) (doc bson.M, ok bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	case bson.D:
		doc = make(bson.M, len(d))
		for _, e := range d {
			doc[e.Key] = e.Value
		}
		return doc, true
	}
	return nil, false
}

func asArray(v any) (arr bson.A, ok bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []any:
		return bson.A(a), true
	}
	return nil, false
}

// 全序比较，用于排序和聚合表达式
func compareValues(a, b any) int {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case typeClass_Null:
		return 0
	case typeClass_Number:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return compareOrdered(fa, fb)
	case typeClass_String:
		return strings.Compare(a.(string), b.(string))
	case typeClass_Array:
		aa, _ := asArray(a)
		ab, _ := asArray(b)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := compareValues(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return compareOrdered(len(aa), len(ab))
	case typeClass_ObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(oa.Hex(), ob.Hex())
	case typeClass_Bool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case typeClass_Date:
		return compareOrdered(toMillis(a), toMillis(b))
	}
	return strings.Compare(canonicalKey(a), canonicalKey(b))
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equalValues(a, b any) bool {
	return typeClass(a) == typeClass(b) && canonicalKey(a) == canonicalKey(b)
}

// 值的规范化表示，数值不区分int32/int64/double，文档按key排序
func canonicalKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "s:" + strconv.Quote(t)
	case bool:
		return "b:" + strconv.FormatBool(t)
	case primitive.ObjectID:
		return "o:" + t.Hex()
	case time.Time, primitive.DateTime:
		return "d:" + strconv.FormatInt(toMillis(t), 10)
	}
	if f, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	if doc, ok := asDoc(v); ok {
		keys := maps.Keys(doc)
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strconv.Quote(k)+":"+canonicalKey(doc[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	if arr, ok := asArray(v); ok {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			parts = append(parts, canonicalKey(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// 按点分路径取值，数组元素为文档时收集各元素的值
func getPath(v any, path string) (val any, ok bool) {
	cur := v
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if doc, isDoc := asDoc(cur); isDoc {
			cur, ok = doc[part]
			if !ok {
				return nil, false
			}
			continue
		}
		arr, isArr := asArray(cur)
		if !isArr {
			return nil, false
		}
		if idx, err := strconv.Atoi(part); err == nil {
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		rest := strings.Join(parts[i:], ".")
		var collected bson.A
		for _, item := range arr {
			if x, found := getPath(item, rest); found {
				collected = append(collected, x)
			}
		}
		return collected, len(collected) > 0
	}
	return cur, true
}

func setPath(doc bson.M, path string, val any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(bson.M)
		if !ok {
			if d, isDoc := asDoc(cur[part]); isDoc {
				next = bson.M{}
				maps.Copy(next, d)
			} else {
				next = bson.M{}
			}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = val
}

func deletePath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(bson.M)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func copyValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return copyDoc(t)
	case map[string]any:
		return copyDoc(bson.M(t))
	case bson.D:
		d, _ := asDoc(t)
		return copyDoc(d)
	case bson.A:
		arr := make(bson.A, len(t))
		for i, item := range t {
			arr[i] = copyValue(item)
		}
		return arr
	case []any:
		return copyValue(bson.A(t))
	}
	return v
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

// 经过BSON编解码得到驱动返回的标准类型
func normalize(v any) (doc bson.M, err error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return
	}
	err = bson.Unmarshal(data, &doc)
	return
}
