package converter

import (
	"fmt"
	"math"

	"github.com/pingcap/tidb/parser/opcode"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	Mongo_Stage_Lookup       = "$lookup"
	Mongo_Stage_Group        = "$group"
	Mongo_Stage_Replace_Root = "$replaceRoot"
	Mongo_Stage_Unwind       = "$unwind"
	Mongo_Stage_Match        = "$match"
	Mongo_Stage_Sort         = "$sort"
	Mongo_Stage_Skip         = "$skip"
	Mongo_Stage_Limit        = "$limit"
	Mongo_Stage_AddFields    = "$addFields"
	Mongo_Stage_Project      = "$project"

	Mongo_Operator_Gte      = "$gte"
	Mongo_Operator_Gt       = "$gt"
	Mongo_Operator_Lte      = "$lte"
	Mongo_Operator_Lt       = "$lt"
	Mongo_Operator_Eq       = "$eq"
	Mongo_Operator_Ne       = "$ne"
	Mongo_Operator_In       = "$in"
	Mongo_Operator_Nin      = "$nin"
	Mongo_Operator_Not      = "$not"
	Mongo_Operator_And      = "$and"
	Mongo_Operator_Or       = "$or"
	Mongo_Operator_Exists   = "$exists"
	Mongo_Operator_Expr     = "$expr"
	Mongo_Operator_Regex    = "$regex"
	Mongo_Operator_Options  = "$options"
	Mongo_Operator_Sum      = "$sum"
	Mongo_Operator_Cond     = "$cond"
	Mongo_Operator_IfNull   = "$ifNull"
	Mongo_Operator_Avg      = "$avg"
	Mongo_Operator_Min      = "$min"
	Mongo_Operator_Max      = "$max"
	Mongo_Operator_AddToSet = "$addToSet"
	Mongo_Operator_Size     = "$size"
	Mongo_Operator_Literal  = "$literal"
	Mongo_Operator_Map      = "$map"

	Mongo_Update_Set    = "$set"
	Mongo_Update_Unset  = "$unset"
	Mongo_Update_Inc    = "$inc"
	Mongo_Update_Push   = "$push"
	Mongo_Update_Each   = "$each"
	Mongo_Update_Rename = "$rename"

	Mongo_Arg_If       = "if"
	Mongo_Arg_Then     = "then"
	Mongo_Arg_Else     = "else"
	Mongo_Arg_Pipeline = "pipeline"
)

var (
	Mongo_Binary_Operator_Mapping = map[opcode.Op]string{
		opcode.GE:     Mongo_Operator_Gte,
		opcode.GT:     Mongo_Operator_Gt,
		opcode.LE:     Mongo_Operator_Lte,
		opcode.LT:     Mongo_Operator_Lt,
		opcode.EQ:     Mongo_Operator_Eq,
		opcode.NullEQ: Mongo_Operator_Eq,
		opcode.NE:     Mongo_Operator_Ne,
		opcode.Like:   Mongo_Operator_Regex,
	}

	SQL_Comparison_Opcode = map[string]opcode.Op{
		"=":   opcode.EQ,
		"<=>": opcode.NullEQ,
		"<>":  opcode.NE,
		"<":   opcode.LT,
		"<=":  opcode.LE,
		">":   opcode.GT,
		">=":  opcode.GE,
	}
)

// 在doc中按 table.col 写入嵌套文档
func setNested(doc bson.M, table, col string, val any) {
	sub, ok := doc[table].(bson.M)
	if !ok {
		sub = bson.M{}
		doc[table] = sub
	}
	sub[col] = val
}

// 参数是只有一个key的文档时，表示比较嵌套字段 field.key
func embeddedValue(val any) (key string, inner any, ok bool) {
	switch v := val.(type) {
	case map[string]any:
		if len(v) == 1 {
			for k, x := range v {
				return k, x, true
			}
		}
	case bson.M:
		if len(v) == 1 {
			for k, x := range v {
				return k, x, true
			}
		}
	case bson.D:
		if len(v) == 1 {
			return v[0].Key, v[0].Value, true
		}
	}
	return
}

// 整数参数，非整数的浮点数报错
func ToInt64(val any) (n int64, err error) {
	switch v := val.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			err = fmt.Errorf("expected integer, got [%v]", v)
			return
		}
		n = int64(v)
	default:
		err = fmt.Errorf("expected integer, got [%v] of type %T", val, val)
	}
	return
}
