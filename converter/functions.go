package converter

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/parser"
	"github.com/tsfans/sql2mongo/sqlerr"
)

const (
	SQLFunc_Count = "COUNT"
	SQLFunc_Sum   = "SUM"
	SQLFunc_Avg   = "AVG"
	SQLFunc_Min   = "MIN"
	SQLFunc_Max   = "MAX"
)

var sqlFuncAccumulator = map[string]string{
	SQLFunc_Sum: Mongo_Operator_Sum,
	SQLFunc_Avg: Mongo_Operator_Avg,
	SQLFunc_Min: Mongo_Operator_Min,
	SQLFunc_Max: Mongo_Operator_Max,
}

// 聚合函数在$group中的累加表达式
func FuncToGroup(f *parser.Func) (acc bson.M, err error) {
	switch f.Name {
	case SQLFunc_Count:
		if f.Star {
			acc = bson.M{Mongo_Operator_Sum: 1}
			return
		}
		field := "$" + f.Arg.Field()
		if f.Distinct {
			acc = bson.M{Mongo_Operator_AddToSet: field}
			return
		}
		// 只统计非空值
		acc = bson.M{Mongo_Operator_Sum: bson.M{Mongo_Operator_Cond: bson.M{
			Mongo_Arg_If:   bson.M{Mongo_Operator_Gt: bson.A{field, nil}},
			Mongo_Arg_Then: 1,
			Mongo_Arg_Else: 0,
		}}}
	case SQLFunc_Sum, SQLFunc_Avg, SQLFunc_Min, SQLFunc_Max:
		if f.Star || f.Arg == nil {
			err = sqlerr.NotSupported("function [%v]", f.String())
			return
		}
		if f.Distinct {
			err = sqlerr.NotSupported("DISTINCT in function [%v]", f.String())
			return
		}
		acc = bson.M{sqlFuncAccumulator[f.Name]: "$" + f.Arg.Field()}
	default:
		err = sqlerr.NotSupported("function [%v]", f.Name)
	}
	return
}

// 聚合函数在$group之后$project中的输出
func FuncToProject(f *parser.Func) any {
	if f.Name == SQLFunc_Count && f.Distinct {
		return bson.M{Mongo_Operator_Size: "$" + f.Alias()}
	}
	return true
}

// 没有任何输入行时隐式分组的输出，COUNT为0，其余为NULL
func FuncEmptyValue(f *parser.Func) any {
	if f.Name == SQLFunc_Count {
		return int32(0)
	}
	return nil
}
