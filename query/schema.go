package query

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/converter"
)

const (
	// 每张表一个文档 {name, fields: {col: {type_code}}, auto: {seq, field_names}}
	Schema_Collection = "__schema__"
	// 主键索引固定名称
	Primary_Key_Index = "__primary_key__"

	schema_Name         = "name"
	schema_Fields       = "fields"
	schema_Type_Code    = "type_code"
	schema_Auto         = "auto"
	schema_Auto_Seq     = "auto.seq"
	schema_Auto_Fields  = "auto.field_names"
	schema_Field_Prefix = "fields."
)

// 首次使用时创建__schema__及其索引
func ensureSchema(ctx context.Context, conn *client.Connection) (err error) {
	props := conn.Properties()
	if props.IsCached(Schema_Collection) {
		return
	}
	db := conn.Database()
	if err = db.CreateCollection(ctx, Schema_Collection); err != nil && !errors.Is(err, client.ErrCollectionExists) {
		return
	}
	schema := db.Collection(Schema_Collection)
	if err = schema.CreateIndex(ctx, bson.D{{Key: schema_Name, Value: 1}}, "", true); err != nil {
		return
	}
	if err = schema.CreateIndex(ctx, bson.D{{Key: schema_Auto, Value: 1}}, "", false); err != nil {
		return
	}
	props.AddCollection(Schema_Collection)
	return
}

// 自增字段在__schema__中的分配结果
type autoIncrement struct {
	// 本批次分配后的序列值
	seq        int64
	fieldNames []string
}

// 原子地为count行预留一段连续的自增值，表没有自增列时返回nil
func reserveAutoIncrement(ctx context.Context, db client.Database, table string, count int) (auto *autoIncrement, err error) {
	doc, err := db.Collection(Schema_Collection).FindOneAndUpdate(ctx,
		bson.M{schema_Name: table, schema_Auto: bson.M{converter.Mongo_Operator_Exists: true}},
		bson.M{converter.Mongo_Update_Inc: bson.M{schema_Auto_Seq: count}},
	)
	if err != nil || doc == nil {
		return
	}
	sub, ok := doc[schema_Auto].(bson.M)
	if !ok {
		err = fmt.Errorf("invalid auto increment of table [%v]: %v", table, doc[schema_Auto])
		return
	}
	auto = &autoIncrement{}
	if auto.seq, err = converter.ToInt64(sub["seq"]); err != nil {
		return nil, err
	}
	names, _ := sub["field_names"].(bson.A)
	for _, name := range names {
		if s, ok := name.(string); ok {
			auto.fieldNames = append(auto.fieldNames, s)
		}
	}
	return
}
