package client

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrCollectionExists = errors.New("collection already exists")
	ErrIndexNotFound    = errors.New("index not found")
)

// 查询结果游标，*mongo.Cursor 满足该接口
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Skip       int64
	// 0 表示不限制
	Limit int64
}

// 集合上的逻辑操作
type Collection interface {
	Name() string
	Find(ctx context.Context, filter bson.M, opts FindOptions) (Cursor, error)
	Aggregate(ctx context.Context, pipeline bson.A) (Cursor, error)
	// 无序批量插入，返回已插入文档的_id
	InsertMany(ctx context.Context, docs []any) ([]any, error)
	// 返回匹配的文档数
	UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error)
	UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (int64, error)
	// 返回删除的文档数
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	// 返回更新后的文档，没有匹配时返回nil
	FindOneAndUpdate(ctx context.Context, filter bson.M, update bson.M) (bson.M, error)
	CreateIndex(ctx context.Context, keys bson.D, name string, unique bool) error
	DropIndex(ctx context.Context, name string) error
}

type Database interface {
	Name() string
	Collection(name string) Collection
	// 集合已存在时返回 ErrCollectionExists
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	RenameCollection(ctx context.Context, from, to string) error
	ListCollectionNames(ctx context.Context) ([]string, error)
	DropDatabase(ctx context.Context) error
}
