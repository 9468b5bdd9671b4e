package client

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCode_Index_Not_Found  = 27
	mongoCode_Namespace_Exists = 48
)

// 基于官方驱动的实现
type mongoDatabase struct {
	db *mongo.Database
}

func NewMongoDatabase(db *mongo.Database) Database {
	return &mongoDatabase{db: db}
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	err := d.db.CreateCollection(ctx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == mongoCode_Namespace_Exists {
		return ErrCollectionExists
	}
	return errors.Wrapf(err, "create collection [%v]", name)
}

func (d *mongoDatabase) DropCollection(ctx context.Context, name string) error {
	return errors.Wrapf(d.db.Collection(name).Drop(ctx), "drop collection [%v]", name)
}

func (d *mongoDatabase) RenameCollection(ctx context.Context, from, to string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: d.db.Name() + "." + from},
		{Key: "to", Value: d.db.Name() + "." + to},
	}
	err := d.db.Client().Database("admin").RunCommand(ctx, cmd).Err()
	return errors.Wrapf(err, "rename collection [%v] to [%v]", from, to)
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) (names []string, err error) {
	names, err = d.db.ListCollectionNames(ctx, bson.D{})
	err = errors.Wrapf(err, "list collections of [%v]", d.db.Name())
	return
}

func (d *mongoDatabase) DropDatabase(ctx context.Context) error {
	return errors.Wrapf(d.db.Drop(ctx), "drop database [%v]", d.db.Name())
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.M, opts FindOptions) (Cursor, error) {
	if filter == nil {
		filter = bson.M{}
	}
	o := options.Find()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	log.Debugf("find collection=%v filter=%v projection=%v sort=%v skip=%v limit=%v",
		c.coll.Name(), filter, opts.Projection, opts.Sort, opts.Skip, opts.Limit)
	cur, err := c.coll.Find(ctx, filter, o)
	if err != nil {
		return nil, errors.Wrapf(err, "find in [%v]", c.coll.Name())
	}
	return cur, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline bson.A) (Cursor, error) {
	log.Debugf("aggregate collection=%v pipeline=%v", c.coll.Name(), pipeline)
	cur, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregate on [%v]", c.coll.Name())
	}
	return cur, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []any) (ids []any, err error) {
	log.Debugf("insert collection=%v docs=%v", c.coll.Name(), len(docs))
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if res != nil {
		ids = res.InsertedIDs
	}
	err = errors.Wrapf(err, "insert into [%v]", c.coll.Name())
	return
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	log.Debugf("update collection=%v filter=%v update=%v", c.coll.Name(), filter, update)
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, errors.Wrapf(err, "update [%v]", c.coll.Name())
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (int64, error) {
	log.Debugf("update one collection=%v filter=%v update=%v upsert=%v", c.coll.Name(), filter, update, upsert)
	res, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return 0, errors.Wrapf(err, "update [%v]", c.coll.Name())
	}
	return res.MatchedCount + res.UpsertedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	log.Debugf("delete collection=%v filter=%v", c.coll.Name(), filter)
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.Wrapf(err, "delete from [%v]", c.coll.Name())
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) FindOneAndUpdate(ctx context.Context, filter bson.M, update bson.M) (doc bson.M, err error) {
	res := c.coll.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After))
	err = res.Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	err = errors.Wrapf(err, "find and update [%v]", c.coll.Name())
	return
}

func (c *mongoCollection) CreateIndex(ctx context.Context, keys bson.D, name string, unique bool) error {
	opts := options.Index().SetUnique(unique)
	if name != "" {
		opts.SetName(name)
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	return errors.Wrapf(err, "create index [%v] on [%v]", name, c.coll.Name())
}

func (c *mongoCollection) DropIndex(ctx context.Context, name string) error {
	_, err := c.coll.Indexes().DropOne(ctx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == mongoCode_Index_Not_Found {
		return ErrIndexNotFound
	}
	return errors.Wrapf(err, "drop index [%v] on [%v]", name, c.coll.Name())
}
