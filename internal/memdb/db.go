package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/maps"

	"github.com/tsfans/sql2mongo/client"
)

var (
	_ client.Database   = (*DB)(nil)
	_ client.Collection = (*Collection)(nil)
)

// 进程内数据库，实现 client.Database
type DB struct {
	name        string
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	docs    []bson.M
	indexes []*index
}

func New(name string) *DB {
	return &DB{name: name, collections: map[string]*collection{}}
}

func (d *DB) Name() string {
	return d.name
}

func (d *DB) Collection(name string) client.Collection {
	return &Collection{db: d, name: name}
}

// 写操作时隐式创建集合，调用方持有写锁
func (d *DB) ensure(name string) *collection {
	coll, ok := d.collections[name]
	if !ok {
		coll = &collection{}
		d.collections[name] = coll
	}
	return coll
}

// 集合文档的副本
func (d *DB) snapshot(name string) []bson.M {
	d.mu.RLock()
	defer d.mu.RUnlock()
	coll, ok := d.collections[name]
	if !ok {
		return nil
	}
	docs := make([]bson.M, len(coll.docs))
	for i, doc := range coll.docs {
		docs[i] = copyDoc(doc)
	}
	return docs
}

func (d *DB) CreateCollection(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.collections[name]; ok {
		return client.ErrCollectionExists
	}
	d.collections[name] = &collection{}
	return nil
}

func (d *DB) DropCollection(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, name)
	return nil
}

func (d *DB) RenameCollection(ctx context.Context, from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	coll, ok := d.collections[from]
	if !ok {
		return fmt.Errorf("source namespace [%v] does not exist", from)
	}
	if _, ok := d.collections[to]; ok {
		return fmt.Errorf("target namespace [%v] exists", to)
	}
	delete(d.collections, from)
	d.collections[to] = coll
	return nil
}

func (d *DB) ListCollectionNames(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	names := maps.Keys(d.collections)
	d.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (d *DB) DropDatabase(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	maps.Clear(d.collections)
	return nil
}

// 集合句柄，实现 client.Collection
type Collection struct {
	db   *DB
	name string
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Find(ctx context.Context, filter bson.M, opts client.FindOptions) (client.Cursor, error) {
	docs, err := stageMatch(c.db.snapshot(c.name), filter)
	if err != nil {
		return nil, err
	}
	if len(opts.Sort) > 0 {
		if err = sortDocs(docs, opts.Sort); err != nil {
			return nil, err
		}
	}
	if opts.Skip > 0 {
		if docs, err = stageSkip(docs, opts.Skip); err != nil {
			return nil, err
		}
	}
	if opts.Limit > 0 {
		if docs, err = stageLimit(docs, opts.Limit); err != nil {
			return nil, err
		}
	}
	if opts.Projection != nil {
		if docs, err = stageProject(docs, opts.Projection); err != nil {
			return nil, err
		}
	}
	return newCursor(docs), nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline bson.A) (client.Cursor, error) {
	docs, err := c.db.aggregate(c.db.snapshot(c.name), pipeline)
	if err != nil {
		return nil, err
	}
	return newCursor(docs), nil
}

// 无序插入，违反唯一索引的文档跳过，其余照常写入
func (c *Collection) InsertMany(ctx context.Context, docs []any) (ids []any, err error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll := c.db.ensure(c.name)
	var failures []string
	for i, d := range docs {
		doc, e := normalize(d)
		if e != nil {
			failures = append(failures, fmt.Sprintf("index %v: %v", i, e))
			continue
		}
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}
		if e = coll.checkUnique(c.name, doc, -1); e != nil {
			failures = append(failures, fmt.Sprintf("index %v: %v", i, e))
			continue
		}
		coll.docs = append(coll.docs, doc)
		ids = append(ids, doc["_id"])
	}
	if len(failures) > 0 {
		err = fmt.Errorf("bulk write error: %v", strings.Join(failures, "; "))
	}
	return
}

func (c *Collection) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	return c.update(filter, update, true, false)
}

func (c *Collection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (int64, error) {
	return c.update(filter, update, false, upsert)
}

func (c *Collection) update(filter bson.M, update bson.M, multi, upsert bool) (matched int64, err error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll := c.db.ensure(c.name)
	for i, doc := range coll.docs {
		var ok bool
		ok, err = Match(doc, filter)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		matched++
		if err = coll.replace(c.name, i, update); err != nil {
			return
		}
		if !multi {
			return
		}
	}
	if matched == 0 && upsert {
		doc := upsertSeed(filter)
		if err = applyUpdate(doc, update); err != nil {
			return
		}
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}
		if err = coll.checkUnique(c.name, doc, -1); err != nil {
			return
		}
		coll.docs = append(coll.docs, doc)
		matched = 1
	}
	return
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (deleted int64, err error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll, ok := c.db.collections[c.name]
	if !ok {
		return
	}
	kept := coll.docs[:0]
	for _, doc := range coll.docs {
		var matched bool
		matched, err = Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if matched {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	coll.docs = kept
	return
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, filter bson.M, update bson.M) (bson.M, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll, ok := c.db.collections[c.name]
	if !ok {
		return nil, nil
	}
	for i, doc := range coll.docs {
		matched, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		if err = coll.replace(c.name, i, update); err != nil {
			return nil, err
		}
		return copyDoc(coll.docs[i]), nil
	}
	return nil, nil
}

func (c *Collection) CreateIndex(ctx context.Context, keys bson.D, name string, unique bool) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.ensure(c.name).createIndex(c.name, keys, name, unique)
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll, ok := c.db.collections[c.name]
	if !ok {
		return client.ErrIndexNotFound
	}
	return coll.dropIndex(name)
}

// 对第i个文档执行更新，更新后仍需满足唯一索引
func (coll *collection) replace(name string, i int, update bson.M) error {
	doc := copyDoc(coll.docs[i])
	if err := applyUpdate(doc, update); err != nil {
		return err
	}
	if err := coll.checkUnique(name, doc, i); err != nil {
		return err
	}
	coll.docs[i] = doc
	return nil
}

type cursor struct {
	docs []bson.M
	pos  int
	cur  bson.M
	err  error
}

func newCursor(docs []bson.M) *cursor {
	return &cursor{docs: docs}
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

// 经BSON编解码，结果类型与驱动一致
func (c *cursor) Decode(val any) error {
	data, err := bson.Marshal(c.cur)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, val)
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(ctx context.Context) error {
	c.docs = nil
	return nil
}
