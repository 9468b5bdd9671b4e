package memdb

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tsfans/sql2mongo/client"
)

func seed(t *testing.T, db *DB, name string, docs ...bson.M) client.Collection {
	t.Helper()
	coll := db.Collection(name)
	items := make([]any, len(docs))
	for i, doc := range docs {
		items[i] = doc
	}
	if _, err := coll.InsertMany(context.Background(), items); err != nil {
		t.Fatalf("insert into [%v] failed,err=%v", name, err)
	}
	return coll
}

// 读取游标中的全部文档，去掉_id
func fetchAll(t *testing.T) func(cur client.Cursor, err error) []bson.M {
	return func(cur client.Cursor, err error) (docs []bson.M) {
		t.Helper()
		if err != nil {
			t.Fatalf("query failed,err=%v", err)
		}
		ctx := context.Background()
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc bson.M
			if err = cur.Decode(&doc); err != nil {
				t.Fatalf("decode failed,err=%v", err)
			}
			delete(doc, "_id")
			docs = append(docs, doc)
		}
		if err = cur.Err(); err != nil {
			t.Fatalf("cursor failed,err=%v", err)
		}
		return
	}
}

func TestFindOptions(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "users",
		bson.M{"name": "a", "age": 30},
		bson.M{"name": "b", "age": 20},
		bson.M{"name": "c", "age": 40},
		bson.M{"name": "d"},
	)
	ctx := context.Background()
	cur, err := coll.Find(ctx, bson.M{"age": bson.M{"$gte": 20}}, client.FindOptions{
		Projection: bson.M{"name": 1},
		Sort:       bson.D{{Key: "age", Value: -1}},
		Skip:       1,
		Limit:      1,
	})
	docs := fetchAll(t)(cur, err)
	if !reflect.DeepEqual(docs, []bson.M{{"name": "a"}}) {
		t.Errorf("docs=%v", docs)
	}
	cur, err = coll.Find(ctx, bson.M{"age": nil}, client.FindOptions{})
	docs = fetchAll(t)(cur, err)
	if len(docs) != 1 || docs[0]["name"] != "d" {
		t.Errorf("null should match missing field, docs=%v", docs)
	}
	// 写入的int经编解码后为int32
	cur, err = coll.Find(ctx, bson.M{"name": "b"}, client.FindOptions{})
	docs = fetchAll(t)(cur, err)
	if docs[0]["age"] != int32(20) {
		t.Errorf("age=%v (%T)", docs[0]["age"], docs[0]["age"])
	}
}

func TestCursorContext(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "t", bson.M{"a": 1}, bson.M{"a": 2})
	cur, err := coll.Find(context.Background(), bson.M{}, client.FindOptions{})
	if err != nil {
		t.Fatalf("find failed,err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if cur.Next(ctx) {
		t.Errorf("canceled context should stop the cursor")
	}
	if !errors.Is(cur.Err(), context.Canceled) {
		t.Errorf("cursor err=%v", cur.Err())
	}
}

func TestMatch(t *testing.T) {
	doc := bson.M{
		"a":    int32(5),
		"s":    "Hello",
		"tags": bson.A{"x", "y"},
		"sub":  bson.M{"k": "v"},
		"n":    nil,
	}
	cases := []struct {
		filter   bson.M
		expected bool
	}{
		{bson.M{"a": 5}, true},
		{bson.M{"a": bson.M{"$gt": int64(4), "$lt": 6.5}}, true},
		{bson.M{"a": bson.M{"$gt": "4"}}, false},
		{bson.M{"a": bson.M{"$not": bson.M{"$eq": 5}}}, false},
		{bson.M{"a": bson.M{"$in": bson.A{1, 5}}}, true},
		{bson.M{"a": bson.M{"$nin": bson.A{1, 5}}}, false},
		{bson.M{"tags": "y"}, true},
		{bson.M{"sub.k": "v"}, true},
		{bson.M{"sub.missing": nil}, true},
		{bson.M{"n": bson.M{"$ne": nil}}, false},
		{bson.M{"missing": bson.M{"$exists": false}}, true},
		{bson.M{"s": bson.M{"$regex": "^hel", "$options": "i"}}, true},
		{bson.M{"s": bson.M{"$regex": "^hel"}}, false},
		{bson.M{"s": bson.M{"$not": primitive.Regex{Pattern: "^H"}}}, false},
		{bson.M{"$or": bson.A{bson.M{"a": 1}, bson.M{"s": "Hello"}}}, true},
		{bson.M{"$and": bson.A{bson.M{"a": 5}, bson.M{"s": "x"}}}, false},
		{bson.M{"$expr": bson.M{"$in": bson.A{"$s", bson.A{"Hello"}}}}, true},
		{bson.M{"$expr": bson.M{"$not": bson.A{bson.M{"$in": bson.A{"$a", bson.A{5}}}}}}, false},
	}
	for _, c := range cases {
		matched, err := Match(doc, c.filter)
		if err != nil {
			t.Errorf("match failed,filter=%v,err=%v", c.filter, err)
			continue
		}
		if matched != c.expected {
			t.Errorf("filter=%v, matched=%v, expected=%v", c.filter, matched, c.expected)
		}
	}
	if _, err := Match(doc, bson.M{"a": bson.M{"$where": 1}}); err == nil {
		t.Errorf("unknown operator should fail")
	}
}

func TestAggregateJoinAndGroup(t *testing.T) {
	db := New("test")
	seed(t, db, "author",
		bson.M{"id": 1, "name": "ann"},
		bson.M{"id": 2, "name": "bob"},
		bson.M{"id": 3, "name": "cid"},
	)
	books := seed(t, db, "book",
		bson.M{"id": 10, "author_id": 1, "pages": 100},
		bson.M{"id": 11, "author_id": 1, "pages": 300},
		bson.M{"id": 12, "author_id": 2, "pages": 50},
		bson.M{"id": 13, "author_id": nil, "pages": 70},
	)
	pipeline := bson.A{
		bson.M{"$lookup": bson.M{"from": "author", "localField": "author_id", "foreignField": "id", "as": "author"}},
		bson.M{"$unwind": bson.M{"path": "$author", "preserveNullAndEmptyArrays": true}},
		bson.M{"$addFields": bson.M{"author": bson.M{"$ifNull": bson.A{"$author", bson.M{"name": nil}}}}},
		bson.M{"$group": bson.M{
			"_id":   bson.M{"author": bson.M{"name": "$author.name"}},
			"cnt":   bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$pages"},
			"avg":   bson.M{"$avg": "$pages"},
		}},
		bson.M{"$project": bson.M{"_id": false, "author": bson.M{"name": "$_id.author.name"}, "cnt": true, "total": true, "avg": true}},
		bson.M{"$sort": bson.D{{Key: "author.name", Value: 1}}},
	}
	docs := fetchAll(t)(books.Aggregate(context.Background(), pipeline))
	expected := []bson.M{
		{"author": bson.M{"name": nil}, "cnt": int32(1), "total": int32(70), "avg": 70.0},
		{"author": bson.M{"name": "ann"}, "cnt": int32(2), "total": int32(400), "avg": 200.0},
		{"author": bson.M{"name": "bob"}, "cnt": int32(1), "total": int32(50), "avg": 50.0},
	}
	if !reflect.DeepEqual(docs, expected) {
		t.Errorf("docs=%v\nexpected=%v", docs, expected)
	}
}

func TestAggregateImplicitGroupAndDistinct(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "t",
		bson.M{"a": 1, "tag": "x"},
		bson.M{"a": 2, "tag": "x"},
		bson.M{"a": 2, "tag": nil},
		bson.M{"a": 3},
	)
	ctx := context.Background()
	docs := fetchAll(t)(coll.Aggregate(ctx, bson.A{
		bson.M{"$group": bson.M{
			"_id":       nil,
			"n":         bson.M{"$sum": bson.M{"$cond": bson.M{"if": bson.M{"$gt": bson.A{"$tag", nil}}, "then": 1, "else": 0}}},
			"tags":      bson.M{"$addToSet": "$tag"},
			"max":       bson.M{"$max": "$a"},
			"min":       bson.M{"$min": "$missing"},
		}},
		bson.M{"$project": bson.M{"_id": false, "n": true, "tags": bson.M{"$size": "$tags"}, "max": true, "min": true, "one": bson.M{"$literal": 1}}},
	}))
	expected := []bson.M{{"n": int32(2), "tags": int32(1), "max": int32(3), "min": nil, "one": int32(1)}}
	if !reflect.DeepEqual(docs, expected) {
		t.Errorf("docs=%v\nexpected=%v", docs, expected)
	}
	docs = fetchAll(t)(coll.Aggregate(ctx, bson.A{
		bson.M{"$group": bson.M{"_id": bson.M{"a": "$a"}}},
		bson.M{"$replaceRoot": bson.M{"newRoot": "$_id"}},
		bson.M{"$sort": bson.D{{Key: "a", Value: -1}}},
		bson.M{"$skip": int64(1)},
		bson.M{"$limit": int64(5)},
	}))
	if !reflect.DeepEqual(docs, []bson.M{{"a": int32(2)}, {"a": int32(1)}}) {
		t.Errorf("distinct docs=%v", docs)
	}
	if _, err := coll.Aggregate(ctx, bson.A{bson.M{"$limit": int64(0)}}); err == nil {
		t.Errorf("$limit 0 should fail")
	}
	if _, err := coll.Aggregate(ctx, bson.A{bson.M{"$bogus": 1}}); err == nil {
		t.Errorf("unknown stage should fail")
	}
}

func TestAggregateNestedLookup(t *testing.T) {
	db := New("test")
	seed(t, db, "banned", bson.M{"uid": 2}, bson.M{"uid": 3})
	users := seed(t, db, "users", bson.M{"id": 1}, bson.M{"id": 2}, bson.M{"id": 3})
	docs := fetchAll(t)(users.Aggregate(context.Background(), bson.A{
		bson.M{"$lookup": bson.M{"from": "banned", "pipeline": bson.A{bson.M{"$project": bson.M{"uid": true}}}, "as": "_nested_in_0"}},
		bson.M{"$addFields": bson.M{"_nested_in_0": bson.M{"$map": bson.M{"input": "$_nested_in_0", "as": "r", "in": "$$r.uid"}}}},
		bson.M{"$match": bson.M{"$expr": bson.M{"$not": bson.A{bson.M{"$in": bson.A{"$id", "$_nested_in_0"}}}}}},
		bson.M{"$project": bson.M{"id": true}},
	}))
	if !reflect.DeepEqual(docs, []bson.M{{"id": int32(1)}}) {
		t.Errorf("docs=%v", docs)
	}
}

func TestInnerJoinUnwind(t *testing.T) {
	db := New("test")
	seed(t, db, "b", bson.M{"aid": 1, "v": "x"}, bson.M{"aid": 1, "v": "y"})
	a := seed(t, db, "a", bson.M{"id": 1}, bson.M{"id": 2}, bson.M{"id": nil})
	docs := fetchAll(t)(a.Aggregate(context.Background(), bson.A{
		bson.M{"$match": bson.M{"id": bson.M{"$ne": nil, "$exists": true}}},
		bson.M{"$lookup": bson.M{"from": "b", "localField": "id", "foreignField": "aid", "as": "b"}},
		bson.M{"$unwind": "$b"},
		bson.M{"$project": bson.M{"b.v": true}},
	}))
	expected := []bson.M{{"b": bson.M{"v": "x"}}, {"b": bson.M{"v": "y"}}}
	if !reflect.DeepEqual(docs, expected) {
		t.Errorf("docs=%v", docs)
	}
}

func TestUpdate(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "t",
		bson.M{"k": 1, "n": 1, "list": bson.A{"a"}, "old": "o"},
		bson.M{"k": 2, "n": 5},
	)
	ctx := context.Background()
	matched, err := coll.UpdateMany(ctx, bson.M{}, bson.M{"$inc": bson.M{"n": 1}})
	if err != nil || matched != 2 {
		t.Fatalf("update many matched=%v,err=%v", matched, err)
	}
	_, err = coll.UpdateOne(ctx, bson.M{"k": 1}, bson.M{
		"$set":    bson.M{"sub.x": "y"},
		"$push":   bson.M{"list": bson.M{"$each": bson.A{"b", "c"}}},
		"$rename": bson.M{"old": "new"},
		"$unset":  bson.M{"k": ""},
	}, false)
	if err != nil {
		t.Fatalf("update one failed,err=%v", err)
	}
	docs := fetchAll(t)(coll.Find(ctx, bson.M{"n": 2}, client.FindOptions{}))
	expected := []bson.M{{"n": int32(2), "list": bson.A{"a", "b", "c"}, "new": "o", "sub": bson.M{"x": "y"}}}
	if !reflect.DeepEqual(docs, expected) {
		t.Errorf("docs=%v\nexpected=%v", docs, expected)
	}
	matched, err = coll.UpdateOne(ctx, bson.M{"k": 9}, bson.M{"$set": bson.M{"v": true}}, true)
	if err != nil || matched != 1 {
		t.Fatalf("upsert matched=%v,err=%v", matched, err)
	}
	docs = fetchAll(t)(coll.Find(ctx, bson.M{"k": 9}, client.FindOptions{}))
	if !reflect.DeepEqual(docs, []bson.M{{"k": int32(9), "v": true}}) {
		t.Errorf("upserted docs=%v", docs)
	}
	if _, err = coll.UpdateMany(ctx, bson.M{}, bson.M{"$inc": bson.M{"list": 1}}); err == nil {
		t.Errorf("$inc on array should fail")
	}
	deleted, err := coll.DeleteMany(ctx, bson.M{"n": bson.M{"$gte": 2}})
	if err != nil || deleted != 2 {
		t.Errorf("deleted=%v,err=%v", deleted, err)
	}
}

func TestFindOneAndUpdate(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "__schema__", bson.M{"name": "t", "auto": bson.M{"seq": int32(0)}})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		doc, err := coll.FindOneAndUpdate(ctx, bson.M{"name": "t"}, bson.M{"$inc": bson.M{"auto.seq": 1}})
		if err != nil {
			t.Fatalf("find one and update failed,err=%v", err)
		}
		if seq := doc["auto"].(bson.M)["seq"]; seq != int32(i) {
			t.Errorf("seq=%v, expected=%v", seq, i)
		}
	}
	doc, err := coll.FindOneAndUpdate(ctx, bson.M{"name": "missing"}, bson.M{"$inc": bson.M{"auto.seq": 1}})
	if err != nil || doc != nil {
		t.Errorf("no match should return nil, doc=%v,err=%v", doc, err)
	}
}

func TestUniqueIndex(t *testing.T) {
	db := New("test")
	coll := seed(t, db, "t", bson.M{"name": "a"}, bson.M{"name": "b"})
	ctx := context.Background()
	if err := coll.CreateIndex(ctx, bson.D{{Key: "name", Value: 1}}, "", true); err != nil {
		t.Fatalf("create index failed,err=%v", err)
	}
	if err := coll.CreateIndex(ctx, bson.D{{Key: "name", Value: 1}}, "name_1", true); err != nil {
		t.Errorf("same index spec should be accepted,err=%v", err)
	}
	if err := coll.CreateIndex(ctx, bson.D{{Key: "name", Value: 1}}, "name_1", false); err == nil {
		t.Errorf("conflicting index spec should fail")
	}
	ids, err := coll.InsertMany(ctx, []any{bson.M{"name": "c"}, bson.M{"name": "a"}})
	if err == nil || !strings.Contains(err.Error(), "E11000") || len(ids) != 1 {
		t.Errorf("duplicate insert ids=%v,err=%v", ids, err)
	}
	if _, err = coll.UpdateMany(ctx, bson.M{"name": "b"}, bson.M{"$set": bson.M{"name": "a"}}); err == nil {
		t.Errorf("duplicate update should fail")
	}
	other := seed(t, db, "u", bson.M{"x": 1}, bson.M{"x": 1})
	if err = other.CreateIndex(ctx, bson.D{{Key: "x", Value: 1}}, "", true); err == nil {
		t.Errorf("unique index over duplicated data should fail")
	}
	if err = coll.DropIndex(ctx, "name_1"); err != nil {
		t.Errorf("drop index failed,err=%v", err)
	}
	if err = coll.DropIndex(ctx, "name_1"); !errors.Is(err, client.ErrIndexNotFound) {
		t.Errorf("drop missing index err=%v", err)
	}
}

func TestCollections(t *testing.T) {
	db := New("test")
	ctx := context.Background()
	if err := db.CreateCollection(ctx, "a"); err != nil {
		t.Fatalf("create collection failed,err=%v", err)
	}
	if err := db.CreateCollection(ctx, "a"); !errors.Is(err, client.ErrCollectionExists) {
		t.Errorf("create existing collection err=%v", err)
	}
	seed(t, db, "c", bson.M{"x": 1})
	if err := db.RenameCollection(ctx, "a", "b"); err != nil {
		t.Errorf("rename failed,err=%v", err)
	}
	if err := db.RenameCollection(ctx, "missing", "d"); err == nil {
		t.Errorf("rename missing collection should fail")
	}
	if err := db.RenameCollection(ctx, "b", "c"); err == nil {
		t.Errorf("rename onto existing collection should fail")
	}
	names, _ := db.ListCollectionNames(ctx)
	if !reflect.DeepEqual(names, []string{"b", "c"}) {
		t.Errorf("names=%v", names)
	}
	_ = db.DropCollection(ctx, "b")
	_ = db.DropDatabase(ctx)
	if names, _ = db.ListCollectionNames(ctx); len(names) != 0 {
		t.Errorf("names after drop database=%v", names)
	}
}
