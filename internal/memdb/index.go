package memdb

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tsfans/sql2mongo/client"
)

type index struct {
	name   string
	keys   bson.D
	unique bool
}

func indexName(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v_%v", k.Key, k.Value))
	}
	return strings.Join(parts, "_")
}

// 索引键值，缺失字段按null处理
func (idx *index) keyOf(doc bson.M) string {
	values := make(bson.A, 0, len(idx.keys))
	for _, k := range idx.keys {
		v, _ := getPath(doc, k.Key)
		values = append(values, v)
	}
	return canonicalKey(values)
}

func (coll *collection) createIndex(collName string, keys bson.D, name string, unique bool) error {
	if len(keys) == 0 {
		return fmt.Errorf("index keys of [%v] can not be empty", collName)
	}
	if name == "" {
		name = indexName(keys)
	}
	idx := &index{name: name, keys: keys, unique: unique}
	for _, existing := range coll.indexes {
		if existing.name != name {
			continue
		}
		if canonicalKey(existing.keys) != canonicalKey(keys) || existing.unique != unique {
			return fmt.Errorf("index with name [%v] already exists with a different spec", name)
		}
		return nil
	}
	if unique {
		seen := map[string]bool{}
		for _, doc := range coll.docs {
			key := idx.keyOf(doc)
			if seen[key] {
				return fmt.Errorf("E11000 duplicate key error collection: %v index: %v", collName, name)
			}
			seen[key] = true
		}
	}
	coll.indexes = append(coll.indexes, idx)
	return nil
}

func (coll *collection) dropIndex(name string) error {
	for i, idx := range coll.indexes {
		if idx.name == name {
			coll.indexes = append(coll.indexes[:i], coll.indexes[i+1:]...)
			return nil
		}
	}
	return client.ErrIndexNotFound
}

// skip为被替换文档的位置，插入时为-1
func (coll *collection) checkUnique(collName string, doc bson.M, skip int) error {
	unique := append([]*index{{name: "_id_", keys: bson.D{{Key: "_id", Value: 1}}, unique: true}}, coll.indexes...)
	for _, idx := range unique {
		if !idx.unique {
			continue
		}
		key := idx.keyOf(doc)
		for i, other := range coll.docs {
			if i != skip && idx.keyOf(other) == key {
				return fmt.Errorf("E11000 duplicate key error collection: %v index: %v dup key: %v", collName, idx.name, key)
			}
		}
	}
	return nil
}
