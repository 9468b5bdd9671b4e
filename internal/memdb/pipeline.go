package memdb

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

func stageOf(v any) (name string, arg any, err error) {
	if d, ok := v.(bson.D); ok && len(d) == 1 {
		return d[0].Key, d[0].Value, nil
	}
	doc, ok := asDoc(v)
	if !ok || len(doc) != 1 {
		err = fmt.Errorf("a pipeline stage specification object must contain exactly one field, got [%v]", v)
		return
	}
	for k, a := range doc {
		name, arg = k, a
	}
	return
}

func (d *DB) aggregate(docs []bson.M, pipeline bson.A) (out []bson.M, err error) {
	out = docs
	for _, stage := range pipeline {
		var (
			name string
			arg  any
		)
		name, arg, err = stageOf(stage)
		if err != nil {
			return
		}
		switch name {
		case "$match":
			out, err = stageMatch(out, arg)
		case "$group":
			out, err = stageGroup(out, arg)
		case "$project":
			out, err = stageProject(out, arg)
		case "$replaceRoot":
			out, err = stageReplaceRoot(out, arg)
		case "$sort":
			out, err = stageSort(out, arg)
		case "$skip":
			out, err = stageSkip(out, arg)
		case "$limit":
			out, err = stageLimit(out, arg)
		case "$lookup":
			out, err = d.stageLookup(out, arg)
		case "$unwind":
			out, err = stageUnwind(out, arg)
		case "$addFields", "$set":
			out, err = stageAddFields(out, arg)
		default:
			err = fmt.Errorf("unrecognized pipeline stage name [%v]", name)
		}
		if err != nil {
			return nil, err
		}
	}
	return
}

func stageMatch(docs []bson.M, arg any) (out []bson.M, err error) {
	filter, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$match needs a document, got [%v]", arg)
	}
	for _, doc := range docs {
		var matched bool
		matched, err = Match(doc, filter)
		if err != nil {
			return
		}
		if matched {
			out = append(out, doc)
		}
	}
	return
}

type group struct {
	id   any
	accs map[string]accumulator
}

// 分组按首次出现的顺序输出
func stageGroup(docs []bson.M, arg any) (out []bson.M, err error) {
	spec, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$group needs a document, got [%v]", arg)
	}
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("a group specification must include an _id")
	}
	var order []string
	groups := map[string]*group{}
	for _, doc := range docs {
		var id any
		id, err = evalExpr(idExpr, doc, nil)
		if err != nil {
			return
		}
		key := canonicalKey(id)
		g, ok := groups[key]
		if !ok {
			g = &group{id: id, accs: map[string]accumulator{}}
			groups[key] = g
			order = append(order, key)
		}
		for field, accSpec := range spec {
			if field == "_id" {
				continue
			}
			var (
				op   string
				expr any
			)
			op, expr, err = stageOf(accSpec)
			if err != nil {
				return
			}
			acc, ok := g.accs[field]
			if !ok {
				if acc, err = newAccumulator(op); err != nil {
					return
				}
				g.accs[field] = acc
			}
			var v any
			v, err = evalExpr(expr, doc, nil)
			if err != nil {
				return
			}
			acc.add(v)
		}
	}
	for _, key := range order {
		g := groups[key]
		doc := bson.M{"_id": g.id}
		for field, acc := range g.accs {
			doc[field] = acc.result()
		}
		out = append(out, doc)
	}
	return
}

func isInclusion(v any) (include, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	}
	if f, isNum := toFloat(v); isNum {
		return f != 0, true
	}
	return false, false
}

// 嵌套投影 {a: {b: true}}，区别于表达式 {$op: ...}
func isSubProjection(v any) (spec bson.M, ok bool) {
	spec, ok = asDoc(v)
	if !ok || len(spec) == 0 {
		return nil, false
	}
	for k := range spec {
		if strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return
}

func stageProject(docs []bson.M, arg any) (out []bson.M, err error) {
	spec, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$project needs a document, got [%v]", arg)
	}
	for _, doc := range docs {
		var projected bson.M
		projected, err = project(doc, spec)
		if err != nil {
			return
		}
		out = append(out, projected)
	}
	return
}

func project(doc bson.M, spec bson.M) (out bson.M, err error) {
	exclusion := true
	for k, v := range spec {
		if include, ok := isInclusion(v); k == "_id" || (ok && !include) {
			continue
		}
		exclusion = false
		break
	}
	if exclusion {
		out = copyDoc(doc)
		for k := range spec {
			deletePath(out, k)
		}
		return
	}
	out = bson.M{}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	err = projectInto(out, "", spec, doc)
	return
}

func projectInto(out bson.M, prefix string, spec bson.M, doc bson.M) error {
	for k, v := range spec {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if include, ok := isInclusion(v); ok {
			if !include {
				deletePath(out, path)
				continue
			}
			if val, found := getPath(doc, path); found {
				setPath(out, path, copyValue(val))
			}
			continue
		}
		if sub, ok := isSubProjection(v); ok {
			if err := projectInto(out, path, sub, doc); err != nil {
				return err
			}
			continue
		}
		val, err := evalExpr(v, doc, nil)
		if err != nil {
			return err
		}
		setPath(out, path, val)
	}
	return nil
}

func stageReplaceRoot(docs []bson.M, arg any) (out []bson.M, err error) {
	spec, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$replaceRoot needs a document, got [%v]", arg)
	}
	for _, doc := range docs {
		var root any
		root, err = evalExpr(spec["newRoot"], doc, nil)
		if err != nil {
			return
		}
		newRoot, ok := asDoc(root)
		if !ok {
			return nil, fmt.Errorf("'newRoot' expression must evaluate to an object, got [%v]", root)
		}
		out = append(out, copyDoc(newRoot))
	}
	return
}

func sortDocs(docs []bson.M, keys bson.D) error {
	for _, k := range keys {
		if _, err := toInt64(k.Value); err != nil {
			return fmt.Errorf("invalid sort direction of [%v]: %w", k.Key, err)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := getPath(docs[i], k.Key)
			b, _ := getPath(docs[j], k.Key)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if direction, _ := toInt64(k.Value); direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

func stageSort(docs []bson.M, arg any) ([]bson.M, error) {
	keys, ok := arg.(bson.D)
	if !ok {
		doc, isDoc := asDoc(arg)
		if !isDoc || len(doc) > 1 {
			return nil, fmt.Errorf("$sort needs an ordered document, got [%v]", arg)
		}
		for k, v := range doc {
			keys = append(keys, bson.E{Key: k, Value: v})
		}
	}
	return docs, sortDocs(docs, keys)
}

func stageSkip(docs []bson.M, arg any) ([]bson.M, error) {
	n, err := toInt64(arg)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid $skip [%v]", arg)
	}
	if n >= int64(len(docs)) {
		return nil, nil
	}
	return docs[n:], nil
}

func stageLimit(docs []bson.M, arg any) ([]bson.M, error) {
	n, err := toInt64(arg)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("the limit must be positive, got [%v]", arg)
	}
	if n < int64(len(docs)) {
		return docs[:n], nil
	}
	return docs, nil
}

func (d *DB) stageLookup(docs []bson.M, arg any) (out []bson.M, err error) {
	spec, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$lookup needs a document, got [%v]", arg)
	}
	from, _ := spec["from"].(string)
	as, _ := spec["as"].(string)
	if from == "" || as == "" {
		return nil, fmt.Errorf("$lookup requires 'from' and 'as', got [%v]", arg)
	}
	foreign := d.snapshot(from)
	if p, ok := spec["pipeline"]; ok {
		pipeline, ok := asArray(p)
		if !ok {
			return nil, fmt.Errorf("$lookup pipeline must be an array, got [%v]", p)
		}
		var results []bson.M
		results, err = d.aggregate(foreign, pipeline)
		if err != nil {
			return
		}
		for _, doc := range docs {
			joined := make(bson.A, 0, len(results))
			for _, r := range results {
				joined = append(joined, copyDoc(r))
			}
			doc = copyDoc(doc)
			setPath(doc, as, joined)
			out = append(out, doc)
		}
		return
	}
	localField, _ := spec["localField"].(string)
	foreignField, _ := spec["foreignField"].(string)
	for _, doc := range docs {
		local, _ := getPath(doc, localField)
		joined := bson.A{}
		for _, f := range foreign {
			value, _ := getPath(f, foreignField)
			if lookupMatch(local, value) {
				joined = append(joined, copyDoc(f))
			}
		}
		doc = copyDoc(doc)
		setPath(doc, as, joined)
		out = append(out, doc)
	}
	return
}

func lookupMatch(local, foreign any) bool {
	if arr, ok := asArray(local); ok {
		for _, item := range arr {
			if equalMatch(foreign, true, item) {
				return true
			}
		}
		return false
	}
	return equalMatch(foreign, true, local)
}

func stageUnwind(docs []bson.M, arg any) (out []bson.M, err error) {
	var (
		path     string
		preserve bool
	)
	switch a := arg.(type) {
	case string:
		path = a
	default:
		spec, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("invalid $unwind [%v]", arg)
		}
		path, _ = spec["path"].(string)
		preserve = truthy(spec["preserveNullAndEmptyArrays"])
	}
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("$unwind path must be prefixed by a '$', got [%v]", path)
	}
	path = path[1:]
	for _, doc := range docs {
		val, found := getPath(doc, path)
		arr, isArr := asArray(val)
		switch {
		case isArr && len(arr) > 0:
			for _, item := range arr {
				unwound := copyDoc(doc)
				setPath(unwound, path, copyValue(item))
				out = append(out, unwound)
			}
		case isArr:
			if preserve {
				unwound := copyDoc(doc)
				deletePath(unwound, path)
				out = append(out, unwound)
			}
		case !found || val == nil:
			if preserve {
				out = append(out, doc)
			}
		default:
			out = append(out, doc)
		}
	}
	return
}

func stageAddFields(docs []bson.M, arg any) (out []bson.M, err error) {
	spec, ok := asDoc(arg)
	if !ok {
		return nil, fmt.Errorf("$addFields needs a document, got [%v]", arg)
	}
	for _, doc := range docs {
		values := make(bson.M, len(spec))
		for k, expr := range spec {
			values[k], err = evalExpr(expr, doc, nil)
			if err != nil {
				return
			}
		}
		doc = copyDoc(doc)
		for k, v := range values {
			setPath(doc, k, v)
		}
		out = append(out, doc)
	}
	return
}
