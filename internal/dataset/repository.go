// Package dataset serves JSON dataset items and iteration rows.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/BKyryl/iesi/internal/iteration"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Repository reads <dir>/<dataset>.json documents, caching each after the
// first read.
type Repository struct {
	dir string

	mu    sync.RWMutex
	cache map[string]gjson.Result
}

func New(dir string) *Repository {
	return &Repository{dir: dir, cache: make(map[string]gjson.Result)}
}

// Item returns the value at a gjson path of a dataset. Objects and arrays are
// returned as raw JSON. A missing dataset or path is a miss, not an error.
func (r *Repository) Item(dataset, item string) (string, bool, error) {
	doc, ok, err := r.document(dataset)
	if err != nil || !ok {
		return "", false, err
	}
	res := doc.Get(item)
	if !res.Exists() {
		return "", false, nil
	}
	return res.String(), true, nil
}

// Rows turns the array at path into iteration rows. Object elements yield one
// variable per field in document order; scalars yield a single "value".
func (r *Repository) Rows(dataset, path string) ([]iteration.Row, error) {
	doc, ok, err := r.document(dataset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dataset %q not found", dataset)
	}
	arr := doc
	if path != "" {
		arr = doc.Get(path)
	}
	if !arr.IsArray() {
		return nil, schema.NewErrorf(schema.ErrCodeIteration, "dataset %q path %q is not an array", dataset, path)
	}

	var rows []iteration.Row
	arr.ForEach(func(_, el gjson.Result) bool {
		var row iteration.Row
		if el.IsObject() {
			el.ForEach(func(k, v gjson.Result) bool {
				row = append(row, iteration.Variable{Name: k.String(), Value: v.String()})
				return true
			})
		} else {
			row = iteration.Row{{Name: "value", Value: el.String()}}
		}
		rows = append(rows, row)
		return true
	})
	return rows, nil
}

func (r *Repository) document(dataset string) (gjson.Result, bool, error) {
	if dataset == "" || strings.ContainsAny(dataset, `/\`) || dataset == ".." {
		return gjson.Result{}, false, schema.NewErrorf(schema.ErrCodeValidation, "invalid dataset name %q", dataset)
	}

	r.mu.RLock()
	doc, ok := r.cache[dataset]
	r.mu.RUnlock()
	if ok {
		return doc, true, nil
	}

	data, err := os.ReadFile(filepath.Join(r.dir, dataset+".json"))
	if os.IsNotExist(err) {
		return gjson.Result{}, false, nil
	}
	if err != nil {
		return gjson.Result{}, false, fmt.Errorf("read dataset %s: %w", dataset, err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, false, schema.NewErrorf(schema.ErrCodeValidation, "dataset %q is not valid JSON", dataset)
	}
	doc = gjson.ParseBytes(data)

	r.mu.Lock()
	r.cache[dataset] = doc
	r.mu.Unlock()
	return doc, true, nil
}
