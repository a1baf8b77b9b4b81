// Package filelookup reads SQL files for the {{=file(...)}} lookup from a
// gocloud.dev blob bucket.
package filelookup

import (
	"context"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/BKyryl/iesi/internal/store"
)

// Files serves files from a bucket opened from a URL such as
// "file:///opt/iesi/data" or "mem://".
type Files struct {
	bucket *blob.Bucket
}

// Open opens the bucket at url.
func Open(ctx context.Context, url string) (*Files, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Files{bucket: bucket}, nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket) *Files {
	return &Files{bucket: bucket}
}

// Read returns the content of key. A missing key is a miss.
func (f *Files) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := f.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// FirstStatement returns the first SQL statement of key with its leading
// comment lines removed. A file with no statement yields an empty value.
func (f *Files) FirstStatement(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := f.Read(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	stmts := store.SplitStatements(string(data))
	if len(stmts) == 0 {
		return "", true, nil
	}
	return stripLeadingComments(stmts[0]), true, nil
}

func (f *Files) Close() error {
	return f.bucket.Close()
}

func stripLeadingComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	for len(lines) > 0 {
		l := strings.TrimSpace(lines[0])
		if l != "" && !strings.HasPrefix(l, "--") {
			break
		}
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
