// Package store holds the registry of storage backends.
//
// Blob-store backends register a BlobFactory under a type name;
// metadata backends, which hold object records, the replication log, and content id candidates,
// register a MetaFactory.
// Both are looked up by the "type" key of a configuration map.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
)

// BlobFactory creates a blob store from a configuration map.
type BlobFactory func(context.Context, map[string]interface{}) (rbs.BlobStore, error)

// Meta is a set of metadata stores sharing one backend.
type Meta struct {
	Refs       refs.Store
	Log        replication.Log
	ContentIDs contentid.Store

	// Close releases the backend's resources. It may be nil.
	Close func() error
}

// MetaFactory creates a metadata backend from a configuration map.
type MetaFactory func(context.Context, map[string]interface{}) (*Meta, error)

var (
	mu           sync.Mutex
	blobRegistry = make(map[string]BlobFactory)
	metaRegistry = make(map[string]MetaFactory)
)

// Register registers a blob-store backend under the given type name.
func Register(key string, f BlobFactory) {
	mu.Lock()
	defer mu.Unlock()
	blobRegistry[key] = f
}

// RegisterMeta registers a metadata backend under the given type name.
func RegisterMeta(key string, f MetaFactory) {
	mu.Lock()
	defer mu.Unlock()
	metaRegistry[key] = f
}

// Create creates a blob store of the given type.
func Create(ctx context.Context, key string, conf map[string]interface{}) (rbs.BlobStore, error) {
	mu.Lock()
	f, ok := blobRegistry[key]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// CreateMeta creates a metadata backend of the given type.
func CreateMeta(ctx context.Context, key string, conf map[string]interface{}) (*Meta, error) {
	mu.Lock()
	f, ok := metaRegistry[key]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in metadata registry", key)
	}
	return f(ctx, conf)
}

// FromConfig creates a blob store from a configuration map
// whose "type" key names the backend.
func FromConfig(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
	typ, err := String(conf, "type")
	if err != nil {
		return nil, err
	}
	return Create(ctx, typ, conf)
}

// MetaFromConfig creates a metadata backend from a configuration map
// whose "type" key names the backend.
func MetaFromConfig(ctx context.Context, conf map[string]interface{}) (*Meta, error) {
	typ, err := String(conf, "type")
	if err != nil {
		return nil, err
	}
	return CreateMeta(ctx, typ, conf)
}

// Types lists the registered blob-store and metadata backend names.
func Types() (blobTypes, metaTypes []string) {
	mu.Lock()
	defer mu.Unlock()
	for k := range blobRegistry {
		blobTypes = append(blobTypes, k)
	}
	for k := range metaRegistry {
		metaTypes = append(metaTypes, k)
	}
	sort.Strings(blobTypes)
	sort.Strings(metaTypes)
	return blobTypes, metaTypes
}

// Nested creates the blob store described by the map at conf[key].
// Wrapping backends use it for the store they wrap.
func Nested(ctx context.Context, conf map[string]interface{}, key string) (rbs.BlobStore, error) {
	nested, ok := conf[key].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing %q parameter`, key)
	}
	s, err := FromConfig(ctx, nested)
	return s, errors.Wrapf(err, "creating %s store", key)
}

// String gets a required string parameter from conf.
func String(conf map[string]interface{}, key string) (string, error) {
	s, ok := conf[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf(`missing %q parameter`, key)
	}
	return s, nil
}

// OptString gets an optional string parameter from conf.
func OptString(conf map[string]interface{}, key, dflt string) string {
	if s, ok := conf[key].(string); ok && s != "" {
		return s
	}
	return dflt
}

// Int gets an integer parameter from conf.
// Config decoders produce numbers of various types; all are accepted.
func Int(conf map[string]interface{}, key string, dflt int) (int, error) {
	switch v := conf[key].(type) {
	case nil:
		return dflt, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q has type %T, want number", key, v)
	}
}

// Bool gets an optional boolean parameter from conf.
func Bool(conf map[string]interface{}, key string) bool {
	b, _ := conf[key].(bool)
	return b
}

// Duration gets an optional duration parameter, such as "24h", from conf.
func Duration(conf map[string]interface{}, key string, dflt time.Duration) (time.Duration, error) {
	switch v := conf[key].(type) {
	case nil:
		return dflt, nil
	case string:
		d, err := time.ParseDuration(v)
		return d, errors.Wrapf(err, "parsing %q parameter", key)
	case time.Duration:
		return v, nil
	default:
		return 0, fmt.Errorf("parameter %q has type %T, want duration string", key, v)
	}
}
