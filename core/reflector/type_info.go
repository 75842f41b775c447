// Package reflector provides type reflection utilities with caching.
// It derives the stable names under which events and aggregates are
// persisted.
package reflector

import (
	"reflect"
	"sync"
)

// maxCacheSize is the maximum number of entries in the type cache.
// When exceeded, the cache is cleared.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds metadata about a reflected type.
type TypeInfo struct {
	Name      string       // Fully qualified name: "pkg/path.TypeName"
	ShortName string       // Type name without package path: "TypeName"
	Type      reflect.Type // The underlying reflect.Type
}

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor returns TypeInfo for type parameter T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for the given reflect.Type.
// For pointer types, returns info about the element type. Predeclared and
// unnamed types are named by their Go syntax, e.g. "int" or "[]string".
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Type: t}
	switch {
	case t.Name() == "":
		ti.Name = t.String()
		ti.ShortName = ti.Name
	case t.PkgPath() == "":
		ti.Name = t.Name()
		ti.ShortName = ti.Name
	default:
		ti.Name = t.PkgPath() + "." + t.Name()
		ti.ShortName = t.Name()
	}

	muCache.Lock()
	if existing, ok := cache[t]; ok {
		muCache.Unlock()
		return existing
	}
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	muCache.Unlock()

	return ti
}
