// Package cache provides small in-process caches with time-based expiry.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a key/value cache whose entries expire after a fixed TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Evict(key K)
}

// LRU is a bounded Cache that drops the least recently used entry when full.
type LRU[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewLRU creates a cache holding at most size entries, each kept for ttl.
func NewLRU[K comparable, V any](size int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *LRU[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

func (c *LRU[K, V]) Evict(key K) {
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Noop never stores anything.
type Noop[K comparable, V any] struct{}

func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}

func (Noop[K, V]) Set(K, V) {}

func (Noop[K, V]) Evict(K) {}
