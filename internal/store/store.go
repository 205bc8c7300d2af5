package store

//go:generate mockgen -source store.go -destination mock/store.go -package mock_store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("transaction conflict")
	ErrClosed   = errors.New("store is closed")
	ErrBadPath  = errors.New("invalid path")
)

// Store is a document store with live change feeds and single-document
// read-modify-write transactions.
//
// Every write assigns the document a Version that is strictly greater than any
// version the store handed out before, so a deleted and recreated document
// never repeats a version.
type Store interface {
	Get(ctx context.Context, path Path) (Document, error)
	// Put creates or overwrites the document. WithMerge() merges top-level fields instead.
	Put(ctx context.Context, path Path, fields Fields, opts ...PutOption) error
	// Delete removes the document. Deleting a missing document is not an error.
	// Sub-collections of the document are left alone.
	Delete(ctx context.Context, path Path) error
	// List returns direct children of the collection in insertion order.
	List(ctx context.Context, collection Path) ([]Document, error)
	// WatchCollection delivers current children as Added in insertion order,
	// then every later change, in order.
	WatchCollection(ctx context.Context, collection Path, fn func(Change)) (Subscription, error)
	// WatchDocument delivers the current snapshot, then every later change.
	WatchDocument(ctx context.Context, path Path, fn func(Snapshot)) (Subscription, error)
	// Transact runs fn against the current snapshot of path and commits its
	// mutation atomically. fn may be called more than once.
	Transact(ctx context.Context, path Path, fn func(tx Tx) error) error
	Close() error
}

// Subscription is a live change feed. No callback starts after Unsubscribe returns.
type Subscription interface {
	Unsubscribe()
}

// Tx is the view a transaction function has of its document.
type Tx interface {
	Snapshot() Snapshot
	Set(fields Fields)
	Merge(fields Fields)
	Delete()
}

type PutOption func(*PutOptions)

type PutOptions struct {
	Merge bool
}

func WithMerge() PutOption {
	return func(o *PutOptions) {
		o.Merge = true
	}
}

func NewPutOptions(opts ...PutOption) PutOptions {
	o := PutOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	f()
}
