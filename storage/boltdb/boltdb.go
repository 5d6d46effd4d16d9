// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package boltdb contains the bbolt implementation of the durable graph
// store.
package boltdb

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/featurebasedb/graphkernel/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	ErrFmtBucketNotFound = "boltdb: bucket '%s' not found"
)

type Bucket []byte

// DB represents the database connection.
type DB struct {
	db *bolt.DB

	// Datasource name.
	DSN string

	// Options applied on Open.
	Timeout         time.Duration
	NoSync          bool
	InitialMmapSize int

	filePath string

	// bucketQueue contains a list of buckets to create upon Open.
	bucketQueue []Bucket
}

// NewDB returns a new instance of DB associated with the given datasource name.
func NewDB(dsn string) *DB {
	return &DB{
		DSN:     dsn,
		Timeout: time.Second,
	}
}

// path returns the file path to the boltdb database file.
func (db *DB) path() (string, error) {
	if !strings.HasPrefix(db.DSN, "file:") {
		return "", errors.New(errors.ErrUncoded, "boltdb package only supports a DSN beginning with `file:`")
	}

	return db.DSN[5:], nil
}

// RegisterBuckets queues up the buckets to be created when the database is
// first opened.
func (db *DB) RegisterBuckets(buckets ...Bucket) {
	db.bucketQueue = append(db.bucketQueue, buckets...)
}

// InitializeBuckets creates the given buckets if they do not already exist.
func (db *DB) InitializeBuckets(buckets ...Bucket) (err error) {
	return db.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Wrapf(err, "creating bucket: %s", bucket)
			}
		}
		return nil
	})
}

// Open opens the database connection.
func (db *DB) Open() (err error) {
	path, err := db.path()
	if err != nil {
		return errors.Wrap(err, "getting path from DSN")
	}

	opts := &bolt.Options{
		Timeout:         db.Timeout,
		NoSync:          db.NoSync,
		InitialMmapSize: db.InitialMmapSize,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	} else if db.db, err = bolt.Open(path, 0666, opts); err != nil {
		return errors.Wrapf(err, "open file: %s", err)
	}

	// cache the path in db.filePath.
	db.filePath = path

	if err := db.InitializeBuckets(db.bucketQueue...); err != nil {
		return errors.Wrap(err, "initializing buckets")
	}

	// Reset the bucketQueue.
	db.bucketQueue = make([]Bucket, 0)

	return nil
}

// Close closes the database connection.
func (db *DB) Close() (err error) {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// Begin starts a bolt transaction.
func (db *DB) Begin(writable bool) (*bolt.Tx, error) {
	return db.db.Begin(writable)
}

// Update runs fn in a read-write transaction.
func (db *DB) Update(fn func(tx *bolt.Tx) error) error {
	return db.db.Update(fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(fn func(tx *bolt.Tx) error) error {
	return db.db.View(fn)
}

func (db *DB) Path() string {
	return db.filePath
}
