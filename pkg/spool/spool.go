// Package spool provides a disk-backed cache that lets one upstream sequence
// be consumed independently by several downstream readers without re-running
// the upstream or buffering everything in memory.
//
// Items are pulled from upstream on demand, driven by whichever reader cursor
// is furthest ahead. Each item is msgpack-encoded, snappy-compressed and
// appended with a length prefix to a private temporary file; readers that
// start behind re-read already-produced items from disk. The backing file is
// an arena shared by all readers; each reader holds only its own cursor.
package spool

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/stream"
)

const lengthPrefixBytes = 8

// ErrClosed is returned when reading from a closed spool cache
var ErrClosed = errors.New("spool cache is closed")

// Cache spools one upstream sequence to disk for multi-reader fan-out.
// It is single-threaded: readers pull synchronously, and the furthest-ahead
// reader drives the upstream producer.
type Cache[T any] struct {
	ctx     context.Context
	log     logrus.FieldLogger
	file    *os.File
	path    string
	offsets []int64
	pull    func() (T, error, bool)
	stop    func()
	done    bool
	failed  error
	closed  bool
}

// New spools the given source. The context bounds upstream production: on
// cancellation the in-flight writer is flushed and closed before the error
// propagates, so the file never holds a corrupted partial item.
func New[T any](ctx context.Context, log logrus.FieldLogger, name string, source stream.Seq[T]) (*Cache[T], error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("vectormill-spool-%s-%s.bin", name, uuid.New()))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	next, stop := iter.Pull2(iter.Seq2[T, error](source))
	c := &Cache[T]{
		ctx:  ctx,
		log:  log.WithField("spool", name),
		file: file,
		path: path,
		pull: func() (T, error, bool) {
			v, err, ok := next()
			if !ok {
				var zero T
				return zero, nil, false
			}
			return v, err, true
		},
		stop: stop,
	}

	// The backing file is a scoped resource: removed on explicit Close or,
	// failing that, when the cache is garbage collected.
	runtime.SetFinalizer(c, func(cache *Cache[T]) { cache.Close() })

	return c, nil
}

// Path returns the backing file location.
func (c *Cache[T]) Path() string {
	return c.path
}

// Len returns the number of items spooled so far.
func (c *Cache[T]) Len() int {
	return len(c.offsets)
}

// Close flushes and closes the writer, stops the upstream producer and
// removes the backing file. It is safe to call more than once.
func (c *Cache[T]) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.stop()
	if err := c.file.Close(); err != nil {
		c.log.WithError(err).Warn("Failed to close spool file")
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		c.log.WithError(err).Warn("Failed to remove spool file")
	}
	runtime.SetFinalizer(c, nil)
}

// appendNext pulls one item from upstream onto disk. It returns false when
// the upstream is exhausted or has failed.
func (c *Cache[T]) appendNext() bool {
	if c.done || c.failed != nil || c.closed {
		return false
	}

	// Interruption is caught at the writer boundary: sync what is already on
	// disk, then let the cancellation propagate to readers.
	if err := c.ctx.Err(); err != nil {
		if serr := c.file.Sync(); serr != nil {
			c.log.WithError(serr).Warn("Failed to sync spool file on cancellation")
		}
		c.failed = err
		return false
	}

	item, err, ok := c.pull()
	if !ok {
		c.done = true
		return false
	}
	if err != nil {
		c.failed = err
		return false
	}

	encoded, err := msgpack.Marshal(item)
	if err != nil {
		c.failed = fmt.Errorf("failed to encode spool item: %w", err)
		return false
	}
	payload := snappy.Encode(nil, encoded)

	offset, err := c.file.Seek(0, io.SeekEnd)
	if err != nil {
		c.failed = fmt.Errorf("failed to seek spool file: %w", err)
		return false
	}

	var prefix [lengthPrefixBytes]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(payload)))
	if _, err := c.file.Write(prefix[:]); err != nil {
		c.failed = fmt.Errorf("failed to write spool item: %w", err)
		return false
	}
	if _, err := c.file.Write(payload); err != nil {
		c.failed = fmt.Errorf("failed to write spool item: %w", err)
		return false
	}

	c.offsets = append(c.offsets, offset)
	observability.SpoolBytesWritten.Add(float64(lengthPrefixBytes + len(payload)))
	return true
}

func (c *Cache[T]) ensureIndex(index int) {
	for len(c.offsets) <= index {
		if !c.appendNext() {
			return
		}
	}
}

func (c *Cache[T]) readAt(index int) (T, error) {
	var zero T

	offset := c.offsets[index]
	prefix := make([]byte, lengthPrefixBytes)
	if _, err := c.file.ReadAt(prefix, offset); err != nil {
		return zero, fmt.Errorf("failed to read spool item prefix: %w", err)
	}
	size := binary.LittleEndian.Uint64(prefix)

	payload := make([]byte, size)
	if _, err := c.file.ReadAt(payload, offset+lengthPrefixBytes); err != nil {
		return zero, fmt.Errorf("failed to read spool item: %w", err)
	}

	encoded, err := snappy.Decode(nil, payload)
	if err != nil {
		return zero, fmt.Errorf("failed to decompress spool item: %w", err)
	}

	var item T
	if err := msgpack.Unmarshal(encoded, &item); err != nil {
		return zero, fmt.Errorf("failed to decode spool item: %w", err)
	}
	return item, nil
}

// Reader returns an independent sequential cursor over the spooled sequence.
// Every reader observes the full sequence from the beginning.
func (c *Cache[T]) Reader() stream.Seq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		for index := 0; ; index++ {
			if c.closed {
				yield(zero, ErrClosed)
				return
			}
			c.ensureIndex(index)
			if index >= len(c.offsets) {
				if c.failed != nil {
					yield(zero, c.failed)
				}
				return
			}
			item, err := c.readAt(index)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
