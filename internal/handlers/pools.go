// Package handlers provides HTTP request handlers for the movies API.
package handlers

import (
	"bytes"
	"sync"
)

// Request envelopes are small; listing responses carry a page of movies
// with overviews and poster URLs, so the two pools size differently.
var (
	jsonBufferPool     = newBufferPool(2 << 10)
	responseBufferPool = newBufferPool(8 << 10)
)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(capacity int) *bufferPool {
	return &bufferPool{pool: sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, capacity))
		},
	}}
}

func (p *bufferPool) get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}

func getBuffer() *bytes.Buffer          { return jsonBufferPool.get() }
func putBuffer(buf *bytes.Buffer)       { jsonBufferPool.put(buf) }
func getResponseBuffer() *bytes.Buffer  { return responseBufferPool.get() }
func putResponseBuffer(b *bytes.Buffer) { responseBufferPool.put(b) }
