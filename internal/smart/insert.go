package smart

import (
	"io"
	"sync"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
)

// chunkQueue is a thread-safe FIFO of raw body chunks feeding the insert
// worker goroutine.
//
// The queue is unbounded: the medium must never block on a slow inserter,
// or a stalled repository would back-pressure into the protocol read loop.
//
// A buffered signal channel (size 1) coalesces availability notifications
// so the worker can block without spinning.
type chunkQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
	signal chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{
		chunks: make([][]byte, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a chunk. Returns false if the queue is closed.
func (q *chunkQueue) Enqueue(chunk []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.chunks = append(q.chunks, chunk)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Close marks the end of the stream. Enqueued chunks remain dequeueable.
func (q *chunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a chunk is available and returns it, or io.EOF once the
// queue is closed and drained. It implements pack.ByteSource for the stream
// reader running in the worker goroutine.
func (q *chunkQueue) Next() ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			c := q.chunks[0]
			q.chunks[0] = nil
			if len(q.chunks) == 1 {
				q.chunks = q.chunks[:0]
			} else {
				q.chunks = q.chunks[1:]
			}
			q.mu.Unlock()
			return c, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, io.EOF
		}
		q.mu.Unlock()
		<-q.signal
	}
}

var _ pack.ByteSource = (*chunkQueue)(nil)

// inserter runs Repository.InsertStream in a worker goroutine fed by a
// chunkQueue. The protocol thread enqueues body chunks as they arrive and
// joins the worker at end-of-body; the worker's error (or result) is
// reported there with its identity intact.
type inserter struct {
	queue  *chunkQueue
	done   chan struct{}
	result *vcs.InsertResult
	err    error
}

// startInsert launches the worker. Errors raised inside it, including a bad
// leading format record, are held with their identity intact until Finish.
// The queue is unbounded, so enqueuing after a worker error never blocks.
func startInsert(repo vcs.Repository, resumeTokens []vcs.Token) *inserter {
	ins := &inserter{queue: newChunkQueue(), done: make(chan struct{})}
	go func() {
		defer close(ins.done)
		format, stream, err := pack.NewStreamReader(ins.queue)
		if err != nil {
			ins.err = err
			return
		}
		ins.result, ins.err = repo.InsertStream(format, stream, resumeTokens)
	}()
	return ins
}

// Accept feeds one body chunk to the worker.
func (i *inserter) Accept(chunk []byte) {
	i.queue.Enqueue(chunk)
}

// Finish closes the queue and waits for the worker to complete.
func (i *inserter) Finish() (*vcs.InsertResult, error) {
	i.queue.Close()
	<-i.done
	return i.result, i.err
}

// Abort closes the queue and discards the worker's outcome. Used when the
// connection drops mid-stream; any partial state was either committed by
// the worker or abandoned with it.
func (i *inserter) Abort() {
	i.queue.Close()
	<-i.done
}
