// Package buffer provides a thread-safe FIFO buffer for handing work from
// latency-sensitive producers to a background consumer.
//
// Producers call Add, which never blocks: when the buffer holds its maximum
// number of elements, Add fails with ErrFull and the producer decides what to
// drop. A single consumer calls Next, which blocks until an element arrives
// or the buffer is closed.
//
// Example usage:
//
//	q := buffer.N[job](1024)
//	go func() {
//	    for {
//	        j, err := q.Next()
//	        if err != nil {
//	            return // ErrIteratorDone after CloseWrite
//	        }
//	        j.run()
//	    }
//	}()
//	if err := q.Add(j); errors.Is(err, buffer.ErrFull) {
//	    // shed load
//	}
//	q.CloseWrite()
package buffer
