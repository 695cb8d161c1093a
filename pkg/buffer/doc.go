// Package buffer provides thread-safe buffer implementations used to turn a
// push-style producer (an LLM token stream, a fan-in of multiple streams)
// into a pull-style io.Reader/iterator consumer without the producer and
// consumer needing to run in lockstep.
//
// Two buffer types are provided:
//
//   - BlockBuffer: a fixed-size circular buffer that blocks when full or
//     empty. Used where bounded memory matters, such as per-token-part
//     byte buffering in a model response stream.
//
//   - Buffer: a growable buffer with no fixed capacity. Used for merging or
//     splitting message-chunk streams where the number of buffered items is
//     not known up front.
//
// Both implement io.Reader/io.Writer/io.Closer and an iterator-style Next(),
// and support graceful shutdown via CloseWrite() (lets buffered reads drain)
// or CloseWithError() (closes both ends immediately).
package buffer
