// Package consumer drains the broker queue.
//
// Consumer.Run pops messages one at a time and passes each id to a Handler.
// When the queue is empty, or the broker cannot be reached, it waits with
// truncated exponential backoff and jitter before the next pop. A successful
// pop resets the wait.
package consumer
