// Package eventq provides non-blocking channel sends for event fan-out.
//
// Consumers are woken through small buffered channels. When a send would
// block, a wake is already pending and dropping the new one loses nothing.
package eventq

// Offer performs a non-blocking send. It reports whether the value was
// sent; a full or closed channel drops the value instead of blocking.
func Offer[T any](ch chan<- T, value T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
