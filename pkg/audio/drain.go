package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Capture uses it so a device goroutine blocked on send can observe Close.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
