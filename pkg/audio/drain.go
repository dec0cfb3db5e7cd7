package audio

// Drain reads from ch until the channel is closed, discarding all values.
// The session controller uses it after release to discard frames still
// buffered in a stopped stream; the channel must be closed by Stop.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
