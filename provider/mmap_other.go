//go:build !unix

package provider

// Default returns the provider best suited to the host. Without mmap, blocks come from the Go heap.
func Default() Provider {
	return NewHeapProvider()
}
