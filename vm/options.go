package vm

// config holds runtime creation settings.
type config struct {
	collectThreshold int
	memoryLimitPages uint32
}

// Option configures a VM.
type Option func(*config)

// WithCollectThreshold triggers a collection at the next top-level call
// once n objects have been allocated since the last collection.
// 0 disables automatic collection.
func WithCollectThreshold(n int) Option {
	return func(c *config) {
		c.collectThreshold = n
	}
}

// WithMemoryLimitPages caps the linear memory of every assembly instance
// in 64KB pages. 0 keeps the wazero default.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}
