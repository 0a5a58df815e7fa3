package remote

import (
	"context"
	"sync"
)

// MemoryClient keeps objects in process memory. Used by tests and as the
// "memory://" DSN scheme for dry runs.
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailDownload and FailUpload, when set, are returned verbatim on the
	// next matching call and then consumed. Tests use them to script
	// failure sequences.
	FailDownload []error
	FailUpload   []error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: map[string][]byte{}}
}

func (c *MemoryClient) Download(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.FailDownload) > 0 {
		err := c.FailDownload[0]
		c.FailDownload = c.FailDownload[1:]
		if err != nil {
			return nil, err
		}
	}
	data, ok := c.objects[path]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Path: path, Err: ErrNotFound}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c *MemoryClient) Upload(ctx context.Context, path string, data []byte, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.FailUpload) > 0 {
		err := c.FailUpload[0]
		c.FailUpload = c.FailUpload[1:]
		if err != nil {
			return err
		}
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c.objects[path] = stored
	return nil
}

func (c *MemoryClient) Close() error { return nil }

// Put seeds an object directly, bypassing the scripted failures.
func (c *MemoryClient) Put(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	c.objects[path] = stored
}

// Get returns the stored object, for assertions.
func (c *MemoryClient) Get(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[path]
	return data, ok
}
