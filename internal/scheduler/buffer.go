package scheduler

// bufferDepth is how many recent values are retained per key. Two is
// enough to tell whether the latest observation changed.
const bufferDepth = 2

// ChangeBuffer remembers the most recent values recorded under each key
// so callers can act only when an observation actually changes, for
// example to suppress repeated identical status log lines.
type ChangeBuffer struct {
	values map[string][]any
}

func NewChangeBuffer() *ChangeBuffer {
	return &ChangeBuffer{values: make(map[string][]any)}
}

// Add records v as the newest value for key, evicting the oldest value
// once bufferDepth values are held.
func (b *ChangeBuffer) Add(key string, v any) {
	vs := append(b.values[key], v)
	if len(vs) > bufferDepth {
		vs = vs[len(vs)-bufferDepth:]
	}
	b.values[key] = vs
}

// HasDifference reports whether the two most recent values for key
// differ. A key with fewer than two recorded values always reports
// true, so the first observation is never suppressed.
func (b *ChangeBuffer) HasDifference(key string) bool {
	vs := b.values[key]
	if len(vs) < bufferDepth {
		return true
	}
	return vs[len(vs)-1] != vs[len(vs)-2]
}

// Clear drops all recorded values for key.
func (b *ChangeBuffer) Clear(key string) {
	delete(b.values, key)
}
