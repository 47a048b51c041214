package scan

import (
	"context"
	"strconv"
	"time"
)

// ItemProcessor performs the per-item side effect of a scan.
type ItemProcessor interface {
	Process(ctx context.Context, id int64) error
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc func(ctx context.Context, id int64) error

func (f ItemProcessorFunc) Process(ctx context.Context, id int64) error { return f(ctx, id) }

// MetaWriter persists a single metadata value for a post.
type MetaWriter interface {
	UpdatePostMeta(ctx context.Context, postID int64, key, value string) error
}

// MetaStamper writes the current unix time into a post metadata field.
type MetaStamper struct {
	writer MetaWriter
	key    string
	now    func() time.Time
}

// NewMetaStamper returns a processor stamping key on every processed post.
func NewMetaStamper(w MetaWriter, key string) *MetaStamper {
	return &MetaStamper{writer: w, key: key, now: time.Now}
}

func (m *MetaStamper) Process(ctx context.Context, id int64) error {
	return m.writer.UpdatePostMeta(ctx, id, m.key, strconv.FormatInt(m.now().Unix(), 10))
}

// Scheduler arranges a single future cycle. ScheduleOnce reports false when
// a follow-up is already pending.
type Scheduler interface {
	ScheduleOnce(delay time.Duration) bool
}

// Resolver re-derives the items of a scan from the source of truth. It
// returns the items matching filters that have not been processed since.
type Resolver interface {
	Remaining(ctx context.Context, filters []string, since time.Time) ([]int64, error)
}

// Notifier receives progress updates after each batch.
type Notifier interface {
	BroadcastJSON(v interface{})
}
