package slowlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowCursorNext(t *testing.T) {
	loc := shanghai(t)
	now := time.Date(2024, 5, 1, 10, 30, 15, 0, loc)
	c := NewWindowCursor(loc, 0).WithClock(func() time.Time { return now })

	w1 := c.Next()
	now = now.Add(time.Second)
	w2 := c.Next()

	assert.Equal(t, time.Minute, w1.Duration())
	assert.Equal(t, time.Minute, w2.Duration())
	assert.Equal(t, time.Second, w2.End.Sub(w1.End))
	assert.Equal(t, time.UTC, w1.End.Location())
	assert.Equal(t, 2, w1.End.Hour())
}

func TestWindowFormat(t *testing.T) {
	loc := shanghai(t)
	w := Window{
		Start: time.Date(2024, 5, 1, 2, 29, 15, 0, time.UTC),
		End:   time.Date(2024, 5, 1, 2, 30, 15, 0, time.UTC),
	}

	start, end := w.Format(AliyunTimeLayout, loc)
	assert.Equal(t, "2024-05-01T02:29Z", start)
	assert.Equal(t, "2024-05-01T02:30Z", end)

	start, end = w.Format(HuaweiTimeLayout, loc)
	assert.Equal(t, "2024-05-01T10:29:15+0800", start)
	assert.Equal(t, "2024-05-01T10:30:15+0800", end)
}

func TestWindowCursorCustomLength(t *testing.T) {
	c := NewWindowCursor(nil, 5*time.Minute)
	assert.Equal(t, 5*time.Minute, c.Length())
	assert.Equal(t, 5*time.Minute, c.Next().Duration())
}
