package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeArg(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"empty means now", "", now, false},
		{"now", "now", now, false},
		{"relative", "now-15m", now.Add(-15 * time.Minute), false},
		{"rfc3339", "2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), false},
		{"bad relative", "now-abc", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeArg(tt.input, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindValidation, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got))
		})
	}
}

func TestParseTimeRangeDefaultsStart(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r, err := ParseTimeRange("", "", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), r.Start)
	assert.Equal(t, now, r.End)
	assert.NoError(t, r.Validate())
}

func TestTimeRangeValidate(t *testing.T) {
	now := time.Now()

	assert.Error(t, TimeRange{}.Validate())
	assert.Error(t, TimeRange{Start: now, End: now}.Validate())
	assert.Error(t, TimeRange{Start: now, End: now.Add(-time.Second)}.Validate())
	assert.NoError(t, TimeRange{Start: now.Add(-time.Second), End: now}.Validate())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindNotFound, KindOf(NotFoundErrorf("no spans for trace %s", "abc")))

	wrapped := fmt.Errorf("outer: %w", BackendError(errors.New("eof"), "search failed"))
	assert.True(t, IsKind(wrapped, KindBackend))
	assert.Equal(t, "search failed: eof", BackendError(errors.New("eof"), "search failed").Error())
}

func TestSpanKeys(t *testing.T) {
	s := Span{TraceID: "t1", SpanID: "s1", ParentSpanID: "p1", Status: StatusError}

	assert.Equal(t, SpanKey{TraceID: "t1", SpanID: "s1"}, s.Key())
	assert.Equal(t, SpanKey{TraceID: "t1", SpanID: "p1"}, s.ParentKey())
	assert.True(t, s.IsError())
	assert.False(t, Span{Status: StatusOK}.IsError())
}
