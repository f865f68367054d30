package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/travelcrawl/internal/browser"
)

const cdn = "https://cdn5.travelconline.com/images/"

func feed(urls ...string) chan browser.ResponseEvent {
	ch := make(chan browser.ResponseEvent, len(urls))
	for _, u := range urls {
		ch <- browser.ResponseEvent{URL: u}
	}
	return ch
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("capture did not finish")
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		url     string
		want    bool
	}{
		{"prefix hit", Pattern{Value: cdn, Match: Prefix}, cdn + "a.jpg", true},
		{"prefix miss mid-string", Pattern{Value: cdn, Match: Prefix}, "https://proxy/?u=" + cdn + "a.jpg", false},
		{"contains hit", Pattern{Value: "tr2storage.blob.core.windows.net/imagenes/", Match: Contains},
			"https://tr2storage.blob.core.windows.net/imagenes/x.jpg", true},
		{"contains miss", Pattern{Value: "/imagenes/", Match: Contains}, "https://site/images/x.jpg", false},
		{"empty never matches", Pattern{Match: Contains}, "https://site/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.Matches(tt.url))
		})
	}
}

func TestPatternValidate(t *testing.T) {
	assert.NoError(t, Pattern{Value: cdn, Match: Prefix}.Validate())
	assert.Error(t, Pattern{Value: cdn, Match: "regex"}.Validate())
	assert.Error(t, Pattern{Match: Prefix}.Validate())
}

func TestCaptureDeduplicatesAndFilters(t *testing.T) {
	ch := feed(
		cdn+"a.jpg",
		"https://www.viajes.carrefour.es/app.js",
		cdn+"b.jpg",
		cdn+"a.jpg",
	)
	close(ch)

	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})
	waitDone(t, h)

	assert.Equal(t, []string{cdn + "a.jpg", cdn + "b.jpg"}, h.Captured())
	assert.Equal(t, 2, h.Len())
}

func TestCapturedReturnsSnapshot(t *testing.T) {
	ch := feed(cdn + "a.jpg")
	close(ch)
	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})
	waitDone(t, h)

	got := h.Captured()
	got[0] = "mutated"
	assert.Equal(t, []string{cdn + "a.jpg"}, h.Captured())
}

func TestWaitSettledQuietAfterActivityStops(t *testing.T) {
	ch := make(chan browser.ResponseEvent)
	defer close(ch)
	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})

	go func() {
		for i := 0; i < 3; i++ {
			ch <- browser.ResponseEvent{URL: cdn + string(rune('a'+i)) + ".jpg"}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	start := time.Now()
	reason, err := h.WaitSettled(context.Background(), 100*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Quiet, reason)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, h.Len())
}

func TestWaitSettledHitsCeiling(t *testing.T) {
	ch := make(chan browser.ResponseEvent)
	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})

	stop := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			select {
			case <-stop:
				return
			case ch <- browser.ResponseEvent{URL: cdn + time.Now().Format(time.RFC3339Nano)}:
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()
	defer close(stop)

	reason, err := h.WaitSettled(context.Background(), 200*time.Millisecond, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Ceiling, reason)
}

func TestWaitSettledCancelled(t *testing.T) {
	ch := make(chan browser.ResponseEvent)
	defer close(ch)
	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.WaitSettled(ctx, time.Second, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitSettledStreamClosed(t *testing.T) {
	ch := make(chan browser.ResponseEvent)
	h := Observe(ch, Pattern{Value: cdn, Match: Prefix})
	close(ch)

	reason, err := h.WaitSettled(context.Background(), time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, StreamClosed, reason)
}
