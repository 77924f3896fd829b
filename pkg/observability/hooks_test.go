package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	// Fetch hooks
	f := NoopFetchHooks{}
	f.OnFetchStart(ctx, "forward", 2)
	f.OnFetchComplete(ctx, "forward", 2, 20, time.Second, nil)
	f.OnFetchRejected(ctx, "backward", 0, "gap")

	// Layout hooks
	l := NoopLayoutHooks{}
	l.OnLayout(ctx, 3, 60, "center-out", time.Millisecond)

	// Cache hooks
	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "page")
	c.OnCacheMiss(ctx, "page")
	c.OnCacheSet(ctx, "http", 1024)

	// HTTP hooks
	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "localhost:8080", "/api/projects")
	h.OnResponse(ctx, "GET", "localhost:8080", "/api/projects", 200, time.Second)
	h.OnError(ctx, "GET", "localhost:8080", "/api/projects", nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	// Reset to known state
	Reset()

	// Verify defaults are noop
	if _, ok := Fetch().(NoopFetchHooks); !ok {
		t.Error("Fetch() should return NoopFetchHooks by default")
	}
	if _, ok := Layout().(NoopLayoutHooks); !ok {
		t.Error("Layout() should return NoopLayoutHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	customFetch := &testFetchHooks{}
	SetFetchHooks(customFetch)
	if Fetch() != customFetch {
		t.Error("SetFetchHooks should set custom hooks")
	}

	customLayout := &testLayoutHooks{}
	SetLayoutHooks(customLayout)
	if Layout() != customLayout {
		t.Error("SetLayoutHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	// Reset and verify
	Reset()
	if _, ok := Fetch().(NoopFetchHooks); !ok {
		t.Error("Reset() should restore NoopFetchHooks")
	}
	if _, ok := Layout().(NoopLayoutHooks); !ok {
		t.Error("Reset() should restore NoopLayoutHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testFetchHooks{}
	SetFetchHooks(custom)

	// Setting nil should be ignored
	SetFetchHooks(nil)

	if Fetch() != custom {
		t.Error("SetFetchHooks(nil) should be ignored")
	}

	Reset()
}

// Test implementations
type testFetchHooks struct{ NoopFetchHooks }
type testLayoutHooks struct{ NoopLayoutHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testHTTPHooks struct{ NoopHTTPHooks }
