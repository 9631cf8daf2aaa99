package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	mu       sync.Mutex
	fetches  []FetchRequest
	commands []string
}

func (f *fakeInspector) Ping() string {
	return "PONG"
}

func (f *fakeInspector) FetchURL(ctx context.Context, req FetchRequest) FetchResult {
	f.mu.Lock()
	f.fetches = append(f.fetches, req)
	f.mu.Unlock()

	res := FetchResult{URL: req.URL, Content: "content of " + req.URL}
	if req.TakeScreenshot {
		res.Screenshot = strPtr(ScreenshotPlaceholder)
	}
	return res
}

func (f *fakeInspector) RunCommand(ctx context.Context, commandLine string) CommandOutcome {
	f.mu.Lock()
	f.commands = append(f.commands, commandLine)
	f.mu.Unlock()

	return Executed(CommandResult{
		Command:    commandLine,
		Output:     "ran " + commandLine,
		ExecutedAt: "2024-05-06T05:08:09.123Z",
	})
}

func TestInspector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("inspected"))
	}))
	defer server.Close()

	insp := NewInspector(NewFetcher(testFetchConfig()), newTestRunner(t, testCommandConfig()))
	assert.Equal(t, "PONG", insp.Ping())

	fetched := insp.FetchURL(context.Background(), FetchRequest{URL: server.URL, TakeScreenshot: true})
	require.False(t, fetched.Failed())
	assert.Equal(t, "inspected", fetched.Content)
	require.NotNil(t, fetched.Screenshot)

	failed := insp.FetchURL(context.Background(), FetchRequest{URL: "not a url"})
	require.True(t, failed.Failed())
	assert.Equal(t, KindMalformedInput, failed.Kind)

	outcome := insp.RunCommand(context.Background(), "echo inspected")
	got, ok := outcome.Result()
	require.True(t, ok)
	assert.Equal(t, "inspected\n", got.Output)

	assert.False(t, insp.RunCommand(context.Background(), " ").Executed())
}
