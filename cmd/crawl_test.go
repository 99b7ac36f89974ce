package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type fakeApp struct {
	got    crawler.SessionRequest
	closed bool
	err    error
}

func (f *fakeApp) Run(context.Context) error { return nil }

func (f *fakeApp) Crawl(_ context.Context, req crawler.SessionRequest) (crawler.SessionRecord, crawler.ResultView, error) {
	f.got = req
	if f.err != nil {
		return crawler.SessionRecord{}, crawler.ResultView{}, f.err
	}
	return crawler.SessionRecord{ID: "s-1", Status: crawler.StatusDone, Outcome: crawler.OutcomeCompleted},
		crawler.ResultView{SessionID: "s-1", Identifiers: []crawler.Identifier{{ID: "7"}}},
		nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommand_PrintsResult(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	out, err := execute(t, "crawl", "--source", "search", "--param", "word=sky", "--param", "mode=all")
	require.NoError(t, err)
	require.True(t, app.closed)
	require.Equal(t, crawler.SessionRequest{
		Source:    "search",
		StartPage: 1,
		Requested: crawler.DefaultBudget,
		Params:    map[string]string{"word": "sky", "mode": "all"},
	}, app.got)

	var decoded crawlOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, "s-1", decoded.Session.ID)
	require.Len(t, decoded.Result.Identifiers, 1)
}

func TestCrawlCommand_ExplicitRange(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--source", "search", "--start", "3", "--requested", "-1")
	require.NoError(t, err)
	require.Equal(t, 3, app.got.StartPage)
	require.Equal(t, crawler.Unbounded, app.got.Requested)
}

func TestCrawlCommand_RejectsBadFlags(t *testing.T) {
	cases := [][]string{
		{"crawl", "--source", "search", "--start", "0"},
		{"crawl", "--source", "search", "--requested", "-5"},
		{"crawl", "--source", "search", "--requested", "-2"},
		{"crawl", "--source", "search", "--param", "novalue"},
	}
	for _, args := range cases {
		app := &fakeApp{}
		withFakeApp(t, app)
		_, err := execute(t, args...)
		require.Error(t, err, args)
		require.True(t, app.closed, args)
	}
}

func TestCrawlCommand_PropagatesCrawlError(t *testing.T) {
	app := &fakeApp{err: errors.New("boom")}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--source", "search")
	require.ErrorContains(t, err, "boom")
}

func TestRootCommand_FactoryError(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("no config") }
	t.Cleanup(func() { newApp = prev })

	_, err := execute(t, "crawl", "--source", "search")
	require.ErrorContains(t, err, "failed to initialize application services")
}
