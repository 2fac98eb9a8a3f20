package extract

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsaver/internal/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fakeDelegate struct {
	url, name string
	err       error
}

func (d *fakeDelegate) Enqueue(ctx context.Context, mediaURL, name string) (string, error) {
	d.url, d.name = mediaURL, name
	if d.err != nil {
		return "", d.err
	}
	return "/downloads/" + DelegateFilename(name), nil
}

func newTestService(t *testing.T, report []*string, delegate Delegate, pub events.Publisher) *Service {
	t.Helper()
	e, err := NewExtractor(&fakeRenderer{report: report}, Options{Logger: testLogger()})
	require.NoError(t, err)
	return NewService(e, delegate, pub, testLogger())
}

func TestService_Extract(t *testing.T) {
	pub := &recordingPublisher{}
	del := &fakeDelegate{}
	svc := newTestService(t, []*string{
		strPtr("https://cdn.example.com/v.mp4"),
		strPtr("https://cdn.example.com/t.jpg"),
		strPtr("Sunset over the bay"),
		strPtr("jane_doe"),
	}, del, pub)

	reply, err := svc.Extract(context.Background(), "https://www.instagram.com/reel/abc/")
	require.NoError(t, err)

	assert.Equal(t, &Reply{
		Type:      "instagram",
		URL:       "https://www.instagram.com/reel/abc/",
		VideoURL:  "https://cdn.example.com/v.mp4",
		Thumbnail: "https://cdn.example.com/t.jpg",
		Caption:   "Sunset over the bay",
		Username:  "jane_doe",
		Title:     "@jane_doe - Sunset over the bay",
	}, reply)

	assert.Equal(t, "https://cdn.example.com/v.mp4", del.url)
	assert.Equal(t, "jane_doe", del.name)

	require.Len(t, pub.events, 1)
	success, ok := pub.events[0].(*events.Success)
	require.True(t, ok)
	assert.Equal(t, DelegatedPath, success.Path)
	assert.Equal(t, "https://cdn.example.com/v.mp4", success.URL)
	assert.NotEmpty(t, success.EntityID())
	assert.Equal(t, StateComplete, svc.State())
}

func TestService_ExtractWithoutUsername(t *testing.T) {
	del := &fakeDelegate{}
	svc := newTestService(t, []*string{strPtr("https://cdn.example.com/v.mp4"), nil, nil, nil}, del, &recordingPublisher{})

	reply, err := svc.Extract(context.Background(), "https://www.instagram.com/p/xyz/")
	require.NoError(t, err)

	assert.Regexp(t, `^insta_\d+$`, del.name)
	assert.Equal(t, "@instagram - ", reply.Title)
	assert.Empty(t, reply.Thumbnail)
	assert.Empty(t, reply.Username)
}

func TestService_ExtractionFailure(t *testing.T) {
	pub := &recordingPublisher{}
	del := &fakeDelegate{}
	svc := newTestService(t, []*string{nil, nil, strPtr("caption"), nil}, del, pub)

	_, err := svc.Extract(context.Background(), "https://www.instagram.com/p/xyz/")
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Empty(t, del.url, "nothing is delegated")
	assert.Empty(t, pub.events)
}

func TestService_DelegationFailure(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, []*string{strPtr("https://cdn.example.com/v.mp4"), nil, nil, nil}, &fakeDelegate{err: assert.AnError}, pub)

	_, err := svc.Extract(context.Background(), "https://www.instagram.com/p/xyz/")
	assert.ErrorIs(t, err, ErrDelegationFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, pub.events)
}
