package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

type fakeCrawler struct {
	err     error
	targets []string
}

func (c *fakeCrawler) CrawlTarget(_ context.Context, targetID string) error {
	c.targets = append(c.targets, targetID)
	return c.err
}

func TestParseAssignment(t *testing.T) {
	t.Parallel()

	a, err := ParseAssignment(Message{Data: []byte("alice")})
	require.NoError(t, err)
	require.Equal(t, "alice", a.TargetID)
	require.Zero(t, a.RetryCount)

	a, err = ParseAssignment(Message{
		Data:       []byte(`{"target_id":"bob","session_id":"sess-9"}`),
		Attributes: map[string]string{"retry_count": "2"},
	})
	require.NoError(t, err)
	require.Equal(t, "bob", a.TargetID)
	require.Equal(t, "sess-9", a.SessionID)
	require.Equal(t, 2, a.RetryCount)

	_, err = ParseAssignment(Message{Data: []byte("  ")})
	require.Error(t, err)

	_, err = ParseAssignment(Message{Data: []byte(`{"session_id":"x"}`)})
	require.Error(t, err)
}

func TestHandle_SuccessAcks(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{}
	h := NewHandler(c, zap.NewNop(), 3)

	require.True(t, h.Handle(context.Background(), Message{Data: []byte("alice")}))
	require.Equal(t, []string{"alice"}, c.targets)
}

func TestHandle_MalformedAcks(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{}
	h := NewHandler(c, zap.NewNop(), 3)

	require.True(t, h.Handle(context.Background(), Message{Data: []byte("{bad json")}))
	require.Empty(t, c.targets)
}

func TestHandle_GoneTargetAcks(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{err: fmt.Errorf("target alice: %w", crawler.ErrTargetNotFound)}
	h := NewHandler(c, zap.NewNop(), 3)

	require.True(t, h.Handle(context.Background(), Message{Data: []byte("alice")}))
}

func TestHandle_RunFailureNacks(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{err: fmt.Errorf("crawl: %w", crawler.ErrSessionLost)}
	h := NewHandler(c, zap.NewNop(), 3)

	require.False(t, h.Handle(context.Background(), Message{Data: []byte("alice")}))
}

func TestHandle_RetryCapAcks(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{err: errors.New("persistent failure")}
	h := NewHandler(c, zap.NewNop(), 3)

	msg := Message{
		Data:       []byte("alice"),
		Attributes: map[string]string{"retry_count": "3"},
	}
	require.True(t, h.Handle(context.Background(), msg))
}
