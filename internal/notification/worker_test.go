package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func seed(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertAppliances(ctx, []model.Appliance{{StationID: "S1", ID: "truck-1", Name: "Pumper 1"}}))
	require.NoError(t, s.PutSubscription(ctx, &model.PushSubscription{Endpoint: "https://example.com/push", StationID: "S1", P256DH: "p", Auth: "a"}))
	require.NoError(t, s.PutSubscription(ctx, &model.PushSubscription{Endpoint: "https://example.com/other", StationID: "S2", P256DH: "p", Auth: "a"}))
	return s
}

func issueRun() model.CheckRun {
	return model.CheckRun{
		ID:          "r1",
		StationID:   "S1",
		ApplianceID: "truck-1",
		Status:      model.RunStatusCompleted,
		HasIssues:   true,
		Results: []model.CheckResult{
			{ID: "x1", ItemID: "i1", Status: model.ResultStatusIssue},
			{ID: "x2", ItemID: "i2", Status: model.ResultStatusDone},
		},
	}
}

func TestWorkerPool_NotifyIssuesNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, store.NewMemoryStore(), &webpush.Options{})
	queued := 0
	for i := 0; i < cap(wp.jobs)+5; i++ {
		if wp.NotifyIssues(issueRun()) {
			queued++
		}
	}
	assert.Equal(t, cap(wp.jobs), queued)
}

func TestWorkerPool_SendsToStationSubscribers(t *testing.T) {
	s := seed(t)
	wp := NewWorkerPool(1, s, &webpush.Options{TTL: 60})

	var mu sync.Mutex
	var endpoints []string
	var msg Message
	done := make(chan struct{}, 1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			endpoints = append(endpoints, sub.Endpoint)
			_ = json.Unmarshal(payload, &msg)
			assert.Equal(t, 60, options.TTL)
			done <- struct{}{}
			return response(http.StatusCreated), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)
	require.True(t, wp.NotifyIssues(issueRun()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"https://example.com/push"}, endpoints)
	assert.Equal(t, "r1", msg.RunID)
	assert.Equal(t, "Pumper 1 check completed with 1 issue(s)", msg.Body)
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	s := seed(t)
	wp := NewWorkerPool(1, s, &webpush.Options{})
	wp.sender = &mockSender{
		SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			return response(http.StatusGone), nil
		},
	}

	wp.sendNotificationsForRun(context.Background(), issueRun())

	_, err := s.GetSubscription(context.Background(), "S1", "https://example.com/push")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSubscription(context.Background(), "S2", "https://example.com/other")
	assert.NoError(t, err, "other station untouched")
}

func TestWorkerPool_SendErrorKeepsSubscription(t *testing.T) {
	s := seed(t)
	wp := NewWorkerPool(1, s, &webpush.Options{})
	wp.sender = &mockSender{
		SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			return nil, errors.New("network down")
		},
	}

	wp.sendNotificationsForRun(context.Background(), issueRun())

	_, err := s.GetSubscription(context.Background(), "S1", "https://example.com/push")
	assert.NoError(t, err)
}

func TestBuildMessage_FallsBackToApplianceID(t *testing.T) {
	run := issueRun()
	run.Results = nil
	msg := buildMessage(run, run.ApplianceID)
	assert.Equal(t, "truck-1 check completed with issues", msg.Body)
}
