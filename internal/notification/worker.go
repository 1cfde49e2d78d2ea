package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"truckcheck-backend/internal/metrics"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON body delivered to the service worker.
type Message struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	RunID       string `json:"runId"`
	StationID   string `json:"stationId"`
	ApplianceID string `json:"applianceId"`
}

// WorkerPool sends "completed with issues" pushes to a station's subscribers.
type WorkerPool struct {
	size    int
	jobs    chan model.CheckRun
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.CheckRun, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case run := <-wp.jobs:
			log.Printf("Worker %d processing run %s", id, run.ID)
			wp.sendNotificationsForRun(ctx, run)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// NotifyIssues queues run for delivery. It never blocks; a full queue drops
// the job and returns false.
func (wp *WorkerPool) NotifyIssues(run model.CheckRun) bool {
	select {
	case wp.jobs <- run:
		return true
	default:
		log.Printf("Notification queue full, dropping run %s", run.ID)
		return false
	}
}

func (wp *WorkerPool) sendNotificationsForRun(ctx context.Context, run model.CheckRun) {
	subscriptions, err := wp.store.SubscriptionsForStation(ctx, run.StationID)
	if err != nil {
		log.Printf("Error fetching subscriptions for station %s: %v", run.StationID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := run.ApplianceID
	if appliance, err := wp.store.GetAppliance(ctx, run.StationID, run.ApplianceID); err != nil {
		log.Printf("Error fetching appliance %s: %v", run.ApplianceID, err)
	} else if appliance.Name != "" {
		label = appliance.Name
	}

	payload, err := json.Marshal(buildMessage(run, label))
	if err != nil {
		log.Printf("Error encoding notification for run %s: %v", run.ID, err)
		return
	}

	log.Printf("Sending %d notifications for run %s", len(subscriptions), run.ID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func buildMessage(run model.CheckRun, label string) Message {
	issues := 0
	for _, r := range run.Results {
		if r.Status == model.ResultStatusIssue {
			issues++
		}
	}
	body := fmt.Sprintf("%s check completed with %d issue(s)", label, issues)
	if issues == 0 {
		body = fmt.Sprintf("%s check completed with issues", label)
	}
	return Message{
		Title:       "Truck check issues",
		Body:        body,
		RunID:       run.ID,
		StationID:   run.StationID,
		ApplianceID: run.ApplianceID,
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.PushSent(false)
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()
	metrics.PushSent(resp.StatusCode < 300)

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.StationID, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
