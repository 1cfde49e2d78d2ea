// Package checkrun coordinates collaborative vehicle inspections: it keeps a
// single in-progress run per appliance and station, records item results and
// broadcasts every change to the station's realtime room.
package checkrun

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"truckcheck-backend/internal/metrics"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/realtime"
	"truckcheck-backend/internal/store"
)

// Publisher delivers events to a station room.
type Publisher interface {
	Publish(ctx context.Context, stationID string, event realtime.Event) error
}

// IssueNotifier is told about runs that completed with issues.
type IssueNotifier interface {
	NotifyIssues(run model.CheckRun) bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides run and result id generation.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// WithIssueNotifier sets the notifier used when a run completes with issues.
func WithIssueNotifier(n IssueNotifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// Coordinator owns the decision logic over check-run state. Every mutation
// for one (station, appliance) pair runs under the same in-process lock.
// Writers in other processes are caught by the store's conditional insert
// and versioned updates, after which the decision is made again.
type Coordinator struct {
	store    store.Store
	bus      Publisher
	notifier IssueNotifier
	locks    *keyedLocker
	now      func() time.Time
	newID    func() string
}

// maxAttempts bounds how often one call re-reads after losing a race
// against another process.
const maxAttempts = 16

// New creates a Coordinator. bus may be nil, in which case nothing is broadcast.
func New(s store.Store, bus Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: s,
		bus:   bus,
		locks: newKeyedLocker(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRequest is the input of StartOrJoin.
type StartRequest struct {
	StationID     string
	ApplianceID   string
	ContributorID string
	DisplayName   string
}

// StartOrJoin returns the appliance's active run, adding the caller as a
// contributor, or starts a new one. joined is false only when a run was created.
func (c *Coordinator) StartOrJoin(ctx context.Context, req StartRequest) (*model.CheckRun, bool, error) {
	if strings.TrimSpace(req.ApplianceID) == "" {
		return nil, false, invalid("applianceId", "is required")
	}
	if strings.TrimSpace(req.ContributorID) == "" {
		return nil, false, invalid("completedBy", "is required")
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = req.ContributorID
	}

	if _, err := c.store.GetAppliance(ctx, req.StationID, req.ApplianceID); err != nil {
		return nil, false, storeErr(err, fmt.Sprintf("appliance %q", req.ApplianceID))
	}

	unlock := c.locks.Lock(applianceKey(req.StationID, req.ApplianceID))
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		active, err := c.store.FindActiveRun(ctx, req.StationID, req.ApplianceID)
		if err != nil {
			return nil, false, storeErr(err, "find active run")
		}
		if active != nil {
			run, err := c.join(ctx, active, displayName)
			if errors.Is(err, store.ErrStaleRun) {
				// Joined or completed elsewhere since the read.
				continue
			}
			return run, true, err
		}

		run := &model.CheckRun{
			ID:           c.newID(),
			StationID:    req.StationID,
			ApplianceID:  req.ApplianceID,
			StartTime:    c.now(),
			CompletedBy:  req.ContributorID,
			Contributors: []string{displayName},
			Status:       model.RunStatusInProgress,
			Results:      []model.CheckResult{},
		}
		err = c.store.CreateRun(ctx, run)
		if errors.Is(err, store.ErrActiveRunExists) {
			// Another process created the run between our read and write.
			continue
		}
		if err != nil {
			return nil, false, storeErr(err, "create run")
		}

		log.Printf("Check run %s started on appliance %s (station %s) by %s", run.ID, run.ApplianceID, run.StationID, displayName)
		metrics.RunStarted(false)
		c.publish(ctx, run.StationID, realtime.Event{Type: realtime.EventCheckStarted, RunID: run.ID, CheckRun: run})
		return run, false, nil
	}
	return nil, false, fmt.Errorf("start run on %q: gave up after %d conflicting writes: %w", req.ApplianceID, maxAttempts, ErrDependency)
}

func (c *Coordinator) join(ctx context.Context, run *model.CheckRun, displayName string) (*model.CheckRun, error) {
	if run.AddContributor(displayName) {
		if err := c.store.UpdateRun(ctx, run); err != nil {
			if errors.Is(err, store.ErrStaleRun) {
				return nil, err
			}
			return nil, storeErr(err, "update run")
		}
	}
	results, err := c.store.GetResultsByRun(ctx, run.ID)
	if err != nil {
		return nil, storeErr(err, "load results")
	}
	run.Results = results

	metrics.RunStarted(true)
	c.publish(ctx, run.StationID, realtime.Event{Type: realtime.EventContributorJoined, RunID: run.ID, CheckRun: run})
	return run, nil
}

// ResultInput is the input of RecordResult.
type ResultInput struct {
	StationID       string
	RunID           string
	ItemID          string
	ItemName        string
	ItemDescription string
	Status          model.ResultStatus
	Comment         string
	PhotoURL        string
	CompletedBy     string
}

func (in ResultInput) validate() error {
	if strings.TrimSpace(in.RunID) == "" {
		return invalid("runId", "is required")
	}
	if strings.TrimSpace(in.ItemID) == "" {
		return invalid("itemId", "is required")
	}
	if !in.Status.Valid() {
		return invalid("status", fmt.Sprintf("%q is not one of done, issue, skipped", in.Status))
	}
	return nil
}

// lockRun loads the run, takes its appliance lock and reloads it so the
// caller sees the state as of holding the lock.
func (c *Coordinator) lockRun(ctx context.Context, stationID, runID string) (*model.CheckRun, func(), error) {
	run, err := c.store.GetRun(ctx, stationID, runID)
	if err != nil {
		return nil, nil, storeErr(err, fmt.Sprintf("run %q", runID))
	}
	unlock := c.locks.Lock(applianceKey(stationID, run.ApplianceID))
	run, err = c.store.GetRun(ctx, stationID, runID)
	if err != nil {
		unlock()
		return nil, nil, storeErr(err, fmt.Sprintf("run %q", runID))
	}
	return run, unlock, nil
}

// RecordResult stores the result for (RunID, ItemID), replacing any earlier
// one. created reports whether this was the first result for the item.
func (c *Coordinator) RecordResult(ctx context.Context, in ResultInput) (*model.CheckResult, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	run, unlock, err := c.lockRun(ctx, in.StationID, in.RunID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if !run.Active() {
		return nil, false, fmt.Errorf("record result on run %s: %w", run.ID, ErrInvalidState)
	}

	result := &model.CheckResult{
		ID:              c.newID(),
		RunID:           run.ID,
		ItemID:          in.ItemID,
		StationID:       run.StationID,
		ItemName:        in.ItemName,
		ItemDescription: in.ItemDescription,
		Status:          in.Status,
		Comment:         in.Comment,
		PhotoURL:        in.PhotoURL,
		CompletedBy:     in.CompletedBy,
	}
	created, err := c.store.UpsertResult(ctx, result)
	if err != nil {
		return nil, false, storeErr(err, "upsert result")
	}

	eventType := realtime.EventResultUpdated
	op := "updated"
	if created {
		eventType = realtime.EventResultCreated
		op = "created"
	}
	metrics.ResultRecorded(op)
	c.publish(ctx, run.StationID, realtime.Event{Type: eventType, RunID: run.ID, Result: result})
	return result, created, nil
}

// ResultPatch holds the fields PUT /results/:id may change. Nil means keep.
type ResultPatch struct {
	Status   model.ResultStatus
	Comment  *string
	PhotoURL *string
}

// UpdateResult changes an existing result by id.
func (c *Coordinator) UpdateResult(ctx context.Context, stationID, resultID string, patch ResultPatch) (*model.CheckResult, error) {
	if !patch.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not one of done, issue, skipped", patch.Status))
	}

	result, run, unlock, err := c.lockResult(ctx, stationID, resultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !run.Active() {
		return nil, fmt.Errorf("update result on run %s: %w", run.ID, ErrInvalidState)
	}

	result.Status = patch.Status
	if patch.Comment != nil {
		result.Comment = *patch.Comment
	}
	if patch.PhotoURL != nil {
		result.PhotoURL = *patch.PhotoURL
	}
	if err := c.store.UpdateResult(ctx, result); err != nil {
		return nil, storeErr(err, "update result")
	}

	metrics.ResultRecorded("updated")
	c.publish(ctx, stationID, realtime.Event{Type: realtime.EventResultUpdated, RunID: run.ID, Result: result})
	return result, nil
}

// DeleteResult removes a result by id.
func (c *Coordinator) DeleteResult(ctx context.Context, stationID, resultID string) error {
	result, run, unlock, err := c.lockResult(ctx, stationID, resultID)
	if err != nil {
		return err
	}
	defer unlock()

	if !run.Active() {
		return fmt.Errorf("delete result on run %s: %w", run.ID, ErrInvalidState)
	}
	if err := c.store.DeleteResult(ctx, stationID, resultID); err != nil {
		return storeErr(err, fmt.Sprintf("result %q", resultID))
	}

	metrics.ResultRecorded("deleted")
	c.publish(ctx, stationID, realtime.Event{Type: realtime.EventResultDeleted, RunID: run.ID, Result: result})
	return nil
}

func (c *Coordinator) lockResult(ctx context.Context, stationID, resultID string) (*model.CheckResult, *model.CheckRun, func(), error) {
	result, err := c.store.GetResult(ctx, stationID, resultID)
	if err != nil {
		return nil, nil, nil, storeErr(err, fmt.Sprintf("result %q", resultID))
	}
	run, unlock, err := c.lockRun(ctx, stationID, result.RunID)
	if err != nil {
		return nil, nil, nil, err
	}
	// Reload under the lock; it may have been replaced or deleted meanwhile.
	result, err = c.store.GetResult(ctx, stationID, resultID)
	if err != nil {
		unlock()
		return nil, nil, nil, storeErr(err, fmt.Sprintf("result %q", resultID))
	}
	return result, run, unlock, nil
}

// Complete finishes a run. Completing an already completed run returns it
// unchanged with alreadyCompleted set and broadcasts nothing.
func (c *Coordinator) Complete(ctx context.Context, stationID, runID, additionalComments string) (*model.CheckRun, bool, error) {
	run, unlock, err := c.lockRun(ctx, stationID, runID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if run, err = c.store.GetRun(ctx, stationID, runID); err != nil {
				return nil, false, storeErr(err, fmt.Sprintf("run %q", runID))
			}
		}
		if !run.Active() {
			return run, true, nil
		}

		results, err := c.store.GetResultsByRun(ctx, run.ID)
		if err != nil {
			return nil, false, storeErr(err, "load results")
		}

		end := c.now()
		run.Status = model.RunStatusCompleted
		run.EndTime = &end
		run.HasIssues = model.HasIssues(results)
		if additionalComments != "" {
			run.AdditionalComments = additionalComments
		}
		err = c.store.UpdateRun(ctx, run)
		if errors.Is(err, store.ErrStaleRun) {
			continue
		}
		if err != nil {
			return nil, false, storeErr(err, "update run")
		}
		run.Results = results

		log.Printf("Check run %s completed (issues: %t, results: %d)", run.ID, run.HasIssues, len(results))
		metrics.RunCompleted(run.HasIssues)
		c.publish(ctx, stationID, realtime.Event{Type: realtime.EventCheckCompleted, RunID: run.ID, CheckRun: run})

		if run.HasIssues && c.notifier != nil {
			if !c.notifier.NotifyIssues(*run) {
				log.Printf("Issue notification for run %s was not queued", run.ID)
			}
		}
		return run, false, nil
	}
	return nil, false, fmt.Errorf("complete run %s: gave up after %d conflicting writes: %w", runID, maxAttempts, ErrDependency)
}

// GetRun returns a run with its results.
func (c *Coordinator) GetRun(ctx context.Context, stationID, runID string) (*model.CheckRun, error) {
	run, err := c.store.GetRun(ctx, stationID, runID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("run %q", runID))
	}
	return run, nil
}

// ListRuns returns the station's runs matching filter, newest first.
func (c *Coordinator) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.CheckRun, error) {
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return nil, invalid("endDate", "is before startDate")
	}
	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "list runs")
	}
	return runs, nil
}

// publish is best effort: the store write already happened and stays.
func (c *Coordinator) publish(ctx context.Context, stationID string, event realtime.Event) {
	if c.bus == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if err := c.bus.Publish(ctx, stationID, event); err != nil {
		log.Printf("Failed to publish %s for run %s to %s: %v", event.Type, event.RunID, realtime.RoomName(stationID), err)
	}
}
