package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/riftstats/rift-worker/internal/models"
	"github.com/riftstats/rift-worker/internal/rift"
)

type mockAccountStore struct {
	statusCalls   []statusCall
	progressCalls []progressCall
}

type statusCall struct {
	key        string
	status     models.SyncStatus
	lastSyncAt *time.Time
}

type progressCall struct {
	key            string
	current, total int
}

func (m *mockAccountStore) UpdateStatus(ctx context.Context, key string, status models.SyncStatus, lastSyncAt *time.Time) error {
	m.statusCalls = append(m.statusCalls, statusCall{key: key, status: status, lastSyncAt: lastSyncAt})
	return nil
}

func (m *mockAccountStore) UpdateProgress(ctx context.Context, key string, current, total int) error {
	m.progressCalls = append(m.progressCalls, progressCall{key: key, current: current, total: total})
	return nil
}

type mockLedger struct {
	known       map[string]struct{}
	recorded    []string
	recordErrFn func(matchID string) error
}

func (m *mockLedger) KnownMatchIDs(ctx context.Context, accountKey string) (map[string]struct{}, error) {
	if m.known == nil {
		return map[string]struct{}{}, nil
	}
	return m.known, nil
}

func (m *mockLedger) RecordMatch(ctx context.Context, accountKey, matchID string, gameCreation int64, payload []byte) error {
	if m.recordErrFn != nil {
		if err := m.recordErrFn(matchID); err != nil {
			return err
		}
	}
	m.recorded = append(m.recorded, matchID)
	return nil
}

type mockProvider struct {
	listFunc  func(ctx context.Context, accountKey string) ([]string, error)
	fetchFunc func(ctx context.Context, matchID string) (*rift.MatchDetail, error)
}

func (m *mockProvider) ListMatchIDs(ctx context.Context, accountKey string) ([]string, error) {
	return m.listFunc(ctx, accountKey)
}

func (m *mockProvider) FetchMatchDetail(ctx context.Context, matchID string) (*rift.MatchDetail, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, matchID)
	}
	return &rift.MatchDetail{MatchID: matchID, Raw: []byte(`{}`)}, nil
}

type broadcastEvent struct {
	kind           string
	key            string
	current, total int
	matchID        string
	totalSynced    int
	message        string
}

type mockBroadcaster struct {
	events []broadcastEvent
}

func (m *mockBroadcaster) BroadcastProgress(key string, current, total int, matchID string) {
	m.events = append(m.events, broadcastEvent{kind: "progress", key: key, current: current, total: total, matchID: matchID})
}

func (m *mockBroadcaster) BroadcastComplete(key string, totalSynced int) {
	m.events = append(m.events, broadcastEvent{kind: "complete", key: key, totalSynced: totalSynced})
}

func (m *mockBroadcaster) BroadcastError(key string, message string) {
	m.events = append(m.events, broadcastEvent{kind: "error", key: key, message: message})
}

func TestSyncAccount_BackfillsMissingMatches(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_3", "RIFT_2", "RIFT_1"}, nil // newest first
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Oldest first backfill
	wantOrder := []string{"RIFT_1", "RIFT_2", "RIFT_3"}
	if len(ledger.recorded) != 3 {
		t.Fatalf("expected 3 recorded matches, got %d", len(ledger.recorded))
	}
	for i, id := range wantOrder {
		if ledger.recorded[i] != id {
			t.Errorf("expected recorded[%d]=%s, got %s", i, id, ledger.recorded[i])
		}
	}

	// Three progress events with current 1,2,3 and total 3, then complete
	if len(hub.events) != 4 {
		t.Fatalf("expected 4 events, got %d: %v", len(hub.events), hub.events)
	}
	for i := 0; i < 3; i++ {
		ev := hub.events[i]
		if ev.kind != "progress" || ev.current != i+1 || ev.total != 3 {
			t.Errorf("event %d: expected progress %d/3, got %+v", i, i+1, ev)
		}
		if ev.matchID != wantOrder[i] {
			t.Errorf("event %d: expected matchID %s, got %s", i, wantOrder[i], ev.matchID)
		}
	}
	final := hub.events[3]
	if final.kind != "complete" || final.totalSynced != 3 {
		t.Errorf("expected complete with totalSynced 3, got %+v", final)
	}

	// Terminal status is completed with lastSyncAt set
	last := store.statusCalls[len(store.statusCalls)-1]
	if last.status != models.SyncCompleted {
		t.Errorf("expected completed status, got %s", last.status)
	}
	if last.lastSyncAt == nil {
		t.Error("expected lastSyncAt to be set on completion")
	}
}

func TestSyncAccount_SkipsKnownMatches(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{known: map[string]struct{}{"RIFT_1": {}, "RIFT_2": {}}}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_3", "RIFT_2", "RIFT_1"}, nil
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(ledger.recorded) != 1 || ledger.recorded[0] != "RIFT_3" {
		t.Errorf("expected only RIFT_3 to be recorded, got %v", ledger.recorded)
	}
	if hub.events[len(hub.events)-1].totalSynced != 1 {
		t.Errorf("expected totalSynced 1, got %+v", hub.events[len(hub.events)-1])
	}
}

func TestSyncAccount_ListFailureMarksFailed(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return nil, errors.New("connection refused")
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err == nil {
		t.Fatal("expected error, got nil")
	}

	if len(store.statusCalls) != 1 {
		t.Fatalf("expected 1 status call, got %d", len(store.statusCalls))
	}
	call := store.statusCalls[0]
	if call.status != models.SyncFailed {
		t.Errorf("expected failed status, got %s", call.status)
	}
	if call.lastSyncAt != nil {
		t.Error("a failed run must not touch lastSyncAt")
	}

	if len(hub.events) != 1 || hub.events[0].kind != "error" {
		t.Fatalf("expected exactly one error event, got %v", hub.events)
	}
}

func TestSyncAccount_RateLimitAbortsRun(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_3", "RIFT_2", "RIFT_1"}, nil
		},
		fetchFunc: func(ctx context.Context, matchID string) (*rift.MatchDetail, error) {
			if matchID == "RIFT_2" {
				return nil, rift.ErrRateLimited
			}
			return &rift.MatchDetail{MatchID: matchID, Raw: []byte(`{}`)}, nil
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err == nil {
		t.Fatal("expected error, got nil")
	}

	// RIFT_1 made it in before the limiter hit
	if len(ledger.recorded) != 1 || ledger.recorded[0] != "RIFT_1" {
		t.Errorf("expected only RIFT_1 recorded, got %v", ledger.recorded)
	}

	last := store.statusCalls[len(store.statusCalls)-1]
	if last.status != models.SyncFailed {
		t.Errorf("expected failed status, got %s", last.status)
	}

	final := hub.events[len(hub.events)-1]
	if final.kind != "error" {
		t.Errorf("expected final event to be error, got %+v", final)
	}
}

func TestSyncAccount_SingleFetchFailureIsSkipped(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_3", "RIFT_2", "RIFT_1"}, nil
		},
		fetchFunc: func(ctx context.Context, matchID string) (*rift.MatchDetail, error) {
			if matchID == "RIFT_2" {
				return nil, fmt.Errorf("transient timeout")
			}
			return &rift.MatchDetail{MatchID: matchID, Raw: []byte(`{}`)}, nil
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err != nil {
		t.Fatalf("expected run to continue past a single fetch failure, got %v", err)
	}

	if len(ledger.recorded) != 2 {
		t.Errorf("expected 2 recorded matches, got %v", ledger.recorded)
	}

	last := store.statusCalls[len(store.statusCalls)-1]
	if last.status != models.SyncCompleted {
		t.Errorf("expected completed status despite skip, got %s", last.status)
	}
}

func TestSyncAccount_PersistFailureIsSkipped(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{
		recordErrFn: func(matchID string) error {
			if matchID == "RIFT_1" {
				return errors.New("constraint violation")
			}
			return nil
		},
	}
	hub := &mockBroadcaster{}
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_2", "RIFT_1"}, nil
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	if err := p.SyncAccount(context.Background(), "puuid-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(ledger.recorded) != 1 || ledger.recorded[0] != "RIFT_2" {
		t.Errorf("expected only RIFT_2 recorded, got %v", ledger.recorded)
	}
}

func TestSyncAccount_CancellationLeavesSyncing(t *testing.T) {
	store := &mockAccountStore{}
	ledger := &mockLedger{}
	hub := &mockBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	provider := &mockProvider{
		listFunc: func(ctx context.Context, accountKey string) ([]string, error) {
			return []string{"RIFT_3", "RIFT_2", "RIFT_1"}, nil
		},
		fetchFunc: func(ctx context.Context, matchID string) (*rift.MatchDetail, error) {
			cancel() // shutdown arrives mid-run
			return &rift.MatchDetail{MatchID: matchID, Raw: []byte(`{}`)}, nil
		},
	}

	p := NewSyncProcessor(store, ledger, provider, hub)

	err := p.SyncAccount(ctx, "puuid-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// No terminal transition: the stale sweep recovers the claim
	for _, call := range store.statusCalls {
		if call.status == models.SyncCompleted || call.status == models.SyncFailed {
			t.Errorf("cancellation must not reach a terminal status, got %s", call.status)
		}
	}
}

func TestDiffMissing_OldestFirst(t *testing.T) {
	known := map[string]struct{}{"RIFT_2": {}}
	got := diffMissing([]string{"RIFT_4", "RIFT_3", "RIFT_2", "RIFT_1"}, known)

	want := []string{"RIFT_1", "RIFT_3", "RIFT_4"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
