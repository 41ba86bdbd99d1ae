// Package testutil provides shared test doubles and fixtures for locbot tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"locbot/internal/models"
	"locbot/internal/notify"
	appmodels "locbot/models"
)

// EditCall records one Channel.Edit.
type EditCall struct {
	Handle models.NotificationHandle
	Text   string
}

// AnswerCall records one callback acknowledgment.
type AnswerCall struct {
	CallbackID string
	Text       string
	Alert      bool
}

// ChannelStub is an in-memory chat transport for tests.
type ChannelStub struct {
	mu      sync.Mutex
	sent    []notify.OutgoingMessage
	edits   []EditCall
	answers []AnswerCall
	calls   []string
	nextID  int

	SendErr   error
	EditErr   error
	AnswerErr error
}

// NewChannelStub creates a stub whose first message id is 100.
func NewChannelStub() *ChannelStub {
	return &ChannelStub{nextID: 100}
}

// Send records msg and returns a fresh handle.
func (s *ChannelStub) Send(_ context.Context, msg notify.OutgoingMessage) (models.NotificationHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "send")
	if s.SendErr != nil {
		return models.NotificationHandle{}, s.SendErr
	}
	s.sent = append(s.sent, msg)
	s.nextID++
	return models.NotificationHandle{ChatID: msg.ChatID, MessageID: s.nextID}, nil
}

// Edit records the replacement text.
func (s *ChannelStub) Edit(_ context.Context, handle models.NotificationHandle, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "edit")
	if s.EditErr != nil {
		return s.EditErr
	}
	s.edits = append(s.edits, EditCall{Handle: handle, Text: text})
	return nil
}

// Answer records a callback acknowledgment.
func (s *ChannelStub) Answer(_ context.Context, callbackID, text string, alert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "answer")
	s.answers = append(s.answers, AnswerCall{CallbackID: callbackID, Text: text, Alert: alert})
	return s.AnswerErr
}

// Sent returns the delivered messages.
func (s *ChannelStub) Sent() []notify.OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.OutgoingMessage(nil), s.sent...)
}

// Edits returns the applied edits.
func (s *ChannelStub) Edits() []EditCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EditCall(nil), s.edits...)
}

// Answers returns the acknowledgments.
func (s *ChannelStub) Answers() []AnswerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AnswerCall(nil), s.answers...)
}

// Calls returns the order in which methods were invoked.
func (s *ChannelStub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// LocationRepoStub is an in-memory ledger implementation for tests.
type LocationRepoStub struct {
	mu    sync.Mutex
	items map[string]*models.ApprovedLocation

	RecordErr error
	ListErr   error
}

// NewLocationRepoStub creates an empty ledger stub.
func NewLocationRepoStub() *LocationRepoStub {
	return &LocationRepoStub{items: make(map[string]*models.ApprovedLocation)}
}

// Record stores loc unless its id is already present.
func (s *LocationRepoStub) Record(_ context.Context, loc *models.ApprovedLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	if _, ok := s.items[loc.ID]; ok {
		return nil
	}
	cp := *loc
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.items[loc.ID] = &cp
	return nil
}

// GetByID fetches one row.
func (s *LocationRepoStub) GetByID(_ context.Context, id string) (*models.ApprovedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, appmodels.NewNotFoundError("Location", id)
	}
	cp := *item
	return &cp, nil
}

// List returns every row ordered by approval time.
func (s *LocationRepoStub) List(_ context.Context) ([]models.ApprovedLocation, error) {
	return s.filter(func(*models.ApprovedLocation) bool { return true })
}

// ListUnpublished returns rows not yet confirmed in the shared document.
func (s *LocationRepoStub) ListUnpublished(_ context.Context) ([]models.ApprovedLocation, error) {
	return s.filter(func(l *models.ApprovedLocation) bool { return l.PublishedAt == nil })
}

// MarkPublished stamps rows that have no publish time yet.
func (s *LocationRepoStub) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if item, ok := s.items[id]; ok && item.PublishedAt == nil {
			t := at
			item.PublishedAt = &t
		}
	}
	return nil
}

// CountUnpublished counts rows with no publish time.
func (s *LocationRepoStub) CountUnpublished(ctx context.Context) (int64, error) {
	locs, err := s.ListUnpublished(ctx)
	return int64(len(locs)), err
}

func (s *LocationRepoStub) filter(keep func(*models.ApprovedLocation) bool) ([]models.ApprovedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]models.ApprovedLocation, 0, len(s.items))
	for _, item := range s.items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ApprovedAt.Equal(out[j].ApprovedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ApprovedAt.Before(out[j].ApprovedAt)
	})
	return out, nil
}
