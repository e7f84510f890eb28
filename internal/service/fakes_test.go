package service

import (
	"context"
	"sync"
	"time"

	"sms-bridge/internal/config"
	"sms-bridge/internal/model"
	"sms-bridge/internal/settings"
)

// In-memory doubles for the fast-store and durable-store interfaces. Shared
// by the service tests in this package.

type fakeChallenges struct {
	mu       sync.Mutex
	byToken  map[string]*model.Challenge
	byMobile map[string]string
	verified map[string]*model.VerificationFlag
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{
		byToken:  map[string]*model.Challenge{},
		byMobile: map[string]string{},
		verified: map[string]*model.VerificationFlag{},
	}
}

func (f *fakeChallenges) PutChallenge(_ context.Context, ch *model.Challenge, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	replaced := false
	if old, ok := f.byMobile[ch.Mobile]; ok {
		delete(f.byToken, old)
		replaced = true
	}
	f.byToken[ch.Token] = ch
	f.byMobile[ch.Mobile] = ch.Token
	return replaced, nil
}

func (f *fakeChallenges) GetChallenge(_ context.Context, token string) (*model.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.byToken[token]
	if !ok {
		return nil, model.ErrChallengeNotFound
	}
	return ch, nil
}

func (f *fakeChallenges) ConsumeChallenge(_ context.Context, token, mobile string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.byToken[token]
	if !ok {
		return model.ErrChallengeNotFound
	}
	delete(f.byToken, token)
	delete(f.byMobile, ch.Mobile)
	f.verified[mobile] = &model.VerificationFlag{
		Mobile:     mobile,
		Token:      token,
		VerifiedAt: time.Now().UTC(),
	}
	return nil
}

type fakeVerifications struct {
	mu    sync.Mutex
	flags map[string]*model.VerificationFlag
	queue *fakeQueues
}

func newFakeVerifications(queue *fakeQueues) *fakeVerifications {
	return &fakeVerifications{flags: map[string]*model.VerificationFlag{}, queue: queue}
}

func (f *fakeVerifications) GetVerification(_ context.Context, mobile string) (*model.VerificationFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flag, ok := f.flags[mobile]
	if !ok {
		return nil, model.ErrVerificationNotFound
	}
	return flag, nil
}

func (f *fakeVerifications) ConsumeVerification(ctx context.Context, mobile, token string, item *model.SyncItem) error {
	f.mu.Lock()
	flag, ok := f.flags[mobile]
	if !ok {
		f.mu.Unlock()
		return model.ErrVerificationNotFound
	}
	if flag.Token != token {
		f.mu.Unlock()
		return model.ErrTokenMismatch
	}
	delete(f.flags, mobile)
	f.mu.Unlock()

	return f.queue.PushSync(ctx, item)
}

type fakeRates struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeRates() *fakeRates {
	return &fakeRates{counts: map[string]int{}}
}

func (f *fakeRates) IncrementCounter(_ context.Context, mobile string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[mobile]++
	return f.counts[mobile], nil
}

func (f *fakeRates) GetCounter(_ context.Context, mobile string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[mobile], nil
}

type fakeBlacklist struct {
	mu  sync.Mutex
	set map[string]bool
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{set: map[string]bool{}}
}

func (f *fakeBlacklist) IsBlacklisted(_ context.Context, mobile string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[mobile], nil
}

func (f *fakeBlacklist) Reload(_ context.Context, mobiles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = map[string]bool{}
	for _, m := range mobiles {
		f.set[m] = true
	}
	return nil
}

type fakeQueues struct {
	mu    sync.Mutex
	items []*model.SyncItem
	retry []*model.SyncItem
	audit []*model.AuditEvent
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{}
}

func (f *fakeQueues) PushSync(_ context.Context, item *model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeQueues) PopSync(_ context.Context) (*model.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, model.ErrQueueEmpty
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, nil
}

func (f *fakeQueues) PushRetry(_ context.Context, item *model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retry = append(f.retry, item)
	return nil
}

func (f *fakeQueues) DrainPending(_ context.Context) ([]*model.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append(f.retry, f.items...)
	f.retry = nil
	f.items = nil
	return items, nil
}

func (f *fakeQueues) Requeue(_ context.Context, items []*model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	return nil
}

func (f *fakeQueues) PushAudit(_ context.Context, event *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, event)
	return nil
}

func (f *fakeQueues) FlushAudit(_ context.Context, max int) ([]*model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.audit) < max {
		max = len(f.audit)
	}
	events := f.audit[:max]
	f.audit = f.audit[max:]
	return events, nil
}

func (f *fakeQueues) RequeueAudit(_ context.Context, events []*model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(events, f.audit...)
	return nil
}

func (f *fakeQueues) auditEvents(kind string) []*model.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditEvent
	for _, e := range f.audit {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakePendingSMS struct {
	mu   sync.Mutex
	rows []*model.PendingSMS
}

func (f *fakePendingSMS) Append(_ context.Context, sms *model.PendingSMS) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, sms)
	return nil
}

func (f *fakePendingSMS) LoadAll(_ context.Context) ([]*model.PendingSMS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.PendingSMS(nil), f.rows...), nil
}

func (f *fakePendingSMS) Delete(_ context.Context, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range messageIDs {
		drop[id] = true
	}
	kept := f.rows[:0]
	for _, row := range f.rows {
		if !drop[row.MessageID] {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

type fakeGate struct {
	active bool
}

func (f *fakeGate) FallbackActive() bool { return f.active }

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			AllowedPrefix:     "ONBOARD:",
			HashLength:        8,
			HMACSecret:        "test-secret",
			ChallengeTTL:      900 * time.Second,
			VerifiedTTL:       3600 * time.Second,
			RateWindow:        60 * time.Second,
			CountThreshold:    3,
			AllowedCountries:  []string{"+91", "+44"},
			SMSReceiverNumber: "+918888888888",
		},
	}
}

func testSettings() *settings.Store {
	return settings.NewStore(settings.Default(testConfig()))
}
