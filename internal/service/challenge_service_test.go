package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
)

const testMobile = "+919876543210"

type challengeFixture struct {
	svc        *ChallengeService
	challenges *fakeChallenges
	rates      *fakeRates
	blacklist  *fakeBlacklist
	queues     *fakeQueues
	gate       *fakeGate
}

func newChallengeFixture() *challengeFixture {
	cfg := testConfig()
	f := &challengeFixture{
		challenges: newFakeChallenges(),
		rates:      newFakeRates(),
		blacklist:  newFakeBlacklist(),
		queues:     newFakeQueues(),
		gate:       &fakeGate{},
	}
	f.svc = NewChallengeService(hashing.NewHasher(cfg), testSettings(),
		f.challenges, f.rates, f.blacklist, NewAuditor(f.queues), f.gate)
	return f
}

func TestIssueChallenge(t *testing.T) {
	f := newChallengeFixture()

	result, err := f.svc.IssueChallenge(context.Background(), testMobile)
	require.NoError(t, err)

	assert.Len(t, result.Token, 8)
	assert.False(t, result.Replaced)
	assert.Equal(t, "+918888888888", result.ReceiverNumber)
	assert.False(t, result.ExpiresAt.IsZero())

	stored, err := f.challenges.GetChallenge(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, testMobile, stored.Mobile)

	events := f.queues.auditEvents(model.EventHashGen)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Details["replaced"])
}

func TestIssueChallengeReplacesLive(t *testing.T) {
	f := newChallengeFixture()

	first, err := f.svc.IssueChallenge(context.Background(), testMobile)
	require.NoError(t, err)
	second, err := f.svc.IssueChallenge(context.Background(), testMobile)
	require.NoError(t, err)

	assert.True(t, second.Replaced)

	// The first token is void; only the replacement resolves.
	_, err = f.challenges.GetChallenge(context.Background(), first.Token)
	assert.ErrorIs(t, err, model.ErrChallengeNotFound)
	_, err = f.challenges.GetChallenge(context.Background(), second.Token)
	assert.NoError(t, err)
}

func TestIssueChallengeNormalizesMobile(t *testing.T) {
	f := newChallengeFixture()

	result, err := f.svc.IssueChallenge(context.Background(), " +91 98765-43210 ")
	require.NoError(t, err)

	stored, err := f.challenges.GetChallenge(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, testMobile, stored.Mobile)
}

func TestIssueChallengePreChecks(t *testing.T) {
	t.Run("invalid mobile", func(t *testing.T) {
		f := newChallengeFixture()
		_, err := f.svc.IssueChallenge(context.Background(), "12345")
		assert.ErrorIs(t, err, ErrInvalidMobile)
	})

	t.Run("country not allowed", func(t *testing.T) {
		f := newChallengeFixture()
		_, err := f.svc.IssueChallenge(context.Background(), "+14155550100")
		assert.ErrorIs(t, err, ErrCountryNotAllowed)
	})

	t.Run("issuance counts against the rate window", func(t *testing.T) {
		f := newChallengeFixture()
		// Threshold 3: three issuances pass, the fourth is refused.
		for i := 0; i < 3; i++ {
			_, err := f.svc.IssueChallenge(context.Background(), testMobile)
			require.NoError(t, err, "issuance %d within threshold", i+1)
		}
		_, err := f.svc.IssueChallenge(context.Background(), testMobile)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 4, f.rates.counts[testMobile])
	})

	t.Run("at threshold passes", func(t *testing.T) {
		f := newChallengeFixture()
		f.rates.counts[testMobile] = 2 // increments to 3, the threshold
		_, err := f.svc.IssueChallenge(context.Background(), testMobile)
		assert.NoError(t, err)
	})

	t.Run("blacklisted", func(t *testing.T) {
		f := newChallengeFixture()
		f.blacklist.set[testMobile] = true
		_, err := f.svc.IssueChallenge(context.Background(), testMobile)
		assert.ErrorIs(t, err, ErrBlacklisted)
	})

	t.Run("fallback mode refuses issuance", func(t *testing.T) {
		f := newChallengeFixture()
		f.gate.active = true
		_, err := f.svc.IssueChallenge(context.Background(), testMobile)
		assert.ErrorIs(t, err, ErrFallbackActive)
	})
}
