package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/config"
	"sms-bridge/internal/model"
	"sms-bridge/internal/settings"
)

// -------------------- fakes --------------------

type fakeChallenges struct {
	byToken map[string]*model.Challenge
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{byToken: map[string]*model.Challenge{}}
}

func (f *fakeChallenges) PutChallenge(_ context.Context, ch *model.Challenge, _ time.Duration) (bool, error) {
	_, replaced := f.byToken[ch.Token]
	f.byToken[ch.Token] = ch
	return replaced, nil
}

func (f *fakeChallenges) GetChallenge(_ context.Context, token string) (*model.Challenge, error) {
	ch, ok := f.byToken[token]
	if !ok {
		return nil, model.ErrChallengeNotFound
	}
	return ch, nil
}

func (f *fakeChallenges) ConsumeChallenge(_ context.Context, token, _ string, _ time.Duration) error {
	if _, ok := f.byToken[token]; !ok {
		return model.ErrChallengeNotFound
	}
	delete(f.byToken, token)
	return nil
}

type fakeRates struct {
	counts map[string]int
}

func newFakeRates() *fakeRates {
	return &fakeRates{counts: map[string]int{}}
}

func (f *fakeRates) IncrementCounter(_ context.Context, mobile string, _ time.Duration) (int, error) {
	f.counts[mobile]++
	return f.counts[mobile], nil
}

func (f *fakeRates) GetCounter(_ context.Context, mobile string) (int, error) {
	return f.counts[mobile], nil
}

type fakeBlacklist struct {
	set map[string]bool
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{set: map[string]bool{}}
}

func (f *fakeBlacklist) IsBlacklisted(_ context.Context, mobile string) (bool, error) {
	return f.set[mobile], nil
}

func (f *fakeBlacklist) Reload(_ context.Context, mobiles []string) error {
	f.set = map[string]bool{}
	for _, m := range mobiles {
		f.set[m] = true
	}
	return nil
}

// -------------------- helpers --------------------

const (
	testMobile = "+919876543210"
	testToken  = "ABCD2345"
)

func testSnapshot() *settings.Snapshot {
	return settings.Default(&config.Config{
		Bridge: config.BridgeConfig{
			AllowedPrefix:    "ONBOARD:",
			HashLength:       8,
			ChallengeTTL:     900 * time.Second,
			VerifiedTTL:      3600 * time.Second,
			RateWindow:       60 * time.Second,
			CountThreshold:   3,
			AllowedCountries: []string{"+91", "+44"},
		},
	})
}

type fixture struct {
	pipeline   *Pipeline
	challenges *fakeChallenges
	rates      *fakeRates
	blacklist  *fakeBlacklist
}

func newFixture() *fixture {
	f := &fixture{
		challenges: newFakeChallenges(),
		rates:      newFakeRates(),
		blacklist:  newFakeBlacklist(),
	}
	f.pipeline = NewPipeline(f.challenges, f.rates, f.blacklist)
	return f
}

func (f *fixture) withChallenge(mobile, token string) *fixture {
	f.challenges.byToken[token] = &model.Challenge{
		Mobile:   mobile,
		Token:    token,
		IssuedAt: time.Now().UTC(),
	}
	return f
}

func statusOf(t *testing.T, result *Result, stage Stage) Status {
	t.Helper()
	for _, sr := range result.Stages {
		if sr.Stage == stage {
			return sr.Status
		}
	}
	t.Fatalf("stage %s missing from result", stage)
	return StatusNotEvaluated
}

// -------------------- tests --------------------

func TestPipelinePass(t *testing.T) {
	f := newFixture().withChallenge(testMobile, testToken)

	result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "ONBOARD:"+testToken)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, testToken, result.Token)
	require.NotNil(t, result.Challenge)
	assert.Equal(t, testMobile, result.Challenge.Mobile)
	for _, stage := range []Stage{StageFormat, StageTokenLookup, StageCountry, StageCount, StageBlacklist} {
		assert.Equal(t, StatusPass, statusOf(t, result, stage), stage.String())
	}
}

func TestPipelineStageOrder(t *testing.T) {
	f := newFixture()

	result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "junk")
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, StageFormat, result.FailedStage)
	assert.Equal(t, StatusFail, statusOf(t, result, StageFormat))
	// Everything after the failure is reported, but untouched.
	assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageTokenLookup))
	assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageCountry))
	assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageCount))
	assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageBlacklist))
	// In particular the rate counter never moved.
	assert.Zero(t, f.rates.counts[testMobile])
}

func TestPipelineFormatStage(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", "ONBOARD:" + testToken, true},
		{"space after prefix", "ONBOARD: " + testToken, false},
		{"trailing space", "ONBOARD:" + testToken + " ", false},
		{"surrounding whitespace", "  ONBOARD:" + testToken + "  ", false},
		{"lowercase token", "ONBOARD:abcd2345", false},
		{"missing prefix", testToken, false},
		{"wrong prefix", "VERIFY:" + testToken, false},
		{"short token", "ONBOARD:ABC", false},
		{"long token", "ONBOARD:" + testToken + "X", false},
		{"token outside alphabet", "ONBOARD:ABCD2340", false},
		{"empty body", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture().withChallenge(testMobile, testToken)
			result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, tt.body)
			require.NoError(t, err)
			if tt.ok {
				assert.Equal(t, StatusPass, statusOf(t, result, StageFormat))
			} else {
				assert.Equal(t, StatusFail, statusOf(t, result, StageFormat))
				assert.Equal(t, StageFormat, result.FailedStage)
			}
		})
	}
}

func TestPipelineTokenLookup(t *testing.T) {
	t.Run("unknown token fails", func(t *testing.T) {
		f := newFixture()
		result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)
		assert.Equal(t, StageTokenLookup, result.FailedStage)
	})

	t.Run("token owned by another mobile fails", func(t *testing.T) {
		f := newFixture().withChallenge("+919999999999", testToken)
		result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)
		assert.Equal(t, StageTokenLookup, result.FailedStage)
	})
}

func TestPipelineCountryStage(t *testing.T) {
	f := newFixture().withChallenge("+14155550100", testToken)

	result, err := f.pipeline.Run(context.Background(), testSnapshot(), "+14155550100", "ONBOARD:"+testToken)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, StageCountry, result.FailedStage)
	assert.Equal(t, StatusPass, statusOf(t, result, StageTokenLookup))
	assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageCount))
}

func TestPipelineCountBoundary(t *testing.T) {
	snap := testSnapshot() // threshold 3

	f := newFixture()
	for i := 0; i < snap.CountThreshold; i++ {
		f.withChallenge(testMobile, testToken)
		result, err := f.pipeline.Run(context.Background(), snap, testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)
		assert.True(t, result.Passed, "attempt %d within threshold", i+1)
	}

	// Attempt threshold+1 inside the same window fails at the count stage.
	f.withChallenge(testMobile, testToken)
	result, err := f.pipeline.Run(context.Background(), snap, testMobile, "ONBOARD:"+testToken)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, StageCount, result.FailedStage)
}

func TestPipelineBlacklistStage(t *testing.T) {
	f := newFixture().withChallenge(testMobile, testToken)
	f.blacklist.set[testMobile] = true

	result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "ONBOARD:"+testToken)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, StageBlacklist, result.FailedStage)
}

func TestPipelineDisabledStages(t *testing.T) {
	t.Run("disabled stage reports skipped", func(t *testing.T) {
		snap := testSnapshot()
		snap.Checks.Count = false

		f := newFixture().withChallenge(testMobile, testToken)
		result, err := f.pipeline.Run(context.Background(), snap, testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)

		assert.True(t, result.Passed)
		assert.Equal(t, StatusSkipped, statusOf(t, result, StageCount))
		assert.Zero(t, f.rates.counts[testMobile])
	})

	t.Run("failure dominates disabled stages", func(t *testing.T) {
		snap := testSnapshot()
		snap.Checks.Country = false

		f := newFixture() // no challenge: lookup fails
		result, err := f.pipeline.Run(context.Background(), snap, testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)

		assert.Equal(t, StatusFail, statusOf(t, result, StageTokenLookup))
		// Once a stage fails, later stages report not-evaluated even when
		// they are also disabled.
		assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageCountry))
		assert.Equal(t, StatusNotEvaluated, statusOf(t, result, StageCount))
	})

	t.Run("disabled format still extracts token for lookup", func(t *testing.T) {
		snap := testSnapshot()
		snap.Checks.Format = false

		f := newFixture().withChallenge(testMobile, testToken)
		result, err := f.pipeline.Run(context.Background(), snap, testMobile, "ONBOARD:"+testToken)
		require.NoError(t, err)

		assert.True(t, result.Passed)
		assert.Equal(t, StatusSkipped, statusOf(t, result, StageFormat))
		assert.Equal(t, testToken, result.Token)
	})
}

func TestStageVector(t *testing.T) {
	f := newFixture().withChallenge(testMobile, testToken)

	result, err := f.pipeline.Run(context.Background(), testSnapshot(), testMobile, "ONBOARD:"+testToken)
	require.NoError(t, err)

	vector := result.StageVector()
	assert.Len(t, vector, 5)
	assert.Equal(t, "pass", vector["format"])
	assert.Equal(t, "pass", vector["blacklist"])
}
