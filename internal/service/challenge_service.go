package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// FallbackGate reports whether the fast store is currently unavailable and
// the service is operating in capture-only mode.
type FallbackGate interface {
	FallbackActive() bool
}

// IssueResult is the outcome of a successful challenge issuance. Replaced is
// true when an earlier live challenge for the same mobile was voided.
type IssueResult struct {
	Token          string    `json:"token"`
	ReceiverNumber string    `json:"receiver_number"`
	ExpiresAt      time.Time `json:"expires_at"`
	Replaced       bool      `json:"replaced"`
}

// ChallengeService issues verification challenges. The user proves number
// ownership by sending the token back over SMS to the receiver number.
type ChallengeService struct {
	hasher     *hashing.Hasher
	settings   *settings.Store
	challenges model.ChallengeCache
	rates      model.RateLimitCache
	blacklist  model.BlacklistCache
	auditor    *Auditor
	gate       FallbackGate
}

func NewChallengeService(hasher *hashing.Hasher, store *settings.Store,
	challenges model.ChallengeCache, rates model.RateLimitCache,
	blacklist model.BlacklistCache, auditor *Auditor, gate FallbackGate) *ChallengeService {

	return &ChallengeService{
		hasher:     hasher,
		settings:   store,
		challenges: challenges,
		rates:      rates,
		blacklist:  blacklist,
		auditor:    auditor,
		gate:       gate,
	}
}

// IssueChallenge runs the registration pre-checks, derives a token, and
// stores the challenge. A live challenge for the same mobile is atomically
// replaced; its token becomes void.
func (s *ChallengeService) IssueChallenge(ctx context.Context, mobile string) (*IssueResult, error) {
	if s.gate.FallbackActive() {
		return nil, ErrFallbackActive
	}

	snap := s.settings.Current()

	mobile = util.NormalizeMobile(mobile)
	if !util.IsValidMobile(mobile) {
		return nil, ErrInvalidMobile
	}
	if !snap.CountryAllowed(util.CountryCode(mobile)) {
		return nil, ErrCountryNotAllowed
	}

	count, err := s.rates.IncrementCounter(ctx, mobile, snap.RateWindow)
	if err != nil {
		return nil, err
	}
	if count > snap.CountThreshold {
		return nil, ErrRateLimited
	}

	listed, err := s.blacklist.IsBlacklisted(ctx, mobile)
	if err != nil {
		return nil, err
	}
	if listed {
		return nil, ErrBlacklisted
	}

	issuedAt := time.Now().UTC()
	challenge := &model.Challenge{
		Mobile:   mobile,
		Token:    s.hasher.ChallengeToken(mobile, issuedAt, snap.HashLength),
		IssuedAt: issuedAt,
	}

	replaced, err := s.challenges.PutChallenge(ctx, challenge, snap.ChallengeTTL)
	if err != nil {
		return nil, err
	}

	s.auditor.Emit(ctx, model.EventHashGen, map[string]interface{}{
		"mobile":   util.MaskMobile(mobile),
		"token":    util.MaskToken(challenge.Token),
		"replaced": replaced,
	})

	util.Info("Challenge issued",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.String("token", util.MaskToken(challenge.Token)),
		zap.Bool("replaced", replaced))

	return &IssueResult{
		Token:          challenge.Token,
		ReceiverNumber: snap.SMSReceiverNumber,
		ExpiresAt:      issuedAt.Add(snap.ChallengeTTL),
		Replaced:       replaced,
	}, nil
}
