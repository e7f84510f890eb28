package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// Stage identifies one validation step. The set is closed: adding a stage
// means adding a constant here and an entry in stageOrder.
type Stage int

const (
	StageFormat Stage = iota
	StageTokenLookup
	StageCountry
	StageCount
	StageBlacklist
)

var stageNames = map[Stage]string{
	StageFormat:      "format",
	StageTokenLookup: "token_lookup",
	StageCountry:     "country",
	StageCount:       "count",
	StageBlacklist:   "blacklist",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Status is the outcome of one stage for one message.
type Status int

const (
	// StatusNotEvaluated means an earlier stage failed first.
	StatusNotEvaluated Status = iota
	// StatusSkipped means the stage is disabled in the active settings.
	StatusSkipped
	StatusPass
	StatusFail
)

var statusNames = map[Status]string{
	StatusNotEvaluated: "not_evaluated",
	StatusSkipped:      "skipped",
	StatusPass:         "pass",
	StatusFail:         "fail",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StageResult is one stage's verdict. Reason is set only on failure.
type StageResult struct {
	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Result is the full per-stage vector for one inbound message. Every stage
// appears exactly once, in evaluation order.
type Result struct {
	Passed      bool
	FailedStage Stage // valid only when !Passed and a stage failed
	Stages      []StageResult
	// Token and Challenge are populated once the format and lookup stages
	// run, for the consume step and audit details.
	Token     string
	Challenge *model.Challenge
}

// StageVector returns the per-stage outcomes as audit-friendly strings.
func (r *Result) StageVector() map[string]interface{} {
	vector := make(map[string]interface{}, len(r.Stages))
	for _, sr := range r.Stages {
		vector[sr.Stage.String()] = sr.Status.String()
	}
	return vector
}

// stageFunc evaluates one stage. It returns ok=false with a reason on
// failure; errors are infrastructure faults, not verdicts.
type stageFunc func(ctx context.Context, snap *settings.Snapshot, msg *message) (ok bool, reason string, err error)

type message struct {
	mobile    string
	body      string
	token     string
	challenge *model.Challenge
}

// Pipeline runs the ordered validation stages over an inbound SMS. It only
// evaluates; consuming the challenge on a pass is the caller's step.
type Pipeline struct {
	challenges model.ChallengeCache
	rates      model.RateLimitCache
	blacklist  model.BlacklistCache
	order      []Stage
	stages     map[Stage]stageFunc
}

func NewPipeline(challenges model.ChallengeCache,
	rates model.RateLimitCache, blacklist model.BlacklistCache) *Pipeline {

	p := &Pipeline{
		challenges: challenges,
		rates:      rates,
		blacklist:  blacklist,
		order:      []Stage{StageFormat, StageTokenLookup, StageCountry, StageCount, StageBlacklist},
	}
	p.stages = map[Stage]stageFunc{
		StageFormat:      p.checkFormat,
		StageTokenLookup: p.checkTokenLookup,
		StageCountry:     p.checkCountry,
		StageCount:       p.checkCount,
		StageBlacklist:   p.checkBlacklist,
	}
	return p
}

// Run evaluates all stages in order against one settings snapshot,
// short-circuiting on the first failure. Stages after a failure report
// not-evaluated; disabled stages report skipped and never run.
func (p *Pipeline) Run(ctx context.Context, snap *settings.Snapshot, mobile, body string) (*Result, error) {
	msg := &message{mobile: mobile, body: body}
	result := &Result{
		Passed: true,
		Stages: make([]StageResult, 0, len(p.order)),
	}

	failed := false
	for _, stage := range p.order {
		sr := StageResult{Stage: stage}

		switch {
		case failed:
			sr.Status = StatusNotEvaluated
		case !p.enabled(snap, stage):
			sr.Status = StatusSkipped
		default:
			ok, reason, err := p.stages[stage](ctx, snap, msg)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			if ok {
				sr.Status = StatusPass
			} else {
				sr.Status = StatusFail
				sr.Reason = reason
				failed = true
				result.Passed = false
				result.FailedStage = stage
			}
		}
		result.Stages = append(result.Stages, sr)
	}

	result.Token = msg.token
	result.Challenge = msg.challenge

	if !result.Passed {
		util.Debug("Validation failed",
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.String("stage", result.FailedStage.String()))
	}
	return result, nil
}

func (p *Pipeline) enabled(snap *settings.Snapshot, stage Stage) bool {
	switch stage {
	case StageFormat:
		return snap.Checks.Format
	case StageTokenLookup:
		return snap.Checks.TokenLookup
	case StageCountry:
		return snap.Checks.Country
	case StageCount:
		return snap.Checks.Count
	case StageBlacklist:
		return snap.Checks.Blacklist
	}
	return false
}

// checkFormat verifies the message shape: exactly prefix plus token, no
// padding, no case folding. Handsets send the token verbatim, so anything
// off by even a space is rejected.
func (p *Pipeline) checkFormat(_ context.Context, snap *settings.Snapshot, msg *message) (bool, string, error) {
	if len(msg.body) != len(snap.AllowedPrefix)+snap.HashLength {
		return false, "wrong message length", nil
	}
	if !strings.HasPrefix(msg.body, snap.AllowedPrefix) {
		return false, "missing prefix", nil
	}

	token := msg.body[len(snap.AllowedPrefix):]
	if !hashing.ValidTokenFormat(token, snap.HashLength) {
		return false, "bad token format", nil
	}

	msg.token = token
	return true, "", nil
}

// checkTokenLookup resolves the token to a live challenge and verifies the
// sender owns it.
func (p *Pipeline) checkTokenLookup(ctx context.Context, snap *settings.Snapshot, msg *message) (bool, string, error) {
	if msg.token == "" {
		// Format stage disabled; take everything after the prefix verbatim.
		msg.token = strings.TrimPrefix(msg.body, snap.AllowedPrefix)
	}

	challenge, err := p.challenges.GetChallenge(ctx, msg.token)
	if err != nil {
		if errors.Is(err, model.ErrChallengeNotFound) {
			return false, "unknown or expired token", nil
		}
		return false, "", err
	}
	if challenge.Mobile != msg.mobile {
		return false, "sender mismatch", nil
	}

	msg.challenge = challenge
	return true, "", nil
}

func (p *Pipeline) checkCountry(_ context.Context, snap *settings.Snapshot, msg *message) (bool, string, error) {
	code := util.CountryCode(msg.mobile)
	if !snap.CountryAllowed(code) {
		return false, "country not allowed", nil
	}
	return true, "", nil
}

// checkCount increments the rolling-window counter and fails once the count
// exceeds the threshold: the threshold-th attempt itself still passes.
func (p *Pipeline) checkCount(ctx context.Context, snap *settings.Snapshot, msg *message) (bool, string, error) {
	count, err := p.rates.IncrementCounter(ctx, msg.mobile, snap.RateWindow)
	if err != nil {
		return false, "", err
	}
	if count > snap.CountThreshold {
		return false, "rate exceeded", nil
	}
	return true, "", nil
}

func (p *Pipeline) checkBlacklist(ctx context.Context, _ *settings.Snapshot, msg *message) (bool, string, error) {
	listed, err := p.blacklist.IsBlacklisted(ctx, msg.mobile)
	if err != nil {
		return false, "", err
	}
	if listed {
		return false, "blacklisted", nil
	}
	return true, "", nil
}
