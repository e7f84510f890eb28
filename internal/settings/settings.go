package settings

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"sms-bridge/internal/config"
)

// Toggles enables or disables individual validation stages. A disabled stage
// reports skipped, it is never evaluated.
type Toggles struct {
	Format      bool `json:"header_hash_check_enabled"`
	TokenLookup bool `json:"token_lookup_enabled"`
	Country     bool `json:"foreign_number_check_enabled"`
	Count       bool `json:"count_check_enabled"`
	Blacklist   bool `json:"blacklist_check_enabled"`
}

// Snapshot is one immutable, versioned view of the runtime settings. Every
// request and worker tick reads exactly one Snapshot, so a concurrent reload
// can never produce a torn read.
type Snapshot struct {
	Version           int
	AllowedPrefix     string
	HashLength        int
	ChallengeTTL      time.Duration
	VerifiedTTL       time.Duration
	RateWindow        time.Duration
	CountThreshold    int
	AllowedCountries  []string
	SMSReceiverNumber string
	SMSReceiveAPIKey  string
	SyncURL           string
	RecoveryURL       string
	Checks            Toggles
}

// payload is the wire shape of a settings_history row.
type payload struct {
	AllowedPrefix     string   `json:"allowed_prefix"`
	HashLength        int      `json:"hash_length"`
	TTLHashSeconds    int      `json:"ttl_hash_seconds"`
	TTLVerifySeconds  int      `json:"ttl_verify_seconds"`
	RateWindowSeconds int      `json:"rate_window_seconds"`
	CountThreshold    int      `json:"count_threshold"`
	AllowedCountries  []string `json:"allowed_countries"`
	SMSReceiverNumber string   `json:"sms_receiver_number"`
	SMSReceiveAPIKey  string   `json:"sms_receive_api_key"`
	SyncURL           string   `json:"sync_url"`
	RecoveryURL       string   `json:"recovery_url"`
	Checks            *Toggles `json:"checks"`
}

// Default builds a Snapshot from static configuration. Used until a
// settings_history row is loaded, and as the base that row overrides.
func Default(cfg *config.Config) *Snapshot {
	return &Snapshot{
		Version:           0,
		AllowedPrefix:     cfg.Bridge.AllowedPrefix,
		HashLength:        cfg.Bridge.HashLength,
		ChallengeTTL:      cfg.Bridge.ChallengeTTL,
		VerifiedTTL:       cfg.Bridge.VerifiedTTL,
		RateWindow:        cfg.Bridge.RateWindow,
		CountThreshold:    cfg.Bridge.CountThreshold,
		AllowedCountries:  cfg.Bridge.AllowedCountries,
		SMSReceiverNumber: cfg.Bridge.SMSReceiverNumber,
		SMSReceiveAPIKey:  cfg.Bridge.SMSReceiveAPIKey,
		SyncURL:           cfg.Bridge.SyncURL,
		RecoveryURL:       cfg.Bridge.RecoveryURL,
		Checks: Toggles{
			Format:      true,
			TokenLookup: true,
			Country:     true,
			Count:       true,
			Blacklist:   true,
		},
	}
}

// FromPayload overlays a stored settings payload on top of base.
func FromPayload(base *Snapshot, version int, raw []byte) (*Snapshot, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode settings payload: %w", err)
	}

	snap := *base
	snap.Version = version

	if p.AllowedPrefix != "" {
		snap.AllowedPrefix = p.AllowedPrefix
	}
	if p.HashLength > 0 {
		snap.HashLength = p.HashLength
	}
	if p.TTLHashSeconds > 0 {
		snap.ChallengeTTL = time.Duration(p.TTLHashSeconds) * time.Second
	}
	if p.TTLVerifySeconds > 0 {
		snap.VerifiedTTL = time.Duration(p.TTLVerifySeconds) * time.Second
	}
	if p.RateWindowSeconds > 0 {
		snap.RateWindow = time.Duration(p.RateWindowSeconds) * time.Second
	}
	if p.CountThreshold > 0 {
		snap.CountThreshold = p.CountThreshold
	}
	if len(p.AllowedCountries) > 0 {
		snap.AllowedCountries = p.AllowedCountries
	}
	if p.SMSReceiverNumber != "" {
		snap.SMSReceiverNumber = p.SMSReceiverNumber
	}
	if p.SMSReceiveAPIKey != "" {
		snap.SMSReceiveAPIKey = p.SMSReceiveAPIKey
	}
	if p.SyncURL != "" {
		snap.SyncURL = p.SyncURL
	}
	if p.RecoveryURL != "" {
		snap.RecoveryURL = p.RecoveryURL
	}
	if p.Checks != nil {
		snap.Checks = *p.Checks
	}

	return &snap, nil
}

// Store hands out the current Snapshot. Swaps are atomic; readers keep the
// snapshot they started with for the duration of a request.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func (s *Store) Swap(next *Snapshot) {
	s.current.Store(next)
}

// CountryAllowed reports whether code is in the allow-list.
func (s *Snapshot) CountryAllowed(code string) bool {
	for _, allowed := range s.AllowedCountries {
		if allowed == code {
			return true
		}
	}
	return false
}
