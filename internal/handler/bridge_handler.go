package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// BridgeHandler handles HTTP requests for the verification flow and the
// admin surface.
type BridgeHandler struct {
	challenges    *service.ChallengeService
	verifications *service.VerificationService
	recovery      *service.RecoveryService
	blacklist     *service.BlacklistService
	settingsSvc   *service.SettingsService
	settings      *settings.Store
	logger        *zap.Logger
}

func NewBridgeHandler(challenges *service.ChallengeService,
	verifications *service.VerificationService, recovery *service.RecoveryService,
	blacklist *service.BlacklistService, settingsSvc *service.SettingsService,
	store *settings.Store, logger *zap.Logger) *BridgeHandler {

	return &BridgeHandler{
		challenges:    challenges,
		verifications: verifications,
		recovery:      recovery,
		blacklist:     blacklist,
		settingsSvc:   settingsSvc,
		settings:      store,
		logger:        logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers the verification and admin routes
func (h *BridgeHandler) RegisterRoutes(router chi.Router) {
	router.Post("/onboarding/register", h.Register)
	router.Post("/sms/receive", h.ReceiveSMS)
	router.Post("/pin-setup", h.PINSetup)

	router.Route("/admin", func(r chi.Router) {
		r.Post("/trigger-recovery", h.TriggerRecovery)
		r.Post("/blacklist", h.AddBlacklist)
		r.Delete("/blacklist/{mobile}", h.RemoveBlacklist)
		r.Put("/settings", h.UpdateSettings)
	})
}

type registerRequest struct {
	Mobile string `json:"mobile"`
}

// Register issues a verification challenge for a mobile number.
func (h *BridgeHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.challenges.IssueChallenge(ctx, req.Mobile)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to issue challenge")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Challenge issued"))
	h.logger.Info("Challenge issued via HTTP",
		util.String("mobile", util.MaskMobile(req.Mobile)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// ReceiveSMS accepts one inbound SMS event from the gateway and runs it
// through the validation pipeline. While the fast store is down the message
// is captured and 202 is returned.
func (h *BridgeHandler) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	if !h.gatewayAuthorized(r) {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("invalid API key"), "Unauthorized")
		return
	}

	var sms model.InboundSMS
	if err := json.NewDecoder(r.Body).Decode(&sms); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if sms.MessageID == "" {
		sms.MessageID = uuid.New().String()
	}
	if sms.ReceivedAt.IsZero() {
		sms.ReceivedAt = time.Now().UTC()
	}

	result, err := h.verifications.ReceiveSMS(ctx, &sms)
	if err != nil {
		if errors.Is(err, service.ErrFallbackActive) {
			h.respondWithJSON(w, http.StatusAccepted,
				successResponse(map[string]interface{}{"message_id": sms.MessageID},
					"Message captured for deferred processing"))
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to process message")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"message_id": sms.MessageID,
		"verified":   result.Passed,
		"stages":     result.StageVector(),
	}, "Message processed"))
	h.logger.Info("SMS processed via HTTP",
		util.String("message_id", sms.MessageID),
		util.Bool("verified", result.Passed),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ReceiveSMS"),
	)
}

// gatewayAuthorized checks the optional gateway API key in constant time.
// An empty configured key disables the check.
func (h *BridgeHandler) gatewayAuthorized(r *http.Request) bool {
	expected := h.settings.Current().SMSReceiveAPIKey
	if expected == "" {
		return true
	}
	provided := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

type pinSetupRequest struct {
	Mobile string `json:"mobile"`
	PIN    string `json:"pin"`
	Token  string `json:"hash"`
}

// PINSetup consumes the verification flag and queues the credential.
func (h *BridgeHandler) PINSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req pinSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.PIN == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("pin is required"), "Invalid request")
		return
	}

	if err := h.verifications.SubmitPIN(ctx, req.Mobile, req.PIN, req.Token); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to set PIN")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Credential accepted"))
	h.logger.Info("Credential accepted via HTTP",
		util.String("mobile", util.MaskMobile(req.Mobile)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "PINSetup"),
	)
}

// TriggerRecovery flushes all pending sync items as one signed batch.
func (h *BridgeHandler) TriggerRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.recovery.TriggerRecovery(ctx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Recovery failed; items requeued")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"delivered": count,
	}, "Recovery completed"))
}

type blacklistRequest struct {
	Mobile string `json:"mobile"`
	Reason string `json:"reason"`
}

func (h *BridgeHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.blacklist.Add(ctx, req.Mobile, req.Reason, requestActor(r)); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to add blacklist entry")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(nil, "Mobile blacklisted"))
}

func (h *BridgeHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mobile := chi.URLParam(r, "mobile")
	if err := h.blacklist.Remove(ctx, mobile); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to remove blacklist entry")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Mobile removed from blacklist"))
}

type settingsRequest struct {
	Payload json.RawMessage `json:"payload"`
	Note    string          `json:"note"`
}

// UpdateSettings activates a new settings version.
func (h *BridgeHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		h.respondWithError(w, http.StatusBadRequest, errors.New("payload is required"), "Invalid request")
		return
	}

	version, err := h.settingsSvc.Update(ctx, req.Payload, requestActor(r), req.Note)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"version": version,
	}, "Settings activated"))
}

// requestActor identifies the admin caller for audit rows.
func requestActor(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

func (h *BridgeHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidMobile):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCountryNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBlacklisted):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrFallbackActive):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrSyncBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *BridgeHandler) respondWithJSON(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *BridgeHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, errorResponse(err, message))
}
