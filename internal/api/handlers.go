package api

import (
	"crypto/subtle"
	"encoding/json"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/schedule"
	"github.com/davmgs/meditrack/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   "0.1.0",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if s.config.Security.AdminPassword != "" {
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.config.Security.AdminPassword)) != 1 {
			return c.Status(401).JSON(fiber.Map{"error": "invalid password"})
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": defaultUserID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(7 * 24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString})
}

// handleCronReminders is the external trigger for a dispatch cycle,
// called by a platform cron hitting this endpoint once a minute.
func (s *Server) handleCronReminders(c *fiber.Ctx) error {
	if !s.cronAuthorized(c) {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "unauthorized"})
	}

	processed, err := s.dispatcher.RunCycle(c.Context(), time.Now())
	if err != nil {
		s.logger.Error("Triggered dispatch cycle failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "cycle failed"})
	}

	return c.JSON(fiber.Map{"success": true, "processed": processed})
}

// ==================== Medications ====================

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.store.ListMedications(defaultUserID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
	}
	return c.JSON(fiber.Map{"medications": meds})
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Name == "" || len(req.Times) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "name and times are required"})
	}

	med := &store.Medication{
		UserID:            defaultUserID,
		Name:              req.Name,
		Dosage:            req.Dosage,
		Type:              req.Type,
		Times:             req.Times,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		CurrentSupply:     req.CurrentSupply,
		SupplyUnit:        req.SupplyUnit,
		LowStockThreshold: req.LowStockThreshold,
		Notes:             req.Notes,
	}
	if med.StartDate.IsZero() {
		med.StartDate = time.Now()
	}

	if err := s.store.CreateMedication(med); err != nil {
		if apperrors.GetCode(err) == "MED_002" {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to create medication"})
	}
	return c.Status(201).JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to get medication"})
	}
	if med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}
	return c.JSON(med)
}

func (s *Server) handleUpdateMedication(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to get medication"})
	}
	if med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}

	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if req.Name != "" {
		med.Name = req.Name
	}
	med.Dosage = req.Dosage
	med.Type = req.Type
	if len(req.Times) > 0 {
		med.Times = req.Times
	}
	if !req.StartDate.IsZero() {
		med.StartDate = req.StartDate
	}
	med.EndDate = req.EndDate
	med.CurrentSupply = req.CurrentSupply
	med.SupplyUnit = req.SupplyUnit
	med.LowStockThreshold = req.LowStockThreshold
	med.Notes = req.Notes

	if err := s.store.UpdateMedication(med); err != nil {
		if apperrors.GetCode(err) == "MED_002" {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to update medication"})
	}
	return c.JSON(med)
}

func (s *Server) handleDeleteMedication(c *fiber.Ctx) error {
	if err := s.store.DeleteMedication(c.Params("id")); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete medication"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleLowStockMedications(c *fiber.Ctx) error {
	meds, err := s.store.ListLowStockMedications(defaultUserID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
	}
	return c.JSON(fiber.Map{"medications": meds})
}

// ==================== Dose logs ====================

func (s *Server) handleListDoseLogs(c *fiber.Ctx) error {
	filter := store.DoseLogFilter{
		MedicationID: c.Query("medicationId"),
		Status:       store.DoseStatus(c.Query("status")),
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid start time"})
		}
		filter.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid end time"})
		}
		filter.End = t
	}

	logs, err := s.store.ListDoseLogs(defaultUserID, filter)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list dose logs"})
	}
	return c.JSON(fiber.Map{"doseLogs": logs})
}

// handleUpsertDoseLog records a dose directly from the app, e.g. marking
// a dose taken from the dashboard before any reminder fired. The log id
// is derived from the occurrence so a later dispatch cycle can't create
// a duplicate.
func (s *Server) handleUpsertDoseLog(c *fiber.Ctx) error {
	var req doseLogRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.MedicationID == "" || req.ScheduledTime.IsZero() {
		return c.Status(400).JSON(fiber.Map{"error": "medicationId and scheduledTime are required"})
	}

	status := store.DoseStatus(req.Status)
	if !store.ValidStatus(status) {
		return c.Status(400).JSON(fiber.Map{"error": "invalid status"})
	}

	med, err := s.store.GetMedication(req.MedicationID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to get medication"})
	}
	if med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}

	occ := schedule.OccurrenceAt(req.ScheduledTime, s.config.Reminders.TimezoneOffsetMinutes)
	log := &store.DoseLog{
		ID:            occ.ID(req.MedicationID),
		UserID:        defaultUserID,
		MedicationID:  req.MedicationID,
		ScheduledTime: req.ScheduledTime,
		Status:        status,
		Notes:         req.Notes,
	}
	if status == store.StatusTaken || status == store.StatusSkipped {
		now := time.Now()
		log.ActualTime = &now
	}

	saved, err := s.actions.UpsertLog(c.Context(), log)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to save dose log"})
	}

	s.hub.Broadcast(defaultUserID, fiber.Map{"type": "dose_updated", "doseLog": saved})
	return c.JSON(saved)
}

func (s *Server) handleDoseAction(c *fiber.Ctx) error {
	var req doseActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	var kind reminder.ActionKind
	switch req.Action {
	case "take":
		kind = reminder.ActionTake
	case "skip":
		kind = reminder.ActionSkip
	case "snooze":
		kind = reminder.ActionSnooze
	default:
		return c.Status(400).JSON(fiber.Map{"error": "invalid action"})
	}

	updated, err := s.actions.Apply(c.Context(), c.Params("id"), reminder.Action{
		Kind:          kind,
		SnoozeMinutes: req.SnoozeMinutes,
		Reason:        req.Reason,
	})
	if err != nil {
		switch apperrors.GetCode(err) {
		case "DOSE_001":
			return c.Status(404).JSON(fiber.Map{"error": "dose log not found"})
		case "DOSE_003":
			return c.Status(400).JSON(fiber.Map{"error": "invalid action"})
		case "DOSE_004":
			return c.Status(409).JSON(fiber.Map{"error": "dose status changed concurrently"})
		default:
			return c.Status(500).JSON(fiber.Map{"error": "failed to apply action"})
		}
	}

	s.hub.Broadcast(defaultUserID, fiber.Map{"type": "dose_updated", "doseLog": updated})
	return c.JSON(updated)
}

// ==================== Push ====================

func (s *Server) handlePushPublicKey(c *fiber.Ctx) error {
	key := s.push.PublicKey()
	if key == "" {
		return c.Status(503).JSON(fiber.Map{"error": "push notifications not configured"})
	}
	return c.JSON(fiber.Map{"publicKey": key})
}

func (s *Server) handlePushSubscribe(c *fiber.Ctx) error {
	var req pushSubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		return c.Status(400).JSON(fiber.Map{"error": "endpoint and keys are required"})
	}

	sub := &store.PushSubscription{Endpoint: req.Endpoint}
	sub.Keys.P256dh = req.Keys.P256dh
	sub.Keys.Auth = req.Keys.Auth

	if err := s.store.SetPushSubscription(defaultUserID, sub); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to save subscription"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handlePushUnsubscribe(c *fiber.Ctx) error {
	if err := s.store.ClearPushSubscription(defaultUserID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to remove subscription"})
	}
	return c.JSON(fiber.Map{"success": true})
}

// ==================== Telegram ====================

func (s *Server) handleGenerateLinkToken(c *fiber.Ctx) error {
	token, err := s.store.CreateLinkToken(defaultUserID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate token"})
	}
	return c.JSON(fiber.Map{
		"token":     token,
		"expiresIn": 1800,
	})
}

func (s *Server) handleTelegramTest(c *fiber.Ctx) error {
	var req telegramTestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	chatID := req.ChatID
	if chatID == 0 {
		user, err := s.store.GetUser(defaultUserID)
		if err != nil || user == nil || user.TelegramChatID == nil {
			return c.Status(400).JSON(fiber.Map{"error": "no telegram chat linked"})
		}
		chatID = *user.TelegramChatID
	}

	if err := s.telegram.SendTest(c.Context(), chatID); err != nil {
		if apperrors.GetCode(err) == "CHAN_001" {
			return c.Status(503).JSON(fiber.Map{"error": "telegram not configured"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to send test message"})
	}
	return c.JSON(fiber.Map{"success": true})
}

// handleTelegramWebhook accepts updates pushed by Telegram instead of
// long polling, for deployments that register a webhook URL.
func (s *Server) handleTelegramWebhook(c *fiber.Ctx) error {
	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid update"})
	}

	if err := s.telegram.HandleUpdate(update); err != nil {
		s.logger.Warn("Webhook update failed", zap.Error(err))
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ==================== WebSocket ====================

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.hub.Serve(defaultUserID, c)
}
