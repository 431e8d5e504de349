package api

import "time"

// defaultUserID is the single-tenant account created on first run.
const defaultUserID = "default"

type loginRequest struct {
	Password string `json:"password"`
}

type medicationRequest struct {
	Name              string     `json:"name"`
	Dosage            string     `json:"dosage"`
	Type              string     `json:"type"`
	Times             []string   `json:"times"`
	StartDate         time.Time  `json:"startDate"`
	EndDate           *time.Time `json:"endDate"`
	CurrentSupply     *int       `json:"currentSupply"`
	SupplyUnit        string     `json:"supplyUnit"`
	LowStockThreshold *int       `json:"lowStockThreshold"`
	Notes             string     `json:"notes"`
}

type doseLogRequest struct {
	MedicationID  string    `json:"medicationId"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes"`
}

type doseActionRequest struct {
	Action        string `json:"action"`
	SnoozeMinutes int    `json:"snoozeMinutes"`
	Reason        string `json:"reason"`
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type telegramTestRequest struct {
	ChatID int64 `json:"chatId"`
}
