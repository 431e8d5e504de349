package store

import (
	"encoding/json"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/schedule"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateMedication validates the schedule and inserts a new medication.
func (s *Store) CreateMedication(med *Medication) error {
	if med.ID == "" {
		med.ID = uuid.NewString()
	}

	for _, clock := range med.Times {
		if !schedule.ValidClock(clock) {
			return apperrors.ErrInvalidSchedule
		}
	}

	serializeTimes(med)

	med.CreatedAt = time.Now()
	med.UpdatedAt = time.Now()
	return s.db.Create(med).Error
}

// GetMedication returns the medication or nil when absent.
func (s *Store) GetMedication(id string) (*Medication, error) {
	var med Medication
	err := s.db.Where("id = ?", id).First(&med).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	deserializeTimes(&med)
	return &med, nil
}

// UpdateMedication saves the medication, re-validating its schedule.
func (s *Store) UpdateMedication(med *Medication) error {
	for _, clock := range med.Times {
		if !schedule.ValidClock(clock) {
			return apperrors.ErrInvalidSchedule
		}
	}

	serializeTimes(med)

	med.UpdatedAt = time.Now()
	return s.db.Save(med).Error
}

// DeleteMedication removes a medication. Its dose logs stay behind as
// the adherence audit trail.
func (s *Store) DeleteMedication(id string) error {
	return s.db.Where("id = ?", id).Delete(&Medication{}).Error
}

// ListMedications returns a user's medications, newest first.
func (s *Store) ListMedications(userID string) ([]Medication, error) {
	var meds []Medication
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&meds).Error
	if err != nil {
		return nil, err
	}

	for i := range meds {
		deserializeTimes(&meds[i])
	}
	return meds, nil
}

// ListAllMedications returns every medication across users; the
// dispatcher walks this each cycle.
func (s *Store) ListAllMedications() ([]Medication, error) {
	var meds []Medication
	err := s.db.Order("user_id, created_at").Find(&meds).Error
	if err != nil {
		return nil, err
	}

	for i := range meds {
		deserializeTimes(&meds[i])
	}
	return meds, nil
}

// ListLowStockMedications returns a user's medications at or under
// their low-stock threshold.
func (s *Store) ListLowStockMedications(userID string) ([]Medication, error) {
	var meds []Medication
	err := s.db.Where("user_id = ? AND current_supply IS NOT NULL AND low_stock_threshold IS NOT NULL AND current_supply <= low_stock_threshold", userID).
		Find(&meds).Error
	if err != nil {
		return nil, err
	}

	for i := range meds {
		deserializeTimes(&meds[i])
	}
	return meds, nil
}

// AdjustSupply applies an inventory delta to a medication. delta=+1
// subtracts one unit (a dose taken), delta=-1 puts one back (a
// correction). No-op when the medication does not track supply; the
// result is floor-clamped at zero.
func (s *Store) AdjustSupply(medicationID string, delta int) error {
	med, err := s.GetMedication(medicationID)
	if err != nil {
		return err
	}
	if med == nil {
		return apperrors.ErrMedicationNotFound
	}
	if med.CurrentSupply == nil {
		return nil
	}

	next := *med.CurrentSupply - delta
	if next < 0 {
		next = 0
	}

	return s.db.Model(&Medication{}).Where("id = ?", medicationID).
		Update("current_supply", next).Error
}

func serializeTimes(med *Medication) {
	if len(med.Times) > 0 {
		timesJSON, _ := json.Marshal(med.Times)
		med.TimesJSON = string(timesJSON)
	} else {
		med.TimesJSON = "[]"
	}
}

func deserializeTimes(med *Medication) {
	if med.TimesJSON != "" {
		json.Unmarshal([]byte(med.TimesJSON), &med.Times)
	}
}
