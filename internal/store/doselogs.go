package store

import (
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimDose inserts the dose log only if its id is absent, returning
// whether this call created it. The primary-key conflict is the single
// concurrency guard against double notification: of two overlapping
// dispatch cycles, exactly one observes created=true.
func (s *Store) ClaimDose(log *DoseLog) (bool, error) {
	log.CreatedAt = time.Now()
	log.UpdatedAt = log.CreatedAt

	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(log)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetDoseLog returns the dose log or nil when absent.
func (s *Store) GetDoseLog(id string) (*DoseLog, error) {
	var log DoseLog
	err := s.db.Where("id = ?", id).First(&log).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateDoseLog persists changed fields of an existing log. The status
// transition guard lives in the reminder package; this is a plain write.
func (s *Store) UpdateDoseLog(log *DoseLog) error {
	log.UpdatedAt = time.Now()
	return s.db.Save(log).Error
}

// UpdateDoseLogStatus transitions a log's status only when the persisted
// status still matches expected. The conditional write keeps rapid
// duplicate actions from applying the same transition twice.
func (s *Store) UpdateDoseLogStatus(id string, expected DoseStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()

	res := s.db.Model(&DoseLog{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertDoseLog creates or replaces the log by id, returning the
// previous status for inventory accounting. Used by the dose-log write
// endpoint where the client supplies the full record.
func (s *Store) UpsertDoseLog(log *DoseLog) (DoseStatus, error) {
	if !ValidStatus(log.Status) {
		return "", apperrors.ErrInvalidAction
	}

	existing, err := s.GetDoseLog(log.ID)
	if err != nil {
		return "", err
	}

	var prev DoseStatus
	if existing != nil {
		prev = existing.Status
		log.CreatedAt = existing.CreatedAt
	} else {
		log.CreatedAt = time.Now()
	}
	log.UpdatedAt = time.Now()

	if err := s.db.Save(log).Error; err != nil {
		return "", err
	}
	return prev, nil
}

// DoseLogFilter narrows ListDoseLogs.
type DoseLogFilter struct {
	MedicationID string
	Status       DoseStatus
	Start        time.Time
	End          time.Time
}

// ListDoseLogs returns a user's dose logs, newest first.
func (s *Store) ListDoseLogs(userID string, filter DoseLogFilter) ([]DoseLog, error) {
	query := s.db.Where("user_id = ?", userID)

	if filter.MedicationID != "" {
		query = query.Where("medication_id = ?", filter.MedicationID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.Start.IsZero() {
		query = query.Where("scheduled_time >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("scheduled_time <= ?", filter.End)
	}

	var logs []DoseLog
	err := query.Order("scheduled_time DESC").Find(&logs).Error
	return logs, err
}

// CountDoseLogs counts a medication's logs in a status, for adherence
// summaries.
func (s *Store) CountDoseLogs(userID string, status DoseStatus, since time.Time) (int64, error) {
	var count int64
	query := s.db.Model(&DoseLog{}).Where("user_id = ? AND status = ?", userID, status)
	if !since.IsZero() {
		query = query.Where("scheduled_time >= ?", since)
	}
	err := query.Count(&count).Error
	return count, err
}
