package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Slot keys inside a forward services snapshot.
const (
	slotHospital = "closestHospital"
	slotPolice   = "closestPoliceStation"
	slotFire     = "closestFireStation"
)

// slotForAuthority maps an override slot to its snapshot key.
func slotForAuthority(t AuthorityType) string {
	switch t {
	case AuthorityHospital:
		return slotHospital
	case AuthorityPolice:
		return slotPolice
	case AuthorityFire:
		return slotFire
	}
	return ""
}

// UpsertForward records that an alert episode was forwarded to emergency
// services. The write is conditional on the (participant_id, alert_type)
// uniqueness constraint: a second forward for the same open episode refreshes
// services and forwarded_at on the existing row instead of creating another.
func UpsertForward(db *gorm.DB, participantID, alertType string, services JSONB) error {
	record := ForwardRecord{
		ParticipantID: participantID,
		AlertType:     alertType,
		Services:      services,
		ForwardedAt:   time.Now(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}, {Name: "alert_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"services", "forwarded_at", "updated_at"}),
	}).Create(&record).Error
}

// GetForward returns the forward record for one participant and alert type,
// or nil when none exists.
func GetForward(db *gorm.DB, participantID, alertType string) (*ForwardRecord, error) {
	var record ForwardRecord
	err := db.Where("participant_id = ? AND alert_type = ?", participantID, alertType).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListForwards returns all forward records for a participant, newest first.
func ListForwards(db *gorm.DB, participantID string) ([]ForwardRecord, error) {
	var records []ForwardRecord
	err := db.Where("participant_id = ?", participantID).
		Order("forwarded_at desc").Find(&records).Error
	return records, err
}

// DeleteForwards clears every forward record for a participant so a future
// alert episode can be forwarded again.
func DeleteForwards(db *gorm.DB, participantID string) error {
	return db.Where("participant_id = ?", participantID).Delete(&ForwardRecord{}).Error
}

// DeleteForwardsForParticipants clears forward records for a set of
// participants in one statement (used by group resets).
func DeleteForwardsForParticipants(db *gorm.DB, participantIDs []string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	return db.Where("participant_id IN ?", participantIDs).Delete(&ForwardRecord{}).Error
}

// UpsertOverride saves a human correction to one dispatched-service slot.
// Unique on (participant_id, authority_type); repeated edits refresh the row.
// The forward record itself is never touched.
func UpsertOverride(db *gorm.DB, o *AuthorityOverride) error {
	o.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}, {Name: "authority_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "latitude", "longitude", "distance_km", "updated_at"}),
	}).Create(o).Error
}

// ListOverrides returns all authority overrides for a participant.
func ListOverrides(db *gorm.DB, participantID string) ([]AuthorityOverride, error) {
	var overrides []AuthorityOverride
	err := db.Where("participant_id = ?", participantID).Find(&overrides).Error
	return overrides, err
}

// DispatchDetails returns the latest forward snapshot for a participant with
// any authority overrides merged over the corresponding slots. Returns nil
// when the participant has never been forwarded.
func DispatchDetails(db *gorm.DB, participantID string) (JSONB, error) {
	var record ForwardRecord
	err := db.Where("participant_id = ?", participantID).
		Order("forwarded_at desc").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	merged := make(JSONB, len(record.Services)+1)
	for k, v := range record.Services {
		merged[k] = v
	}

	overrides, err := ListOverrides(db, participantID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		slot := slotForAuthority(o.AuthorityType)
		if slot == "" {
			continue
		}
		entry := map[string]interface{}{
			"name":       o.Name,
			"overridden": true,
		}
		if o.Latitude != nil {
			entry["lat"] = *o.Latitude
		}
		if o.Longitude != nil {
			entry["lon"] = *o.Longitude
		}
		if o.DistanceKm != nil {
			entry["distance_km"] = *o.DistanceKm
		}
		merged[slot] = entry
	}

	merged["forwardedAt"] = record.ForwardedAt
	merged["alertType"] = record.AlertType
	return merged, nil
}
