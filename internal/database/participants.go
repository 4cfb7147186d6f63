package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// GetParticipant looks up a participant by its stable external id.
func GetParticipant(db *gorm.DB, participantID string) (*Participant, error) {
	var p Participant
	err := db.Where("participant_id = ?", participantID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateParticipantStatus flips a participant's status in a single atomic
// UPDATE. The sweeps and request handlers both call this; a duplicate
// identical write is harmless by design.
func UpdateParticipantStatus(db *gorm.DB, participantID string, status ParticipantStatus) error {
	return db.Model(&Participant{}).
		Where("participant_id = ?", participantID).
		Update("status", status).Error
}

// UpdateParticipantStatuses resets status for a set of participants at once.
func UpdateParticipantStatuses(db *gorm.DB, participantIDs []string, status ParticipantStatus) error {
	if len(participantIDs) == 0 {
		return nil
	}
	return db.Model(&Participant{}).
		Where("participant_id IN ?", participantIDs).
		Update("status", status).Error
}

// UpdateParticipantLocation stores the latest fix and bumps last_seen,
// optionally forcing a status in the same statement.
func UpdateParticipantLocation(db *gorm.DB, participantID string, lat, lon float64, status ParticipantStatus) error {
	now := time.Now()
	return db.Model(&Participant{}).
		Where("participant_id = ?", participantID).
		Updates(map[string]interface{}{
			"latitude":  lat,
			"longitude": lon,
			"last_seen": now,
			"status":    status,
		}).Error
}

// RecordLocationPoint appends one sample to the location history.
func RecordLocationPoint(db *gorm.DB, point *LocationPoint) error {
	return db.Create(point).Error
}

// RecentLocationPoints returns the newest points for a participant, newest
// first, bounded by limit. The risk heuristic reads the last 10.
func RecentLocationPoints(db *gorm.DB, participantID string, limit int) ([]LocationPoint, error) {
	var points []LocationPoint
	err := db.Where("participant_id = ?", participantID).
		Order("created_at desc").Limit(limit).Find(&points).Error
	return points, err
}

// StaleActiveParticipants returns active participants whose last_seen is
// older than the cutoff. Used by the inactivity sweep.
func StaleActiveParticipants(db *gorm.DB, cutoff time.Time) ([]Participant, error) {
	var stale []Participant
	err := db.Where("status = ? AND last_seen IS NOT NULL AND last_seen < ?", StatusActive, cutoff).
		Find(&stale).Error
	return stale, err
}

// sweepStatuses are the statuses the dislocation sweep still watches. A
// member already flagged as dislocated stays in the round until it resolves;
// distress and other anomalies take the member out of group checks.
func sweepStatuses() []ParticipantStatus {
	return []ParticipantStatus{StatusActive, StatusAnomalyDislocation}
}

// ActiveGroups returns the names of groups with at least two members still in
// dislocation-sweep scope. Only these are worth a dislocation check.
func ActiveGroups(db *gorm.DB) ([]string, error) {
	var names []string
	err := db.Model(&GroupMember{}).
		Select("groups.group_name").
		Joins("JOIN groups ON groups.id = group_members.group_id").
		Joins("JOIN participants ON participants.participant_id = group_members.participant_id").
		Where("participants.status IN ?", sweepStatuses()).
		Group("groups.group_name").
		Having("COUNT(group_members.id) >= 2").
		Pluck("groups.group_name", &names).Error
	return names, err
}

// GroupMembersWithLocation returns a group's sweep-eligible members that have
// reported coordinates.
func GroupMembersWithLocation(db *gorm.DB, groupName string) ([]Participant, error) {
	var members []Participant
	err := db.Model(&Participant{}).
		Joins("JOIN group_members ON group_members.participant_id = participants.participant_id").
		Joins("JOIN groups ON groups.id = group_members.group_id").
		Where("groups.group_name = ? AND participants.status IN ?", groupName, sweepStatuses()).
		Where("participants.latitude IS NOT NULL AND participants.longitude IS NOT NULL").
		Find(&members).Error
	return members, err
}

// GroupMemberIDs returns every member id of a group regardless of status.
func GroupMemberIDs(db *gorm.DB, groupName string) ([]string, error) {
	var ids []string
	err := db.Model(&GroupMember{}).
		Joins("JOIN groups ON groups.id = group_members.group_id").
		Where("groups.group_name = ?", groupName).
		Pluck("group_members.participant_id", &ids).Error
	return ids, err
}
