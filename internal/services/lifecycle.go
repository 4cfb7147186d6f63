package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/config"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/emergency"
	"github.com/wecodeblooded/safety-engine/internal/geo"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/risk"
	"github.com/wecodeblooded/safety-engine/internal/utils"
)

var (
	// ErrParticipantNotFound is returned for operations on unknown ids.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrNoLocation is returned when a dispatch needs coordinates the
	// participant has never reported.
	ErrNoLocation = errors.New("participant has no known location")

	// ErrInvalidAuthorityType is returned for override slots outside
	// hospital/police/fire.
	ErrInvalidAuthorityType = errors.New("invalid authority type")
)

// RiskScorer asks the external classifier for a verdict. A nil detection
// means the service was unavailable.
type RiskScorer interface {
	Score(ctx context.Context, participantID string, lat, lon float64, groupID string) *risk.Detection
}

// ServiceLocator finds emergency services near a coordinate.
type ServiceLocator interface {
	FindNearbyServices(ctx context.Context, lat, lon float64) *emergency.Snapshot
	FindNearbyServiceLists(ctx context.Context, lat, lon float64) emergency.Lists
}

// Episode is one open alert for a participant. At most one exists per
// participant; repeated triggers refresh it instead of opening a second one.
type Episode struct {
	Type      string         `json:"type"` // "panic" or "standard"
	Subtype   string         `json:"subtype,omitempty"`
	Source    string         `json:"source,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Latitude  float64        `json:"lat"`
	Longitude float64        `json:"lon"`
	Services  database.JSONB `json:"services,omitempty"`
}

// ResolvedEpisode is a closed alert kept in the bounded in-memory ring.
type ResolvedEpisode struct {
	Episode
	ResolvedAt time.Time `json:"resolved_at"`
}

// LocationResult is what the ingestion path reports back to the client.
type LocationResult struct {
	Status      database.ParticipantStatus `json:"status"`
	RiskScore   float64                    `json:"risk_score"`
	SafetyScore int                        `json:"safety_score"`
	Flagged     bool                       `json:"flagged"`
}

// LifecycleService owns the per-participant alert state machine and the
// in-memory episode store.
type LifecycleService struct {
	db      *gorm.DB
	cfg     config.EngineConfig
	scorer  RiskScorer
	locator ServiceLocator
	hub     *notify.Hub
	slack   *notify.SlackMirror

	mu       sync.Mutex
	episodes map[string]*Episode
	resolved map[string][]ResolvedEpisode
}

// NewLifecycleService creates the alert lifecycle manager.
func NewLifecycleService(db *gorm.DB, cfg config.EngineConfig, scorer RiskScorer, locator ServiceLocator, hub *notify.Hub, slack *notify.SlackMirror) *LifecycleService {
	return &LifecycleService{
		db:       db,
		cfg:      cfg,
		scorer:   scorer,
		locator:  locator,
		hub:      hub,
		slack:    slack,
		episodes: make(map[string]*Episode),
		resolved: make(map[string][]ResolvedEpisode),
	}
}

// anomalySubtype picks the most specific status for a flagged detection.
// The geofence flag wins over the ML flag.
func anomalySubtype(d *risk.Detection) database.ParticipantStatus {
	switch {
	case d != nil && d.GeoFlag:
		return database.StatusAnomalyRiskArea
	case d != nil && d.AnomalyFlag:
		return database.StatusAnomalyML
	}
	return database.StatusAnomaly
}

// SubmitLocation is the ingestion path: persist the fix, score it, and raise
// an anomaly when warranted. Classifier downtime never fails the call.
func (s *LifecycleService) SubmitLocation(ctx context.Context, participantID string, lat, lon float64, accuracy *float64) (*LocationResult, error) {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	// Sub-jitter movement keeps the current fix fresh without flooding the
	// history table.
	moved := true
	if p.HasLocation() {
		if geo.DistanceMeters(*p.Latitude, *p.Longitude, lat, lon) < s.cfg.MovementThresholdM {
			moved = false
		}
	}

	points, err := database.RecentLocationPoints(s.db, participantID, 10)
	if err != nil {
		log.Printf("Failed to load location history for %s: %v", participantID, err)
	}

	if moved {
		if err := database.RecordLocationPoint(s.db, &database.LocationPoint{
			ParticipantID: participantID,
			Latitude:      lat,
			Longitude:     lon,
			Accuracy:      accuracy,
		}); err != nil {
			return nil, fmt.Errorf("failed to record location point: %w", err)
		}
	}

	detection := s.scorer.Score(ctx, participantID, lat, lon, p.GroupName)

	modelRisk := risk.DefaultModelRisk
	geoFlag := false
	mlFlag := false
	if detection != nil {
		modelRisk = detection.FinalRiskScore
		geoFlag = detection.GeoFlag
		mlFlag = detection.AnomalyFlag
	}
	finalRisk := risk.Blend(modelRisk, risk.HeuristicRisk(points, time.Now()), geoFlag)
	safety := risk.SafetyScore(finalRisk)

	status := p.Status
	flagged := false
	if status != database.StatusDistress && (finalRisk >= s.cfg.RiskThreshold || geoFlag || mlFlag) {
		status = anomalySubtype(detection)
		flagged = true
	}

	if err := database.UpdateParticipantLocation(s.db, participantID, lat, lon, status); err != nil {
		return nil, fmt.Errorf("failed to update participant: %w", err)
	}

	now := time.Now()
	s.hub.BroadcastOperators(notify.EventLocationUpdate, map[string]interface{}{
		"participant_id": participantID,
		"lat":            lat,
		"lon":            lon,
		"status":         status,
		"risk_score":     finalRisk,
		"safety_score":   safety,
		"timestamp":      now,
	})
	s.hub.SendToFamily(participantID, notify.EventFamilyLocationUpdate, map[string]interface{}{
		"participant_id": participantID,
		"lat":            lat,
		"lon":            lon,
		"status":         status,
		"timestamp":      now,
	})

	if flagged {
		s.openEpisode(participantID, &Episode{
			Type:      "standard",
			Subtype:   string(status),
			StartedAt: now,
			Latitude:  lat,
			Longitude: lon,
		})
		s.hub.BroadcastOperators(notify.EventAnomalyAlert, map[string]interface{}{
			"participant_id": participantID,
			"status":         status,
			"risk_score":     finalRisk,
			"lat":            lat,
			"lon":            lon,
			"timestamp":      now,
		})
		s.hub.SendToFamily(participantID, notify.EventFamilyAlertUpdate, map[string]interface{}{
			"participant_id": participantID,
			"status":         "active",
			"alert": map[string]interface{}{
				"type":       "standard",
				"started_at": now,
				"lat":        lat,
				"lon":        lon,
			},
			"timestamp": now,
		})
	}

	return &LocationResult{
		Status:      status,
		RiskScore:   finalRisk,
		SafetyScore: safety,
		Flagged:     flagged,
	}, nil
}

// TriggerPanic forces distress and dispatches immediately. The status flip
// happens first; notification failures never undo it.
func (s *LifecycleService) TriggerPanic(ctx context.Context, participantID, source string) (*emergency.Snapshot, error) {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}
	if source == "" {
		source = "panic-button"
	}

	if err := database.UpdateParticipantStatus(s.db, participantID, database.StatusDistress); err != nil {
		return nil, fmt.Errorf("failed to set distress status: %w", err)
	}

	var lat, lon float64
	if p.HasLocation() {
		lat, lon = *p.Latitude, *p.Longitude
	}

	now := time.Now()
	database.RecordEvent(s.db, participantID, database.EventPanic, database.JSONB{
		"source": source,
		"lat":    lat,
		"lon":    lon,
	})

	var snapshot *emergency.Snapshot
	if p.HasLocation() {
		snapshot = s.locator.FindNearbyServices(ctx, lat, lon)
	}
	services := snapshot.ToJSONB()

	s.openEpisode(participantID, &Episode{
		Type:      "panic",
		Source:    source,
		StartedAt: now,
		Latitude:  lat,
		Longitude: lon,
		Services:  services,
	})

	if err := database.UpsertForward(s.db, participantID, "panic", services); err != nil {
		log.Printf("Failed to record forward for %s: %v", participantID, err)
	} else {
		database.RecordEvent(s.db, participantID, database.EventForwarded, database.JSONB{
			"alert_type": "panic",
			"services":   services,
		})
	}

	s.hub.BroadcastOperators(notify.EventPanicAlert, map[string]interface{}{
		"participant_id": participantID,
		"name":           p.Name,
		"source":         source,
		"lat":            lat,
		"lon":            lon,
		"timestamp":      now,
	})
	s.hub.BroadcastOperators(notify.EventEmergencyDispatched, map[string]interface{}{
		"participant_id": participantID,
		"services":       services,
		"timestamp":      now,
	})
	s.hub.SendToFamily(participantID, notify.EventFamilyAlertUpdate, map[string]interface{}{
		"participant_id": participantID,
		"status":         "active",
		"alert": map[string]interface{}{
			"type":       "panic",
			"source":     source,
			"started_at": now,
			"lat":        lat,
			"lon":        lon,
			"services":   services,
		},
		"timestamp": now,
	})
	s.slack.PostAlert(participantID, fmt.Sprintf("PANIC (%s): %s triggered a distress alert", source, p.Name))

	s.enqueueEmergencyContacts(p, lat, lon)

	return snapshot, nil
}

// enqueueEmergencyContacts queues an SMS to each configured contact with a
// maps link to the last known position.
func (s *LifecycleService) enqueueEmergencyContacts(p *database.Participant, lat, lon float64) {
	message := fmt.Sprintf("EMERGENCY: %s (%s) has triggered a panic alert.", p.Name, p.ParticipantID)
	if p.HasLocation() {
		message += " Last known location: " + utils.MapsLink(lat, lon)
	}

	for _, phone := range []string{p.EmergencyContact1, p.EmergencyContact2} {
		if phone == "" {
			continue
		}
		if err := database.EnqueueMessage(s.db, &database.QueuedMessage{
			ParticipantID: p.ParticipantID,
			PhoneNumber:   utils.NormalizePhone(phone),
			Message:       message,
			Channel:       database.ChannelSMS,
		}); err != nil {
			log.Printf("Failed to enqueue emergency contact SMS for %s: %v", p.ParticipantID, err)
		}
	}
}

// CancelPanic is the participant's own "I am safe" action.
func (s *LifecycleService) CancelPanic(participantID string) error {
	return s.reset(participantID, "self-cancel")
}

// ResetAlert is the operator-side resolution of any alerting status.
func (s *LifecycleService) ResetAlert(participantID string) error {
	return s.reset(participantID, "operator-reset")
}

func (s *LifecycleService) reset(participantID, reason string) error {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return ErrParticipantNotFound
	}

	if err := database.UpdateParticipantStatus(s.db, participantID, database.StatusActive); err != nil {
		return fmt.Errorf("failed to reset status: %w", err)
	}
	// Clearing the forward record re-arms forwarding for the next episode.
	if err := database.DeleteForwards(s.db, participantID); err != nil {
		log.Printf("Failed to clear forward records for %s: %v", participantID, err)
	}

	resolved := s.resolveEpisode(participantID)

	database.RecordEvent(s.db, participantID, database.EventReset, database.JSONB{
		"reason": reason,
	})

	now := time.Now()
	s.hub.BroadcastOperators(notify.EventStatusUpdate, map[string]interface{}{
		"participant_id": participantID,
		"status":         database.StatusActive,
		"timestamp":      now,
	})
	// Directed cancel stops the client-side siren when the participant is
	// connected; a disconnected participant is a silent no-op.
	s.hub.SendToParticipant(participantID, notify.EventCancelPanicMode, map[string]interface{}{
		"participant_id": participantID,
		"timestamp":      now,
	})
	if resolved != nil {
		s.hub.SendToFamily(participantID, notify.EventFamilyAlertResolved, map[string]interface{}{
			"participant_id": participantID,
			"resolved":       resolved,
			"timestamp":      now,
		})
	}
	return nil
}

// ResetGroupAlerts resolves every member of a group at once.
func (s *LifecycleService) ResetGroupAlerts(groupName string) ([]string, error) {
	ids, err := database.GroupMemberIDs(s.db, groupName)
	if err != nil {
		return nil, fmt.Errorf("failed to load group members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := database.UpdateParticipantStatuses(s.db, ids, database.StatusActive); err != nil {
		return nil, fmt.Errorf("failed to reset group statuses: %w", err)
	}
	if err := database.DeleteForwardsForParticipants(s.db, ids); err != nil {
		log.Printf("Failed to clear forward records for group %s: %v", groupName, err)
	}

	now := time.Now()
	for _, id := range ids {
		s.resolveEpisode(id)
		database.RecordEvent(s.db, id, database.EventReset, database.JSONB{
			"reason": "group-reset",
			"group":  groupName,
		})
		s.hub.SendToParticipant(id, notify.EventCancelPanicMode, map[string]interface{}{
			"participant_id": id,
			"timestamp":      now,
		})
	}
	s.hub.BroadcastOperators(notify.EventStatusUpdate, map[string]interface{}{
		"group_name": groupName,
		"status":     database.StatusActive,
		"timestamp":  now,
	})
	return ids, nil
}

// ForwardToEmergency re-runs the nearest-service dispatch for an already
// alerting participant and refreshes the forward record.
func (s *LifecycleService) ForwardToEmergency(ctx context.Context, participantID string) (*emergency.Snapshot, error) {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}
	if !p.HasLocation() {
		return nil, ErrNoLocation
	}

	snapshot := s.locator.FindNearbyServices(ctx, *p.Latitude, *p.Longitude)
	services := snapshot.ToJSONB()

	alertType := "standard"
	s.mu.Lock()
	if cur, ok := s.episodes[participantID]; ok {
		alertType = cur.Type
		cur.Services = services
	} else if p.Status == database.StatusDistress {
		alertType = "panic"
	}
	s.mu.Unlock()

	if err := database.UpsertForward(s.db, participantID, alertType, services); err != nil {
		return nil, fmt.Errorf("failed to record forward: %w", err)
	}
	database.RecordEvent(s.db, participantID, database.EventForwarded, database.JSONB{
		"alert_type": alertType,
		"services":   services,
	})

	s.hub.BroadcastOperators(notify.EventEmergencyDispatched, map[string]interface{}{
		"participant_id": participantID,
		"services":       services,
		"timestamp":      time.Now(),
	})
	return snapshot, nil
}

// OverrideAuthority replaces one dispatched-service slot with a human choice
// and returns the merged dispatch view.
func (s *LifecycleService) OverrideAuthority(participantID string, authorityType database.AuthorityType, name string, lat, lon, distanceKm *float64) (database.JSONB, error) {
	valid := false
	for _, t := range database.ValidAuthorityTypes() {
		if t == authorityType {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidAuthorityType
	}

	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	if err := database.UpsertOverride(s.db, &database.AuthorityOverride{
		ParticipantID: participantID,
		AuthorityType: authorityType,
		Name:          name,
		Latitude:      lat,
		Longitude:     lon,
		DistanceKm:    distanceKm,
	}); err != nil {
		return nil, fmt.Errorf("failed to record override: %w", err)
	}
	database.RecordEvent(s.db, participantID, database.EventOverride, database.JSONB{
		"authority_type": string(authorityType),
		"name":           name,
	})

	return database.DispatchDetails(s.db, participantID)
}

// NearbyServiceLists returns every dispatch candidate near the participant's
// last known position, nearest first per type. Operators use it to pick an
// override target.
func (s *LifecycleService) NearbyServiceLists(ctx context.Context, participantID string) (emergency.Lists, error) {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil {
		return emergency.Lists{}, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return emergency.Lists{}, ErrParticipantNotFound
	}
	if !p.HasLocation() {
		return emergency.Lists{}, ErrNoLocation
	}
	return s.locator.FindNearbyServiceLists(ctx, *p.Latitude, *p.Longitude), nil
}

// FlagDislocation marks a member separated from its group: status flip plus a
// standard episode. Called by the dislocation sweep.
func (s *LifecycleService) FlagDislocation(participantID string, lat, lon float64) {
	if err := database.UpdateParticipantStatus(s.db, participantID, database.StatusAnomalyDislocation); err != nil {
		log.Printf("Failed to flag dislocation for %s: %v", participantID, err)
		return
	}
	s.openEpisode(participantID, &Episode{
		Type:      "standard",
		Subtype:   string(database.StatusAnomalyDislocation),
		StartedAt: time.Now(),
		Latitude:  lat,
		Longitude: lon,
	})
}

// InactivitySweep transitions active participants unseen for longer than the
// threshold to anomaly_inactive.
func (s *LifecycleService) InactivitySweep() {
	cutoff := time.Now().Add(-s.cfg.InactivityThreshold)
	stale, err := database.StaleActiveParticipants(s.db, cutoff)
	if err != nil {
		log.Printf("Inactivity sweep query failed: %v", err)
		return
	}

	for _, p := range stale {
		if err := database.UpdateParticipantStatus(s.db, p.ParticipantID, database.StatusAnomalyInactive); err != nil {
			log.Printf("Failed to mark %s inactive: %v", p.ParticipantID, err)
			continue
		}
		var lat, lon float64
		if p.HasLocation() {
			lat, lon = *p.Latitude, *p.Longitude
		}
		s.openEpisode(p.ParticipantID, &Episode{
			Type:      "standard",
			Subtype:   string(database.StatusAnomalyInactive),
			StartedAt: time.Now(),
			Latitude:  lat,
			Longitude: lon,
		})
		s.hub.BroadcastOperators(notify.EventAnomalyAlert, map[string]interface{}{
			"participant_id": p.ParticipantID,
			"status":         database.StatusAnomalyInactive,
			"last_seen":      p.LastSeen,
			"timestamp":      time.Now(),
		})
	}
	if len(stale) > 0 {
		log.Printf("Inactivity sweep flagged %d participants", len(stale))
	}
}

// openEpisode opens a new episode or refreshes the existing one. A panic
// episode is never downgraded to standard by a later risk trigger.
func (s *LifecycleService) openEpisode(participantID string, ep *Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.episodes[participantID]
	if !ok {
		s.episodes[participantID] = ep
		return
	}
	if cur.Type == "panic" && ep.Type != "panic" {
		cur.Latitude = ep.Latitude
		cur.Longitude = ep.Longitude
		return
	}
	// Refresh in place, keeping the original start time.
	cur.Type = ep.Type
	cur.Subtype = ep.Subtype
	cur.Latitude = ep.Latitude
	cur.Longitude = ep.Longitude
	if ep.Source != "" {
		cur.Source = ep.Source
	}
	if len(ep.Services) > 0 {
		cur.Services = ep.Services
	}
}

// resolveEpisode closes the open episode into the bounded resolved ring.
func (s *LifecycleService) resolveEpisode(participantID string) *ResolvedEpisode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[participantID]
	if !ok {
		return nil
	}
	delete(s.episodes, participantID)

	resolved := ResolvedEpisode{Episode: *ep, ResolvedAt: time.Now()}
	ring := append(s.resolved[participantID], resolved)
	if size := s.cfg.ResolvedHistorySize; size > 0 && len(ring) > size {
		ring = ring[len(ring)-size:]
	}
	s.resolved[participantID] = ring
	return &resolved
}

// CurrentEpisode returns a copy of the open episode, if any.
func (s *LifecycleService) CurrentEpisode(participantID string) (Episode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[participantID]
	if !ok {
		return Episode{}, false
	}
	return *ep, true
}

// ResolvedEpisodes returns the resolved ring, oldest first.
func (s *LifecycleService) ResolvedEpisodes(participantID string) []ResolvedEpisode {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.resolved[participantID]
	out := make([]ResolvedEpisode, len(ring))
	copy(out, ring)
	return out
}
