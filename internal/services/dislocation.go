package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/config"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/geo"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/utils"
)

// Round is one escalation cycle for a dislocated group: the members still
// expected to answer and how many prompts have gone out.
type Round struct {
	MembersToRespond map[string]struct{}
	AlertCount       int
}

// DislocationService watches active groups for members separated from the
// group's median position and runs the round/snooze escalation protocol.
type DislocationService struct {
	db        *gorm.DB
	cfg       config.EngineConfig
	hub       *notify.Hub
	slack     *notify.SlackMirror
	locator   ServiceLocator
	lifecycle *LifecycleService

	mu      sync.Mutex
	rounds  map[string]*Round
	snoozes *gocache.Cache
}

// NewDislocationService creates the group dislocation detector.
func NewDislocationService(db *gorm.DB, cfg config.EngineConfig, hub *notify.Hub, slack *notify.SlackMirror, locator ServiceLocator, lifecycle *LifecycleService) *DislocationService {
	return &DislocationService{
		db:        db,
		cfg:       cfg,
		hub:       hub,
		slack:     slack,
		locator:   locator,
		lifecycle: lifecycle,
		rounds:    make(map[string]*Round),
		snoozes:   gocache.New(cfg.SnoozeAfterNo, time.Minute),
	}
}

// dislocatedMembers returns the members farther than the threshold from the
// group's per-axis median position.
func (s *DislocationService) dislocatedMembers(members []database.Participant) []database.Participant {
	points := make([]geo.Point, 0, len(members))
	for _, m := range members {
		points = append(points, geo.Point{Lat: *m.Latitude, Lon: *m.Longitude})
	}
	median := geo.MedianPoint(points)

	var out []database.Participant
	for _, m := range members {
		d := geo.DistanceKm(median.Lat, median.Lon, *m.Latitude, *m.Longitude)
		if d > s.cfg.DislocationKm {
			out = append(out, m)
		}
	}
	return out
}

// Sweep runs one dislocation check across all eligible groups. Per-group
// errors are logged and do not stop the rest of the tick.
func (s *DislocationService) Sweep(ctx context.Context) {
	groups, err := database.ActiveGroups(s.db)
	if err != nil {
		log.Printf("Dislocation sweep failed to load groups: %v", err)
		return
	}

	for _, groupName := range groups {
		if _, snoozed := s.snoozes.Get(groupName); snoozed {
			continue
		}
		if err := s.checkGroup(groupName); err != nil {
			log.Printf("Dislocation check failed for group %s: %v", groupName, err)
		}
	}
}

func (s *DislocationService) checkGroup(groupName string) error {
	members, err := database.GroupMembersWithLocation(s.db, groupName)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	if len(members) < 2 {
		return nil
	}

	dislocated := s.dislocatedMembers(members)
	if len(dislocated) == 0 {
		// Re-converged: drop any pending round without escalating.
		s.mu.Lock()
		if _, ok := s.rounds[groupName]; ok {
			log.Printf("Group %s is back together, clearing pending round", groupName)
			delete(s.rounds, groupName)
		}
		s.mu.Unlock()
		return nil
	}

	names := make([]string, 0, len(dislocated))
	for _, m := range dislocated {
		names = append(names, m.ParticipantID)
	}
	now := time.Now()

	s.mu.Lock()
	round, exists := s.rounds[groupName]
	if !exists {
		round = &Round{
			MembersToRespond: make(map[string]struct{}, len(members)),
			AlertCount:       1,
		}
		for _, m := range members {
			round.MembersToRespond[m.ParticipantID] = struct{}{}
		}
		s.rounds[groupName] = round
	} else {
		round.AlertCount++
	}
	count := round.AlertCount
	pending := make([]string, 0, len(round.MembersToRespond))
	for id := range round.MembersToRespond {
		pending = append(pending, id)
	}
	if count > s.cfg.MaxDislocationRounds {
		delete(s.rounds, groupName)
	}
	s.mu.Unlock()

	if !exists {
		log.Printf("New dislocation detected for group %s: %v", groupName, names)
		s.hub.BroadcastOperators(notify.EventAdminDislocation, map[string]interface{}{
			"group_name":         groupName,
			"dislocated_members": names,
			"message":            fmt.Sprintf("Group dislocation detected in %s: %s separated from the group.", groupName, strings.Join(names, ", ")),
			"timestamp":          now,
		})
		s.hub.BroadcastOperators(notify.EventDislocationBroadcast, map[string]interface{}{
			"group_name":         groupName,
			"dislocated_members": names,
			"timestamp":          now,
		})
		for _, m := range dislocated {
			s.lifecycle.FlagDislocation(m.ParticipantID, *m.Latitude, *m.Longitude)
		}
	}

	if count > s.cfg.MaxDislocationRounds {
		// Escalate exactly once, then clear without re-arming.
		log.Printf("Group %s did not respond after %d rounds, escalating", groupName, s.cfg.MaxDislocationRounds)
		message := fmt.Sprintf("Group %s did not respond to dislocation alerts after %d rounds.", groupName, s.cfg.MaxDislocationRounds)
		s.hub.BroadcastOperators(notify.EventAdminDislocation, map[string]interface{}{
			"group_name": groupName,
			"message":    message,
			"timestamp":  now,
		})
		s.slack.PostAlert("", message)
		return nil
	}

	for _, id := range pending {
		s.hub.SendToParticipant(id, notify.EventGroupCheckPrompt, map[string]interface{}{
			"type":       "group-dislocation",
			"group_name": groupName,
			"message":    "Are you with your group?",
			"timestamp":  now,
		})
	}
	return nil
}

// Respond processes a member's yes/no answer to the group check prompt.
// Answers for a group with no open round are safe no-ops.
func (s *DislocationService) Respond(ctx context.Context, groupName, participantID, response string) {
	s.mu.Lock()
	round, ok := s.rounds[groupName]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(round.MembersToRespond, participantID)

	answer := strings.ToLower(strings.TrimSpace(response))
	allConfirmed := answer == "yes" && len(round.MembersToRespond) == 0
	if answer == "no" || allConfirmed {
		delete(s.rounds, groupName)
	}
	s.mu.Unlock()

	now := time.Now()
	switch {
	case answer == "no":
		message := fmt.Sprintf("%s reported they are NOT with group %s. Immediate attention required.", participantID, groupName)
		s.hub.BroadcastOperators(notify.EventAdminDislocation, map[string]interface{}{
			"group_name":        groupName,
			"dislocated_member": participantID,
			"message":           message,
			"timestamp":         now,
		})
		s.slack.PostAlert(participantID, message)
		s.dispatchForMember(ctx, participantID)
		s.snoozes.Set(groupName, time.Now(), s.cfg.SnoozeAfterNo)

	case allConfirmed:
		s.hub.BroadcastOperators(notify.EventAdminDislocation, map[string]interface{}{
			"group_name": groupName,
			"message":    fmt.Sprintf("All members of %s confirmed they are together. Snoozing further checks for %s.", groupName, utils.FormatDuration(s.cfg.SnoozeAfterYes)),
			"timestamp":  now,
		})
		s.snoozes.Set(groupName, time.Now(), s.cfg.SnoozeAfterYes)
	}
}

// dispatchForMember looks up nearest services for a dislocated member and
// pushes a dispatch notice. Lookup failure is non-fatal.
func (s *DislocationService) dispatchForMember(ctx context.Context, participantID string) {
	p, err := database.GetParticipant(s.db, participantID)
	if err != nil || p == nil || !p.HasLocation() {
		return
	}
	snapshot := s.locator.FindNearbyServices(ctx, *p.Latitude, *p.Longitude)
	if snapshot == nil {
		return
	}
	s.hub.BroadcastOperators(notify.EventEmergencyDispatched, map[string]interface{}{
		"participant_id": participantID,
		"message":        "Services located near dislocated member.",
		"services":       snapshot.ToJSONB(),
		"timestamp":      time.Now(),
	})
}

// OpenRound reports the current round for a group, for tests and status APIs.
func (s *DislocationService) OpenRound(groupName string) (Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[groupName]
	if !ok {
		return Round{}, false
	}
	pending := make(map[string]struct{}, len(round.MembersToRespond))
	for id := range round.MembersToRespond {
		pending[id] = struct{}{}
	}
	return Round{MembersToRespond: pending, AlertCount: round.AlertCount}, true
}

// Snoozed reports whether a group currently has an unexpired snooze entry.
func (s *DislocationService) Snoozed(groupName string) bool {
	_, ok := s.snoozes.Get(groupName)
	return ok
}
