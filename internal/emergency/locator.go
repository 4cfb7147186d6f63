package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/geo"
)

const searchRadiusMeters = 10000

// Service is one emergency point of interest near a coordinate.
type Service struct {
	Name       string  `json:"name"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	DistanceKm float64 `json:"distance_km"`
}

// Snapshot is the closest service of each type, any of which may be nil when
// nothing of that type exists within the search radius.
type Snapshot struct {
	ClosestHospital      *Service `json:"closestHospital"`
	ClosestPoliceStation *Service `json:"closestPoliceStation"`
	ClosestFireStation   *Service `json:"closestFireStation"`
}

// Lists holds every candidate of each type, nearest first.
type Lists struct {
	Hospitals      []Service `json:"hospital"`
	PoliceStations []Service `json:"police"`
	FireStations   []Service `json:"fire_station"`
}

// Locator queries an Overpass-compatible points-of-interest service.
type Locator struct {
	url        string
	httpClient *http.Client
}

// NewLocator creates a locator with a bounded request timeout.
func NewLocator(url string, timeout time.Duration) *Locator {
	return &Locator{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type overpassElement struct {
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

func buildQuery(lat, lon float64, radiusMeters int, amenities []string) string {
	var b strings.Builder
	b.WriteString("[out:json];( ")
	for _, amenity := range amenities {
		fmt.Fprintf(&b, `node["amenity"=%q](around:%d,%f,%f);`, amenity, radiusMeters, lat, lon)
	}
	b.WriteString(" ); out body;")
	return b.String()
}

func (l *Locator) query(ctx context.Context, lat, lon float64) (*overpassResponse, error) {
	q := buildQuery(lat, lon, searchRadiusMeters, []string{"hospital", "police", "fire_station"})

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, strings.NewReader(q))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("points-of-interest service returned %s", resp.Status)
	}

	var parsed overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &parsed, nil
}

func defaultName(amenity string) string {
	switch amenity {
	case "hospital":
		return "Hospital"
	case "police":
		return "Police Station"
	case "fire_station":
		return "Fire Station"
	}
	return "Emergency Service"
}

func collect(resp *overpassResponse, originLat, originLon float64) map[string][]Service {
	byAmenity := map[string][]Service{
		"hospital":     {},
		"police":       {},
		"fire_station": {},
	}
	for _, el := range resp.Elements {
		amenity := el.Tags["amenity"]
		list, ok := byAmenity[amenity]
		if !ok {
			continue
		}
		name := el.Tags["name"]
		if name == "" || name == "N/A" {
			name = defaultName(amenity)
		}
		d := geo.DistanceKm(originLat, originLon, el.Lat, el.Lon)
		byAmenity[amenity] = append(list, Service{
			Name:       name,
			Latitude:   el.Lat,
			Longitude:  el.Lon,
			DistanceKm: math.Round(d*100) / 100,
		})
	}
	return byAmenity
}

func closest(services []Service) *Service {
	if len(services) == 0 {
		return nil
	}
	best := services[0]
	for _, s := range services[1:] {
		if s.DistanceKm < best.DistanceKm {
			best = s
		}
	}
	return &best
}

// FindNearbyServices returns the closest hospital, police station and fire
// station within 10 km. Any failure returns nil: dispatch proceeds with an
// empty snapshot rather than blocking the alert.
func (l *Locator) FindNearbyServices(ctx context.Context, lat, lon float64) *Snapshot {
	resp, err := l.query(ctx, lat, lon)
	if err != nil {
		log.Printf("Nearest-service lookup failed: %v", err)
		return nil
	}

	byAmenity := collect(resp, lat, lon)
	return &Snapshot{
		ClosestHospital:      closest(byAmenity["hospital"]),
		ClosestPoliceStation: closest(byAmenity["police"]),
		ClosestFireStation:   closest(byAmenity["fire_station"]),
	}
}

// FindNearbyServiceLists returns every candidate of each type, nearest first.
// On failure the lists are empty, never nil.
func (l *Locator) FindNearbyServiceLists(ctx context.Context, lat, lon float64) Lists {
	lists := Lists{
		Hospitals:      []Service{},
		PoliceStations: []Service{},
		FireStations:   []Service{},
	}

	resp, err := l.query(ctx, lat, lon)
	if err != nil {
		log.Printf("Nearest-service list lookup failed: %v", err)
		return lists
	}

	byAmenity := collect(resp, lat, lon)
	lists.Hospitals = sortByDistance(byAmenity["hospital"])
	lists.PoliceStations = sortByDistance(byAmenity["police"])
	lists.FireStations = sortByDistance(byAmenity["fire_station"])
	return lists
}

func sortByDistance(services []Service) []Service {
	sorted := make([]Service, len(services))
	copy(sorted, services)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DistanceKm < sorted[j].DistanceKm
	})
	return sorted
}

func serviceEntry(s *Service) interface{} {
	if s == nil {
		return nil
	}
	return map[string]interface{}{
		"name":        s.Name,
		"lat":         s.Latitude,
		"lon":         s.Longitude,
		"distance_km": s.DistanceKm,
	}
}

// ToJSONB renders the snapshot in the shape stored on a forward record.
func (s *Snapshot) ToJSONB() database.JSONB {
	if s == nil {
		return database.JSONB{}
	}
	return database.JSONB{
		"closestHospital":      serviceEntry(s.ClosestHospital),
		"closestPoliceStation": serviceEntry(s.ClosestPoliceStation),
		"closestFireStation":   serviceEntry(s.ClosestFireStation),
	}
}
