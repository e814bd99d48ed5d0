// Package datagen produces labeled synthetic security telemetry for
// training and evaluation: benign user sessions plus injected attack
// sessions of known types.
package datagen

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/opensource-security/shrike/internal/domain"
)

// Attack types produced by the generator.
const (
	AttackBruteForce          = "brute_force"
	AttackDataExfiltration    = "data_exfiltration"
	AttackPrivilegeEscalation = "privilege_escalation"
)

var attackTypes = []string{AttackBruteForce, AttackDataExfiltration, AttackPrivilegeEscalation}

var benignActions = []string{
	"login", "logout", "read_file", "write_file", "list_directory",
	"query_database", "api_call", "view_dashboard", "download_report",
}

var benignResources = []string{
	"/home/docs", "/var/reports", "/api/v1/users", "/api/v1/orders",
	"/dashboard", "/shared/projects", "/db/customers",
}

var sensitiveResources = []string{
	"/etc/passwd", "/etc/shadow", "/db/credentials", "/admin/config",
	"/var/backups/full", "/api/v1/admin",
}

// Generator produces deterministic synthetic event streams from a seed.
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
	base  time.Time
}

// New creates a generator. The same seed yields the same events.
func New(seed int64) *Generator {
	return &Generator{
		faker: gofakeit.New(uint64(seed)),
		rng:   rand.New(rand.NewSource(seed)),
		base:  time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

// Generate produces the given number of benign and attack sessions and
// returns the combined events sorted by timestamp, with ground-truth
// labels attached.
func (g *Generator) Generate(normalSessions, attackSessions int) *domain.EventTable {
	var events []domain.Event
	for i := 0; i < normalSessions; i++ {
		events = append(events, g.normalSession()...)
	}
	for i := 0; i < attackSessions; i++ {
		attack := attackTypes[g.rng.Intn(len(attackTypes))]
		events = append(events, g.attackSession(attack)...)
	}

	sort.SliceStable(events, func(a, b int) bool {
		return events[a].Timestamp.Before(events[b].Timestamp)
	})

	fields := append(domain.AllFields(), domain.FieldIsMalicious)
	return domain.NewEventTable(events, fields...)
}

// normalSession emits 3 to 12 benign actions during business hours,
// seconds to minutes apart.
func (g *Generator) normalSession() []domain.Event {
	sessionID := fmt.Sprintf("sess-%s", g.faker.UUID())
	userID := fmt.Sprintf("user-%03d", g.rng.Intn(50))
	sourceIP := g.faker.IPv4Address()

	// Spread sessions over a work week, starting inside business hours.
	start := g.base.
		AddDate(0, 0, g.rng.Intn(5)).
		Add(time.Duration(9+g.rng.Intn(8)) * time.Hour).
		Add(time.Duration(g.rng.Intn(3600)) * time.Second)

	count := 3 + g.rng.Intn(10)
	events := make([]domain.Event, 0, count)
	ts := start
	for j := 0; j < count; j++ {
		ts = ts.Add(time.Duration(5+g.rng.Intn(120)) * time.Second)
		events = append(events, domain.Event{
			Timestamp:        ts,
			SessionID:        sessionID,
			UserID:           userID,
			SourceIP:         sourceIP,
			DestinationIP:    g.faker.IPv4Address(),
			Action:           benignActions[g.rng.Intn(len(benignActions))],
			Resource:         benignResources[g.rng.Intn(len(benignResources))],
			StatusCode:       g.pick(200, 201),
			BytesTransferred: float64(100 + g.rng.Intn(4900)),
		})
	}
	return events
}

// attackSession emits 5 to 20 entries of the given attack type, mostly
// at night and mostly malicious.
func (g *Generator) attackSession(attack string) []domain.Event {
	sessionID := fmt.Sprintf("atk-%s", g.faker.UUID())
	userID := fmt.Sprintf("user-%03d", g.rng.Intn(50))
	sourceIP := g.faker.IPv4Address()

	// Off-hours start: 23:00 to 05:00.
	hour := (23 + g.rng.Intn(6)) % 24
	start := g.base.
		AddDate(0, 0, g.rng.Intn(5)).
		Add(time.Duration(hour) * time.Hour).
		Add(time.Duration(g.rng.Intn(3600)) * time.Second)

	count := 5 + g.rng.Intn(16)
	events := make([]domain.Event, 0, count)
	ts := start
	for j := 0; j < count; j++ {
		// Attack tooling acts fast.
		ts = ts.Add(time.Duration(1+g.rng.Intn(5)) * time.Second)
		e := domain.Event{
			Timestamp:  ts,
			SessionID:  sessionID,
			UserID:     userID,
			SourceIP:   sourceIP,
			AttackType: attack,
		}

		// Roughly 30% of attack-session rows look like cover traffic.
		malicious := g.rng.Float64() < 0.7
		e.IsMalicious = malicious
		if !malicious {
			e.DestinationIP = g.faker.IPv4Address()
			e.Action = benignActions[g.rng.Intn(len(benignActions))]
			e.Resource = benignResources[g.rng.Intn(len(benignResources))]
			e.StatusCode = g.pick(200, 201)
			e.BytesTransferred = float64(100 + g.rng.Intn(4900))
			events = append(events, e)
			continue
		}

		switch attack {
		case AttackBruteForce:
			e.DestinationIP = g.faker.IPv4Address()
			e.Action = "login"
			e.Resource = "/auth"
			e.StatusCode = g.pick(401, 403)
			e.BytesTransferred = float64(50 + g.rng.Intn(200))
		case AttackDataExfiltration:
			e.DestinationIP = g.faker.IPv4Address()
			e.Action = g.pickString("download", "export_data", "bulk_query")
			e.Resource = sensitiveResources[g.rng.Intn(len(sensitiveResources))]
			e.StatusCode = 200
			e.BytesTransferred = float64(10_000_000 + g.rng.Intn(40_000_000))
		case AttackPrivilegeEscalation:
			e.DestinationIP = g.faker.IPv4Address()
			e.Action = g.pickString("sudo_exec", "privilege_check", "escalate_role", "admin_access")
			e.Resource = sensitiveResources[g.rng.Intn(len(sensitiveResources))]
			e.StatusCode = g.pick(401, 403)
			e.BytesTransferred = float64(50 + g.rng.Intn(500))
		}
		events = append(events, e)
	}
	return events
}

func (g *Generator) pick(values ...int) int {
	return values[g.rng.Intn(len(values))]
}

func (g *Generator) pickString(values ...string) string {
	return values[g.rng.Intn(len(values))]
}

// WriteJSON writes generated events as a JSON array readable by the
// ingest package.
func WriteJSON(path string, tbl *domain.EventTable) error {
	data, err := json.MarshalIndent(tbl.Events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}
