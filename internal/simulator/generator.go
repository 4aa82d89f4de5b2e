package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/internal/domain/scoring"
)

// Profile describes how unwell a simulated patient tends to be.
type Profile string

// Simulated patient profiles.
const (
	ProfileStable   Profile = "stable"
	ProfileAtRisk   Profile = "at_risk"
	ProfileCritical Profile = "critical"
)

var patientNames = []string{"John Doe", "Jane Smith", "Mike Johnson", "Sarah Wilson", "Tom Brown"}

var (
	genders    = []string{"male", "female"}
	bloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "O+", "O-"}
)

// profileShift is added to a patient's baseline on every reading.
type profileShift struct {
	heartRate   float64
	spo2        float64
	systolic    float64
	diastolic   float64
	temperature float64 // °C
	respRate    float64
	activity    float64
}

var shifts = map[Profile]profileShift{
	ProfileStable:   {},
	ProfileAtRisk:   {heartRate: 20, spo2: -3, systolic: 25, diastolic: 10, temperature: 0.8, respRate: 4, activity: -2},
	ProfileCritical: {heartRate: 55, spo2: -9, systolic: 55, diastolic: 25, temperature: 2.0, respRate: 12, activity: -4},
}

// Patient is one simulated wearer with a fixed physiological baseline.
type Patient struct {
	Input    model.PatientInput
	DeviceID string
	Profile  Profile

	baseHeartRate   float64
	baseSpO2        float64
	baseTemperature float64 // °C
	baseSystolic    float64
	baseDiastolic   float64
	baseActivity    float64
}

// ID returns the patient identifier.
func (p *Patient) ID() string { return p.Input.ID }

// Generator produces patients and readings. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// profileFor spreads profiles across patients: every fourth is critical and
// every other one is at risk.
func profileFor(i int) Profile {
	switch {
	case i%4 == 3:
		return ProfileCritical
	case i%2 == 1:
		return ProfileAtRisk
	default:
		return ProfileStable
	}
}

// Patients creates n patients with ids SIM001, SIM002, ...
func (g *Generator) Patients(n int) []*Patient {
	g.mu.Lock()
	defer g.mu.Unlock()

	patients := make([]*Patient, 0, n)
	for i := 0; i < n; i++ {
		profile := profileFor(i)
		name := patientNames[i%len(patientNames)]
		if i >= len(patientNames) {
			name = fmt.Sprintf("%s %d", name, i/len(patientNames)+1)
		}
		age := g.ageFor(profile)

		patients = append(patients, &Patient{
			Input: model.PatientInput{
				ID:         fmt.Sprintf("SIM%03d", i+1),
				Name:       name,
				Age:        &age,
				Gender:     genders[g.rng.IntN(len(genders))],
				BloodType:  bloodTypes[g.rng.IntN(len(bloodTypes))],
				Conditions: g.conditionsFor(profile),
			},
			DeviceID:        fmt.Sprintf("device-%03d", i+1),
			Profile:         profile,
			baseHeartRate:   float64(60 + g.rng.IntN(21)),
			baseSpO2:        g.uniform(95, 99),
			baseTemperature: g.uniform(36.1, 37.2),
			baseSystolic:    float64(110 + g.rng.IntN(21)),
			baseDiastolic:   float64(70 + g.rng.IntN(16)),
			baseActivity:    g.uniform(4, 8),
		})
	}
	return patients
}

func (g *Generator) ageFor(p Profile) int {
	switch p {
	case ProfileCritical:
		return 75 + g.rng.IntN(16)
	case ProfileAtRisk:
		return 60 + g.rng.IntN(15)
	default:
		return 25 + g.rng.IntN(31)
	}
}

func (g *Generator) conditionsFor(p Profile) []string {
	count := 0
	switch p {
	case ProfileCritical:
		count = 2
	case ProfileAtRisk:
		count = 1
	}
	conditions := make([]string, 0, count)
	for _, idx := range g.rng.Perm(len(scoring.DefaultConditions))[:count] {
		conditions = append(conditions, scoring.DefaultConditions[idx])
	}
	return conditions
}

// Reading generates one reading around the patient's baseline, shifted by
// their profile and jittered.
func (g *Generator) Reading(p *Patient) model.VitalsInput {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := shifts[p.Profile]
	return model.VitalsInput{
		EventID:         uuid.NewString(),
		PatientID:       p.ID(),
		DeviceID:        p.DeviceID,
		RecordedAt:      g.now().UTC().Format(time.RFC3339Nano),
		HeartRate:       model.Float(clamp(p.baseHeartRate+s.heartRate+float64(g.rng.IntN(41)-15), 40, 200)),
		SpO2:            model.Float(round1(clamp(p.baseSpO2+s.spo2+g.uniform(-3, 2), 80, 100))),
		Systolic:        model.Float(clamp(p.baseSystolic+s.systolic+float64(g.rng.IntN(51)-20), 80, 220)),
		Diastolic:       model.Float(clamp(p.baseDiastolic+s.diastolic+float64(g.rng.IntN(36)-15), 50, 130)),
		Temperature:     model.Float(round1(clamp(p.baseTemperature+s.temperature+g.uniform(-1, 2), 35, 42))),
		TemperatureUnit: model.UnitCelsius,
		RespiratoryRate: model.Float(clamp(float64(12+g.rng.IntN(9))+s.respRate, 6, 40)),
		ActivityLevel:   model.Float(round1(clamp(p.baseActivity+s.activity+g.uniform(-1, 1), 0, 10))),
	}
}

// Crisis generates an acute deterioration reading for the patient.
func (g *Generator) Crisis(p *Patient) model.VitalsInput {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.VitalsInput{
		EventID:         uuid.NewString(),
		PatientID:       p.ID(),
		DeviceID:        p.DeviceID,
		RecordedAt:      g.now().UTC().Format(time.RFC3339Nano),
		HeartRate:       model.Float(float64(155 + g.rng.IntN(20))),
		SpO2:            model.Float(round1(g.uniform(80, 86))),
		Systolic:        model.Float(float64(185 + g.rng.IntN(20))),
		Diastolic:       model.Float(float64(108 + g.rng.IntN(10))),
		Temperature:     model.Float(round1(g.uniform(39.5, 40.5))),
		TemperatureUnit: model.UnitCelsius,
		RespiratoryRate: model.Float(float64(28 + g.rng.IntN(6))),
		ActivityLevel:   model.Float(round1(g.uniform(0, 1))),
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
