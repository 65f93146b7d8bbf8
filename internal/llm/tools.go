package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// complaintNumberDigits is the length of an NPCL complaint number.
const complaintNumberDigits = 9

// Tool describes one function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args string) (string, error)
}

// Complaint is one record in the NPCL complaint register.
type Complaint struct {
	ID           string `json:"complaint_id"`
	CustomerName string `json:"customer_name"`
	Area         string `json:"area"`
	IssueType    string `json:"issue_type"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

// Toolset holds the NPCL customer service tools and the complaint
// register they operate on. Safe for concurrent use.
type Toolset struct {
	mu         sync.RWMutex
	complaints map[string]Complaint
}

// NewToolset creates a toolset seeded with the known complaint records.
func NewToolset() *Toolset {
	t := &Toolset{complaints: make(map[string]Complaint)}

	for _, c := range []Complaint{
		{
			ID:           "000054321",
			CustomerName: "dheeraj",
			Area:         "Sector 62, Noida",
			IssueType:    "Power outage",
			Status:       "In Progress",
			Priority:     "high",
		},
		{
			ID:           "000054322",
			CustomerName: "nidhi",
			Area:         "Greater Noida West",
			IssueType:    "Voltage fluctuation",
			Status:       "Assigned to technician",
			Priority:     "medium",
		},
		{
			ID:           "000054323",
			CustomerName: "nikunj",
			Area:         "Sector 18, Noida",
			IssueType:    "Meter reading issue",
			Status:       "Resolved",
			Priority:     "low",
		},
	} {
		t.complaints[c.ID] = c
	}

	return t
}

// Tools returns the function tools exposed to the model.
func (t *Toolset) Tools() []Tool {
	return []Tool{
		{
			Name:        "get_complaint_status",
			Description: "Look up the status of an existing NPCL complaint by its 9 digit complaint number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"complaint_number": map[string]any{
						"type":        "string",
						"description": "NPCL complaint number, e.g. 000054321. Dashes and spaces are ignored.",
					},
				},
				"required": []string{"complaint_number"},
			},
			Handler: t.complaintStatusHandler,
		},
		{
			Name:        "register_complaint",
			Description: "Register a new NPCL complaint for a power supply or billing issue and return the new complaint number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"customer_name": map[string]any{
						"type":        "string",
						"description": "Name of the customer registering the complaint.",
					},
					"area": map[string]any{
						"type":        "string",
						"description": "Area or sector of the customer, e.g. Sector 62 Noida.",
					},
					"issue_type": map[string]any{
						"type":        "string",
						"description": "Short description of the issue, e.g. Power outage, Voltage fluctuation.",
					},
				},
				"required": []string{"area", "issue_type"},
			},
			Handler: t.registerComplaintHandler,
		},
		{
			Name:        "get_weather",
			Description: "Get current weather information for cities in India, especially the NCR region served by NPCL.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "City name in India, e.g. Delhi, Mumbai, Noida, Greater Noida.",
					},
				},
				"required": []string{"location"},
			},
			Handler: t.weatherHandler,
		},
	}
}

// Execute runs the named tool with raw JSON arguments and returns the
// JSON encoded result.
func (t *Toolset) Execute(ctx context.Context, name, args string) (string, error) {
	for _, tool := range t.Tools() {
		if tool.Name == name {
			return tool.Handler(ctx, args)
		}
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

// Complaints returns a snapshot of the complaint register sorted by ID.
func (t *Toolset) Complaints() []Complaint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Complaint, 0, len(t.complaints))
	for _, c := range t.complaints {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// complaintStatusArgs is the JSON-decoded input for get_complaint_status.
type complaintStatusArgs struct {
	ComplaintNumber string `json:"complaint_number"`
}

// complaintStatusResult is the JSON-encoded output of get_complaint_status.
// SpokenID carries the digit by digit reading the assistant speaks back.
type complaintStatusResult struct {
	ComplaintID  string `json:"complaint_id"`
	SpokenID     string `json:"spoken_id"`
	Found        bool   `json:"found"`
	CustomerName string `json:"customer_name,omitempty"`
	Status       string `json:"status,omitempty"`
	IssueType    string `json:"issue_type,omitempty"`
	Area         string `json:"area,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Note         string `json:"note,omitempty"`
}

func (t *Toolset) complaintStatusHandler(_ context.Context, args string) (string, error) {
	var a complaintStatusArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}

	id := digitsOnly(a.ComplaintNumber)
	if id == "" {
		return "", fmt.Errorf("complaint_number must not be empty")
	}

	result := complaintStatusResult{ComplaintID: id, SpokenID: spokenDigits(id)}

	if len(id) != complaintNumberDigits {
		result.Note = fmt.Sprintf("NPCL complaint numbers have %d digits", complaintNumberDigits)
		return encodeResult(result)
	}

	t.mu.RLock()
	complaint, ok := t.complaints[id]
	t.mu.RUnlock()

	if !ok {
		result.Note = "no complaint registered under this number"
		return encodeResult(result)
	}

	result.Found = true
	result.CustomerName = complaint.CustomerName
	result.Status = complaint.Status
	result.IssueType = complaint.IssueType
	result.Area = complaint.Area
	result.Priority = complaint.Priority
	return encodeResult(result)
}

// registerComplaintArgs is the JSON-decoded input for register_complaint.
type registerComplaintArgs struct {
	CustomerName string `json:"customer_name"`
	Area         string `json:"area"`
	IssueType    string `json:"issue_type"`
}

// registerComplaintResult is the JSON-encoded output of register_complaint.
type registerComplaintResult struct {
	ComplaintID string `json:"complaint_id"`
	SpokenID    string `json:"spoken_id"`
	Status      string `json:"status"`
	ServiceArea bool   `json:"in_service_area"`
}

func (t *Toolset) registerComplaintHandler(_ context.Context, args string) (string, error) {
	var a registerComplaintArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}

	if strings.TrimSpace(a.Area) == "" {
		return "", fmt.Errorf("area must not be empty")
	}
	if strings.TrimSpace(a.IssueType) == "" {
		return "", fmt.Errorf("issue_type must not be empty")
	}
	if strings.TrimSpace(a.CustomerName) == "" {
		a.CustomerName = "Customer"
	}

	t.mu.Lock()
	id := fmt.Sprintf("00005%d", 4324+rand.Intn(5676))
	for _, exists := t.complaints[id]; exists; _, exists = t.complaints[id] {
		id = fmt.Sprintf("00005%d", 4324+rand.Intn(5676))
	}
	t.complaints[id] = Complaint{
		ID:           id,
		CustomerName: a.CustomerName,
		Area:         a.Area,
		IssueType:    a.IssueType,
		Status:       "Registered",
		Priority:     "normal",
	}
	t.mu.Unlock()

	return encodeResult(registerComplaintResult{
		ComplaintID: id,
		SpokenID:    spokenDigits(id),
		Status:      "Registered",
		ServiceArea: isServiceArea(a.Area),
	})
}

// weatherArgs is the JSON-decoded input for get_weather.
type weatherArgs struct {
	Location string `json:"location"`
}

// weatherResult is the JSON-encoded output of get_weather.
type weatherResult struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	Condition   string `json:"condition"`
	Humidity    string `json:"humidity"`
	Description string `json:"description"`
	ServiceArea bool   `json:"npcl_service_area"`
}

func (t *Toolset) weatherHandler(_ context.Context, args string) (string, error) {
	var a weatherArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}
	if strings.TrimSpace(a.Location) == "" {
		return "", fmt.Errorf("location must not be empty")
	}

	city := normalizeCity(a.Location)
	conditions, ok := cityConditions[city]
	if !ok {
		conditions = defaultWeather
	}

	return encodeResult(weatherResult{
		Location:    city,
		Temperature: conditions.Temperature,
		Condition:   conditions.Condition,
		Humidity:    conditions.Humidity,
		Description: conditions.Description,
		ServiceArea: isServiceArea(city),
	})
}

// digitsOnly strips everything but digits, so spoken or dashed
// complaint numbers like "000-054-321" still resolve.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// spokenDigits spaces out a number for digit by digit reading,
// "000054321" becomes "0 0 0 0 5 4 3 2 1".
func spokenDigits(id string) string {
	return strings.Join(strings.Split(id, ""), " ")
}

// normalizeCity resolves aliases and casing to the canonical city name.
// Unknown cities come back trimmed but otherwise untouched.
func normalizeCity(location string) string {
	location = strings.TrimSpace(location)
	lower := strings.ToLower(location)

	if canonical, ok := cityAliases[lower]; ok {
		return canonical
	}
	for city := range cityConditions {
		if strings.ToLower(city) == lower {
			return city
		}
	}
	return location
}

// isServiceArea reports whether the area falls inside NPCL coverage.
func isServiceArea(area string) bool {
	lower := strings.ToLower(area)
	for _, serviceArea := range serviceAreas {
		if strings.Contains(lower, strings.ToLower(serviceArea)) {
			return true
		}
	}
	return false
}

func encodeResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

type cityWeather struct {
	Temperature string
	Condition   string
	Humidity    string
	Description string
}

// serviceAreas lists NPCL's coverage, used to flag complaint and
// weather lookups inside the service territory.
var serviceAreas = []string{
	"Noida", "Greater Noida", "Sector 62", "Sector 18", "Sector 16",
	"Sector 15", "Sector 37", "Sector 44", "Sector 51", "Sector 76",
	"Knowledge Park", "Alpha", "Beta", "Gamma", "Delta", "Techzone",
}

// cityAliases maps common alternate city names to canonical ones.
var cityAliases = map[string]string{
	"new delhi":  "Delhi",
	"bombay":     "Mumbai",
	"calcutta":   "Kolkata",
	"bengaluru":  "Bangalore",
	"madras":     "Chennai",
	"gurgaon":    "Gurugram",
	"trivandrum": "Thiruvananthapuram",
	"vizag":      "Visakhapatnam",
}

// defaultWeather is reported for cities without an entry of their own.
var defaultWeather = cityWeather{"25°C", "Pleasant", "65%", "Moderate conditions"}

// cityConditions holds canned observations for Indian cities, the NCR
// cities around NPCL's territory included.
var cityConditions = map[string]cityWeather{
	"Delhi":              {"28°C", "Partly Cloudy", "65%", "Light winds from northwest"},
	"Mumbai":             {"32°C", "Humid", "78%", "Sea breeze, moderate humidity"},
	"Bangalore":          {"24°C", "Pleasant", "60%", "Cool and comfortable"},
	"Chennai":            {"35°C", "Hot", "80%", "High humidity, coastal winds"},
	"Kolkata":            {"30°C", "Cloudy", "72%", "Overcast with light breeze"},
	"Hyderabad":          {"29°C", "Warm", "55%", "Clear skies, dry weather"},
	"Pune":               {"26°C", "Mild", "58%", "Pleasant with light winds"},
	"Ahmedabad":          {"33°C", "Hot", "45%", "Dry heat, clear skies"},
	"Jaipur":             {"31°C", "Sunny", "40%", "Bright sunshine, low humidity"},
	"Lucknow":            {"27°C", "Moderate", "68%", "Partly cloudy, comfortable"},
	"Kanpur":             {"29°C", "Warm", "62%", "Light clouds, moderate breeze"},
	"Nagpur":             {"32°C", "Hot", "50%", "Central India heat, dry conditions"},
	"Indore":             {"28°C", "Pleasant", "55%", "Comfortable temperature"},
	"Bhopal":             {"26°C", "Cool", "65%", "Lake city breeze, pleasant"},
	"Visakhapatnam":      {"31°C", "Coastal", "75%", "Sea breeze, moderate humidity"},
	"Kochi":              {"29°C", "Tropical", "85%", "High humidity, coastal climate"},
	"Thiruvananthapuram": {"30°C", "Warm", "82%", "Tropical coastal weather"},
	"Guwahati":           {"25°C", "Mild", "78%", "Northeast monsoon influence"},
	"Bhubaneswar":        {"31°C", "Hot", "70%", "Eastern coastal heat"},
	"Chandigarh":         {"25°C", "Pleasant", "60%", "Planned city comfort"},
	"Noida":              {"27°C", "Pleasant", "62%", "NCR weather, light pollution haze"},
	"Greater Noida":      {"26°C", "Clear", "58%", "Open area, good air circulation"},
	"Ghaziabad":          {"28°C", "Moderate", "65%", "Urban heat, moderate humidity"},
	"Faridabad":          {"29°C", "Warm", "63%", "Industrial area warmth"},
	"Gurugram":           {"28°C", "Hazy", "60%", "Corporate hub, urban climate"},
}
