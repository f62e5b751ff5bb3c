package model

// TriageResult is the advisory returned by the remote triage service
type TriageResult struct {
	RiskLevel        string   `json:"risk_level"`
	EmergencyFlag    bool     `json:"emergency_flag"`
	AdvisoryMessage  string   `json:"advisory_message"`
	Disclaimer       string   `json:"disclaimer"`
	DetectedSymptoms []string `json:"detected_symptoms"`
}

// ApplicantProfile is the structured input of an eligibility check
type ApplicantProfile struct {
	Income               float64 `json:"income"`
	Age                  int     `json:"age"`
	BPLCard              bool    `json:"bpl_card"`
	State                string  `json:"state"`
	FamilySize           int     `json:"family_size"`
	HasChronicIllness    bool    `json:"has_chronic_illness"`
	HasDisability        bool    `json:"has_disability"`
	IsPregnant           bool    `json:"is_pregnant"`
	RuralResident        bool    `json:"rural_resident"`
	AnnualHospitalVisits int     `json:"annual_hospital_visits"`
	HasGovernmentID      bool    `json:"has_government_id"`
	Occupation           string  `json:"occupation,omitempty"`
}

// SchemeDecision is the verdict for one benefit scheme
type SchemeDecision struct {
	SchemeName      string `json:"scheme_name"`
	Eligible        bool   `json:"eligible"`
	Reason          string `json:"reason"`
	ApplicationLink string `json:"application_link,omitempty"`
}

// EligibilityResult is returned by the remote eligibility service
type EligibilityResult struct {
	Eligible          bool              `json:"eligible"`
	AssessmentSummary string            `json:"assessment_summary"`
	Score             float64           `json:"score"`
	MatchedRules      []string          `json:"matched_rules"`
	SchemeDecisions   []SchemeDecision  `json:"scheme_decisions"`
	Reasons           []string          `json:"reasons"`
	Benefits          map[string]string `json:"benefits"`
	RequiredDocuments []string          `json:"required_documents"`
	NextSteps         []string          `json:"next_steps"`
	Disclaimer        string            `json:"disclaimer"`
}

// EligibleSchemes returns names of schemes the applicant qualifies for
func (r *EligibilityResult) EligibleSchemes() []string {
	return r.schemes(true)
}

// IneligibleSchemes returns names of schemes the applicant does not qualify for
func (r *EligibilityResult) IneligibleSchemes() []string {
	return r.schemes(false)
}

func (r *EligibilityResult) schemes(eligible bool) []string {
	names := make([]string, 0, len(r.SchemeDecisions))
	for _, decision := range r.SchemeDecisions {
		if decision.Eligible == eligible {
			names = append(names, decision.SchemeName)
		}
	}
	return names
}

// SummaryPayload is the conversation summary sent to the user's phone
type SummaryPayload struct {
	PhoneNumber        string   `json:"phone_number"`
	TriageAdvice       string   `json:"triage_advice"`
	RiskLevel          string   `json:"risk_level,omitempty"`
	EligibilitySummary string   `json:"eligibility_summary,omitempty"`
	EligibleSchemes    []string `json:"eligible_schemes"`
	City               string   `json:"city"`
	PreferredLanguage  Language `json:"preferred_language,omitempty"`
}
