package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Record is a symptom submission together with the AI's preliminary
// analysis.
type Record struct {
	ID               uuid.UUID  `json:"id"`
	Symptoms         string     `json:"symptoms"`
	Age              *int       `json:"age,omitempty"`
	Duration         *string    `json:"duration,omitempty"`
	Category         *string    `json:"category,omitempty"`
	AIAnalysis       string     `json:"aiAnalysis"`
	PrimaryDiagnosis string     `json:"primaryDiagnosis"`
	ConfidenceLevel  int        `json:"confidenceLevel"`
	Recommendations  []string   `json:"recommendations"`
	Suggestions      []string   `json:"suggestions"`
	Status           Status     `json:"status"`
	DoctorNotes      *string    `json:"doctorNotes,omitempty"`
	ReviewedBy       *string    `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	AIAnalysis       *string   `json:"aiAnalysis,omitempty"`
	PrimaryDiagnosis *string   `json:"primaryDiagnosis,omitempty"`
	ConfidenceLevel  *int      `json:"confidenceLevel,omitempty"`
	Recommendations  *[]string `json:"recommendations,omitempty"`
	Status           *Status   `json:"status,omitempty"`
	DoctorNotes      *string   `json:"doctorNotes,omitempty"`
	ReviewedBy       *string   `json:"reviewedBy,omitempty"`
}

// Apply copies the set fields of p onto r.
func (p Patch) Apply(r *Record, now time.Time) {
	if p.AIAnalysis != nil {
		r.AIAnalysis = *p.AIAnalysis
	}
	if p.PrimaryDiagnosis != nil {
		r.PrimaryDiagnosis = *p.PrimaryDiagnosis
	}
	if p.ConfidenceLevel != nil {
		r.ConfidenceLevel = *p.ConfidenceLevel
	}
	if p.Recommendations != nil {
		r.Recommendations = copyStrings(*p.Recommendations)
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DoctorNotes != nil {
		notes := *p.DoctorNotes
		r.DoctorNotes = &notes
	}
	if p.ReviewedBy != nil {
		reviewer := *p.ReviewedBy
		r.ReviewedBy = &reviewer
		r.ReviewedAt = &now
	}
	r.UpdatedAt = now
}

// SubmitRequest is the body of POST /diagnoses.
type SubmitRequest struct {
	Symptoms string  `json:"symptoms"`
	Age      *int    `json:"age,omitempty"`
	Duration *string `json:"duration,omitempty"`
	Category *string `json:"category,omitempty"`
}
