package store

import "time"

// SessionStatus is the persisted lifecycle state of an interview session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is immutable.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Modality is the media mode of an interview.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVideo Modality = "video"
)

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session represents one interview conversation.
type Session struct {
	ID          string        `json:"id"`
	ApplicantID string        `json:"applicant_id"`
	Modality    Modality      `json:"interview_type,omitempty"`
	Status      SessionStatus `json:"status"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	ResumeData  string        `json:"resume_data,omitempty"`
}

// Message is one persisted conversational turn. Content holds the text of
// text turns, or a reference for transient media.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	MediaKind string    `json:"message_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the recruiter-facing assessment generated after a session ends.
type Report struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	ApplicantID       string    `json:"applicant_id"`
	ReportContent     string    `json:"report_content"`
	InterviewDuration string    `json:"interview_duration"`
	TotalQuestions    int       `json:"total_questions"`
	GeneratedAt       time.Time `json:"generated_at"`
	Status            string    `json:"status"`
	Modality          Modality  `json:"interview_type,omitempty"`
}
