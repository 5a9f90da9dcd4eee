package models

import "time"

// Availability is the doctor-side presence tri-state shown to the counterpart.
type Availability string

const (
	Available Availability = "AVAILABLE"
	Busy      Availability = "BUSY"
	Offline   Availability = "OFFLINE"
)

// Valid reports whether s is one of the three known availability values.
func (a Availability) Valid() bool {
	switch a {
	case Available, Busy, Offline:
		return true
	}
	return false
}

// Role of a conversation participant.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
)

// MessageKind classifies a message body after envelope decoding.
type MessageKind string

const (
	KindPlain        MessageKind = "plain"
	KindSharedReport MessageKind = "shared_report"
)

// Message is one chat message within a conversation. Timestamps are
// server-assigned and monotonic per conversation.
type Message struct {
	ID             string      `bson:"_id,omitempty" json:"id,omitempty"`
	ConversationID string      `bson:"conversation_id" json:"conversation_id,omitempty"`
	SenderID       string      `bson:"sender_id" json:"sender_id"`
	Body           string      `bson:"body" json:"message"`
	Kind           MessageKind `bson:"kind" json:"kind,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"timestamp"`
}

// Profile carries the participant fields the chat UI needs. Role-specific
// fields are optional.
type Profile struct {
	UserID           string `bson:"user_id" json:"user_id"`
	Name             string `bson:"name" json:"name"`
	ProfilePhoto     string `bson:"profile_photo,omitempty" json:"profile_photo,omitempty"`
	Specialization   string `bson:"specialization,omitempty" json:"specialization,omitempty"`
	EmergencyContact string `bson:"emergency_contact,omitempty" json:"emergency_contact,omitempty"`
}

// Conversation is the two-party channel between one patient and one doctor.
// It is created externally when a connection request is accepted; the chat
// core only attaches to one by id.
type Conversation struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	PatientID      string    `bson:"patient_id" json:"patient_id"`
	DoctorID       string    `bson:"doctor_id" json:"doctor_id"`
	PatientProfile Profile   `bson:"patient_profile" json:"patient_profile"`
	DoctorProfile  Profile   `bson:"doctor_profile" json:"doctor_profile"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.PatientID || userID == c.DoctorID
}

// Counterpart returns the other party's user id, or "" if userID is not a
// participant.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	}
	return ""
}

// Report is a sharable medical report as returned by the REST collaborator.
type Report struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	FileURL string `json:"file_url"`
}
