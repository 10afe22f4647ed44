package domain

import "time"

type TicketStatus string

const (
	TicketStatusBot     TicketStatus = "BOT"
	TicketStatusPending TicketStatus = "PENDING"
	TicketStatusActive  TicketStatus = "ACTIVE"
	TicketStatusClosed  TicketStatus = "CLOSED"
)

// SequenceTicket is the counter domain used for per-tenant ticket numbers.
const SequenceTicket = "TICKET"

type SenderType string

const (
	SenderClient    SenderType = "CLIENT"
	SenderAttendant SenderType = "ATTENDANT"
	SenderBot       SenderType = "BOT"
)

type MediaType string

const (
	MediaImage    MediaType = "IMAGE"
	MediaVideo    MediaType = "VIDEO"
	MediaAudio    MediaType = "AUDIO"
	MediaDocument MediaType = "DOCUMENT"
)

func ParseTicketStatus(raw string) (TicketStatus, bool) {
	switch s := TicketStatus(raw); s {
	case TicketStatusBot, TicketStatusPending, TicketStatusActive, TicketStatusClosed:
		return s, true
	}
	return "", false
}

func ParseMediaType(raw string) (MediaType, bool) {
	switch m := MediaType(raw); m {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return m, true
	}
	return "", false
}

type Ticket struct {
	TenantID           int64        `json:"tenant_id"`
	ID                 int64        `json:"id"`
	ClientID           int64        `json:"client_id"`
	Status             TicketStatus `json:"status"`
	DepartmentID       *int64       `json:"department_id,omitempty"`
	AttendantID        *int64       `json:"attendant_id,omitempty"`
	FirstHumanAt       *time.Time   `json:"first_human_at,omitempty"`
	ClosedAt           *time.Time   `json:"closed_at,omitempty"`
	LastMessageAt      *time.Time   `json:"last_message_at,omitempty"`
	LastMessagePreview string       `json:"last_message_preview"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (t Ticket) IsOpen() bool {
	return t.Status != TicketStatusClosed
}

func (t Ticket) OwnedBy(userID int64) bool {
	return t.AttendantID != nil && *t.AttendantID == userID
}

// OwnedByOther reports whether the ticket has an owner different from userID.
func (t Ticket) OwnedByOther(userID int64) bool {
	return t.AttendantID != nil && *t.AttendantID != userID
}

type Message struct {
	TenantID        int64      `json:"tenant_id"`
	ID              int64      `json:"id"`
	TicketID        int64      `json:"ticket_id"`
	SenderType      SenderType `json:"sender_type"`
	SenderUserID    *int64     `json:"sender_user_id,omitempty"`
	Content         *string    `json:"content"`
	MediaType       *MediaType `json:"media_type,omitempty"`
	MediaRef        *string    `json:"media_ref,omitempty"`
	ReplyToID       *int64     `json:"reply_to_id,omitempty"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	OriginalContent *string    `json:"original_content,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Department struct {
	TenantID int64  `json:"tenant_id"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
}

// TicketFilter drives ListTickets. AttendantID narrows the result depending on
// Status; see repository implementations.
type TicketFilter struct {
	Status       *TicketStatus
	DepartmentID *int64
	AttendantID  *int64
	ClosedSince  *time.Time
	Limit        int
}

type InboundResult struct {
	Ticket  Ticket  `json:"ticket"`
	Message Message `json:"message"`
	Created bool    `json:"created"`
}
