package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType tags which detector produced a notification and which
// metadata shape it carries.
type NotificationType string

const (
	TypeEmptyPrioritySlot NotificationType = "empty_priority_slot"
	TypeCustomerOverdue   NotificationType = "customer_overdue"
	TypeGapOpportunity    NotificationType = "gap_opportunity"
)

// AllTypes lists every notification type in a stable order.
var AllTypes = []NotificationType{TypeEmptyPrioritySlot, TypeGapOpportunity, TypeCustomerOverdue}

// Priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// PriorityRank orders priorities for sorting; unknown values rank lowest.
func PriorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Status constants
const (
	StatusActive    = "active"
	StatusDismissed = "dismissed"
	StatusSnoozed   = "snoozed"
	StatusActed     = "acted"
)

// IsOpen reports whether a status still counts towards the one-open-per-key rule.
func IsOpen(status string) bool {
	return status == StatusActive || status == StatusSnoozed
}

// Metadata is the closed set of per-type payloads.
type Metadata interface {
	NotificationType() NotificationType
}

// EmptyPrioritySlotMetadata describes an unfilled priority block instance.
type EmptyPrioritySlotMetadata struct {
	BlockID     uuid.UUID `json:"block_id"`
	BlockName   string    `json:"block_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	PriorityFor string    `json:"priority_for"`
}

func (EmptyPrioritySlotMetadata) NotificationType() NotificationType { return TypeEmptyPrioritySlot }

// CustomerOverdueMetadata describes a repeat customer past their cadence.
type CustomerOverdueMetadata struct {
	CustomerID    uuid.UUID `json:"customer_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone *string   `json:"customer_phone,omitempty"`
	LastJobDate   string    `json:"last_job_date"`
	DaysOverdue   int       `json:"days_overdue"`
}

func (CustomerOverdueMetadata) NotificationType() NotificationType { return TypeCustomerOverdue }

// GapOpportunityMetadata describes idle time between two jobs.
type GapOpportunityMetadata struct {
	GapStart    time.Time `json:"gap_start"`
	GapEnd      time.Time `json:"gap_end"`
	GapMinutes  int       `json:"gap_minutes"`
	BeforeJobID uuid.UUID `json:"before_job_id"`
	AfterJobID  uuid.UUID `json:"after_job_id"`
}

func (GapOpportunityMetadata) NotificationType() NotificationType { return TypeGapOpportunity }

// SmartNotification is the only entity the engine owns.
type SmartNotification struct {
	ID           uuid.UUID        `json:"id"`
	BusinessID   uuid.UUID        `json:"business_id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Priority     string           `json:"priority"`
	Status       string           `json:"status"`
	Metadata     Metadata         `json:"metadata"`
	NaturalKey   string           `json:"natural_key"`
	ConditionKey string           `json:"-"`
	AutoResolved bool             `json:"auto_resolved"`
	SnoozedUntil *time.Time       `json:"snoozed_until,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NaturalKey returns the dedup key for a notification type and its metadata:
// block_id+date, customer_id, or before_job_id+after_job_id.
func NaturalKey(t NotificationType, md Metadata) (string, error) {
	switch t {
	case TypeEmptyPrioritySlot:
		m, ok := md.(EmptyPrioritySlotMetadata)
		if !ok {
			return "", metadataMismatch(t, md)
		}
		return m.BlockID.String() + ":" + m.Date, nil
	case TypeCustomerOverdue:
		m, ok := md.(CustomerOverdueMetadata)
		if !ok {
			return "", metadataMismatch(t, md)
		}
		return m.CustomerID.String(), nil
	case TypeGapOpportunity:
		m, ok := md.(GapOpportunityMetadata)
		if !ok {
			return "", metadataMismatch(t, md)
		}
		return m.BeforeJobID.String() + ":" + m.AfterJobID.String(), nil
	default:
		return "", fmt.Errorf("unknown notification type %q", t)
	}
}

// ConditionKey extends the natural key with whatever distinguishes one
// occurrence of a condition from the next. A user-resolved notification only
// blocks candidates with the same condition key.
func ConditionKey(t NotificationType, md Metadata) (string, error) {
	key, err := NaturalKey(t, md)
	if err != nil {
		return "", err
	}
	if m, ok := md.(CustomerOverdueMetadata); ok {
		key += ":" + m.LastJobDate
	}
	return string(t) + "|" + key, nil
}

func metadataMismatch(t NotificationType, md Metadata) error {
	return fmt.Errorf("metadata %T does not match notification type %q", md, t)
}

// DecodeMetadata parses raw JSON metadata into the shape selected by t.
func DecodeMetadata(t NotificationType, raw []byte) (Metadata, error) {
	switch t {
	case TypeEmptyPrioritySlot:
		var m EmptyPrioritySlotMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		return m, nil
	case TypeCustomerOverdue:
		var m CustomerOverdueMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		return m, nil
	case TypeGapOpportunity:
		var m GapOpportunityMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
}

// MetadataEqual compares two metadata values by their JSON encoding.
func MetadataEqual(a, b Metadata) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// UnmarshalJSON decodes metadata according to the type tag.
func (n *SmartNotification) UnmarshalJSON(data []byte) error {
	type alias SmartNotification
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Metadata) == 0 || string(aux.Metadata) == "null" {
		n.Metadata = nil
		return nil
	}
	md, err := DecodeMetadata(n.Type, aux.Metadata)
	if err != nil {
		return err
	}
	n.Metadata = md
	return nil
}
