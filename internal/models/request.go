package models

import "time"

// RequestType enumerates supported outing request categories.
type RequestType string

const (
	RequestTypeOuting RequestType = "OUTING"
	RequestTypeLeave  RequestType = "LEAVE"
	RequestTypeOther  RequestType = "OTHER"
)

// RequestStatus captures workflow states for outing requests.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
	// RequestStatusExpired is a read-time overlay, never persisted.
	RequestStatusExpired RequestStatus = "EXPIRED"
)

// OutingRequest stores a student's outing or leave submission tracked
// through the warden approval workflow.
type OutingRequest struct {
	ID             string        `db:"id" json:"id"`
	StudentID      string        `db:"student_id" json:"student_id"`
	StudentName    string        `db:"student_name" json:"student_name"`
	WardenID       string        `db:"warden_id" json:"warden_id"`
	Type           RequestType   `db:"type" json:"type"`
	Reason         string        `db:"reason" json:"reason"`
	OutDate        string        `db:"out_date" json:"out_date"`
	OutTime        string        `db:"out_time" json:"out_time"`
	ReturnDate     string        `db:"return_date" json:"return_date"`
	ReturnTime     string        `db:"return_time" json:"return_time"`
	Status         RequestStatus `db:"status" json:"status"`
	RejectReason   *string       `db:"reject_reason" json:"reject_reason,omitempty"`
	CancelReason   *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ApprovalNumber *string       `db:"approval_number" json:"approval_number,omitempty"`
	CertificateID  *string       `db:"certificate_id" json:"certificate_id,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	ApprovedAt     *time.Time    `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt     *time.Time    `db:"rejected_at" json:"rejected_at,omitempty"`
	CancelledAt    *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// ReturnDeadline parses the request's return date and time. The zero time is
// returned when either field is missing or malformed.
func (r *OutingRequest) ReturnDeadline() time.Time {
	if r.ReturnDate == "" {
		return time.Time{}
	}
	raw := r.ReturnDate
	layout := "2006-01-02"
	if r.ReturnTime != "" {
		raw = r.ReturnDate + " " + r.ReturnTime
		layout = "2006-01-02 15:04"
	}
	deadline, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}
	}
	return deadline
}

// EffectiveStatus reclassifies pending and approved requests whose return
// deadline has passed as EXPIRED. The persisted status is never changed;
// every read site goes through this single derivation.
func (r *OutingRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status != RequestStatusPending && r.Status != RequestStatusApproved {
		return r.Status
	}
	deadline := r.ReturnDeadline()
	if deadline.IsZero() || !now.After(deadline) {
		return r.Status
	}
	return RequestStatusExpired
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	StudentID string
	WardenID  string
	Status    []RequestStatus
	Type      RequestType
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RequestView is an OutingRequest with its derived status applied for reads.
type RequestView struct {
	OutingRequest
	EffectiveStatus RequestStatus `json:"effective_status"`
}
