package dto

import "github.com/noah-isme/hostel-outpass-api/internal/models"

// SubmitRequest is the payload for creating a new outing request.
type SubmitRequest struct {
	Type       models.RequestType `json:"type" binding:"required"`
	Reason     string             `json:"reason" binding:"required"`
	OutDate    string             `json:"out_date" binding:"required"`
	OutTime    string             `json:"out_time" binding:"required"`
	ReturnDate string             `json:"return_date" binding:"required"`
	ReturnTime string             `json:"return_time" binding:"required"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelRequest carries the mandatory cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RequestQuery captures list filters from query parameters.
type RequestQuery struct {
	Status   string `form:"status"`
	Type     string `form:"type"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// TransitionResult reports the outcome of a lifecycle action together with
// any degraded notification channels.
type TransitionResult struct {
	Request  *models.RequestView `json:"request"`
	Warnings []string            `json:"warnings,omitempty"`
}
