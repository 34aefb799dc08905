package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReturnDeadline(t *testing.T) {
	req := &OutingRequest{ReturnDate: "2026-09-02", ReturnTime: "18:30"}
	require.Equal(t, time.Date(2026, 9, 2, 18, 30, 0, 0, time.UTC), req.ReturnDeadline())

	req = &OutingRequest{ReturnDate: "2026-09-02"}
	require.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), req.ReturnDeadline())

	req = &OutingRequest{}
	require.True(t, req.ReturnDeadline().IsZero())

	req = &OutingRequest{ReturnDate: "02/09/2026", ReturnTime: "18:30"}
	require.True(t, req.ReturnDeadline().IsZero())
}

func TestEffectiveStatusOverlaysExpiry(t *testing.T) {
	now := time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC)

	pending := &OutingRequest{Status: RequestStatusPending, ReturnDate: "2026-09-02", ReturnTime: "18:00"}
	require.Equal(t, RequestStatusExpired, pending.EffectiveStatus(now))

	approved := &OutingRequest{Status: RequestStatusApproved, ReturnDate: "2026-09-02", ReturnTime: "18:00"}
	require.Equal(t, RequestStatusExpired, approved.EffectiveStatus(now))

	future := &OutingRequest{Status: RequestStatusPending, ReturnDate: "2026-09-04", ReturnTime: "18:00"}
	require.Equal(t, RequestStatusPending, future.EffectiveStatus(now))

	// terminal states never expire
	rejected := &OutingRequest{Status: RequestStatusRejected, ReturnDate: "2026-09-02", ReturnTime: "18:00"}
	require.Equal(t, RequestStatusRejected, rejected.EffectiveStatus(now))

	cancelled := &OutingRequest{Status: RequestStatusCancelled, ReturnDate: "2026-09-02", ReturnTime: "18:00"}
	require.Equal(t, RequestStatusCancelled, cancelled.EffectiveStatus(now))

	// malformed deadlines keep the stored status
	malformed := &OutingRequest{Status: RequestStatusPending, ReturnDate: "garbage"}
	require.Equal(t, RequestStatusPending, malformed.EffectiveStatus(now))
}
