package expense

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/shared"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		current Status
		event   Event
		want    Status
		wantErr bool
	}{
		{StatusDraft, EventSubmit, StatusPendingApproval, false},
		{StatusPendingApproval, EventApprove, StatusApproved, false},
		{StatusPendingApproval, EventReject, StatusRejected, false},
		{StatusRejected, EventSubmit, StatusPendingApproval, false},

		{StatusDraft, EventApprove, "", true},
		{StatusDraft, EventReject, "", true},
		{StatusPendingApproval, EventSubmit, "", true},
		{StatusApproved, EventSubmit, "", true},
		{StatusApproved, EventApprove, "", true},
		{StatusApproved, EventReject, "", true},
		{StatusRejected, EventApprove, "", true},
		{StatusRejected, EventReject, "", true},
	}
	for _, tc := range cases {
		got, err := NextStatus(tc.current, tc.event)
		if tc.wantErr {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tc.event, tc.current)
			require.ErrorIs(t, err, shared.ErrConflict)
			continue
		}
		require.NoError(t, err, "%s on %s", tc.event, tc.current)
		require.Equal(t, tc.want, got)
	}
}

func TestEditable(t *testing.T) {
	require.True(t, StatusDraft.Editable())
	require.True(t, StatusRejected.Editable())
	require.False(t, StatusPendingApproval.Editable())
	require.False(t, StatusApproved.Editable())
}
