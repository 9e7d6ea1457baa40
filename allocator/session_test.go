package allocator

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/twitter/mpilaunch/common/errors"
)

func TestSessionSequenceIsMonotonic(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	ctx := context.Background()
	alloc := NewMockAllocator(mockCtrl)
	gomock.InOrder(
		alloc.EXPECT().Poll(ctx, 0).Return(Response{}, nil),
		alloc.EXPECT().Poll(ctx, 1).Return(Response{}, nil),
		alloc.EXPECT().Poll(ctx, 2).Return(Response{}, nil),
	)

	s := NewSession(alloc)
	_, err := s.Poll(ctx)
	require.NoError(t, err)
	_, err = s.PollAllocated(ctx)
	require.NoError(t, err)
	_, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Seq())
}

func TestSessionDefersCompletionsSeenDuringPlacement(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	ctx := context.Background()
	early := CompletionStatus{SlotID: "s1", ExitCode: 0}
	late := CompletionStatus{SlotID: "s2", ExitCode: 137}
	slot := Slot{ID: "s3", Host: "A"}

	alloc := NewMockAllocator(mockCtrl)
	gomock.InOrder(
		alloc.EXPECT().Poll(ctx, 0).Return(Response{Allocated: []Slot{slot}, Completed: []CompletionStatus{early}}, nil),
		alloc.EXPECT().Poll(ctx, 1).Return(Response{Completed: []CompletionStatus{late}}, nil),
	)

	s := NewSession(alloc)
	slots, err := s.PollAllocated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Slot{slot}, slots)

	resp, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CompletionStatus{early, late}, resp.Completed)
}

func TestSessionWrapsAllocatorErrors(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	ctx := context.Background()
	alloc := NewMockAllocator(mockCtrl)
	alloc.EXPECT().Register(ctx).Return(errors.New("connection refused"))
	alloc.EXPECT().Release(ctx, SlotID("s1")).Return(context.Canceled)

	s := NewSession(alloc)
	err := s.Register(ctx)
	assert.Equal(t, errs.AllocatorExitCode, errs.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "allocator register")
	assert.Equal(t, context.Canceled, s.Release(ctx, "s1"))
}
