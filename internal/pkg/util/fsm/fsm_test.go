package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/require"
)

func TestWrapEventPropagatesActionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := fsm.NewFSM("idle",
		fsm.Events{{Name: "go", Src: []string{"idle"}, Dst: "busy"}},
		fsm.Callbacks{
			"enter_busy": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	err := m.Event(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	require.False(t, IsRejected(err))
	require.Equal(t, "busy", m.Current())

	err = m.Event(context.Background(), "go")
	require.True(t, IsRejected(err))
	require.False(t, IsRejected(nil))
}
