package peer

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilenceSource(t *testing.T) {
	src := &SilenceSource{}
	tracks, err := src.Open(context.Background())
	require.NoError(t, err)
	defer src.Close()

	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())

	require.NoError(t, src.Close())
}

func TestDeniedSource(t *testing.T) {
	_, err := deniedSource{}.Open(context.Background())
	assert.ErrorIs(t, err, ErrMediaAccessDenied)
}
