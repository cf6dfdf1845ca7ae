package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestH264FormatParametersRoundtrip(t *testing.T) {
	out := H264FormatParameters{
		LevelAsymmetryAllowed: true,
		PacketizationMode:     1,
		ProfileLevelID:        0x42e01f,
		SpropParameterSets:    [][]byte{{0x67, 0x42, 0x00}, {0x68, 0xce}},
	}

	var in H264FormatParameters
	require.NoError(t, in.Unmarshal(out.Marshal()))
	assert.Equal(t, out, in)
}

func TestH264FormatParametersBrowserStyle(t *testing.T) {
	var f H264FormatParameters
	err := f.Unmarshal("level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f")
	require.NoError(t, err)
	assert.True(t, f.LevelAsymmetryAllowed)
	assert.Equal(t, 1, f.PacketizationMode)
	assert.Equal(t, 0x42e01f, f.ProfileLevelID)
}

func TestH264FormatParametersIgnoresUnknownNames(t *testing.T) {
	var f H264FormatParameters
	require.NoError(t, f.Unmarshal("profile-level-id=640032;max-fs=3600"))
	assert.Equal(t, 0x640032, f.ProfileLevelID)
}

func TestH264FormatParametersRejectsBadValues(t *testing.T) {
	var f H264FormatParameters
	assert.Error(t, f.Unmarshal("packetization-mode=9"))
	assert.Error(t, f.Unmarshal("profile-level-id=zz"))
	assert.Error(t, f.Unmarshal("level-asymmetry-allowed=maybe"))
}
