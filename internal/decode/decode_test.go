package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdu-bridge/internal/domain"
)

func TestScaleTenths(t *testing.T) {
	assert.Equal(t, 12.0, ScaleTenths(120))
	assert.Equal(t, 0.0, ScaleTenths(0))
}

func TestMeteringFloorCurrent(t *testing.T) {
	cases := []struct {
		raw  int64
		want int64
	}{
		{0, 0},
		{2, 0},
		{3, 3},
		{50, 50},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MeteringFloorCurrent(c.raw))
	}
}

func TestMeteringFloorPower(t *testing.T) {
	assert.Equal(t, int64(0), MeteringFloorPower(1))
	assert.Equal(t, int64(2), MeteringFloorPower(2))
}

func TestBuildSnapshot_MissingFieldsStayUnset(t *testing.T) {
	raw := Raw{
		InputVoltageRaw: 1200,
		Banks: []RawBank{{
			Number: 1, VoltageRaw: 1200, CurrentRaw: 20, PowerRaw: 240, ApparentRaw: 250,
			PowerFactorRaw: 96, LoadState: domain.LoadNormal,
		}},
		Outlets: []RawOutlet{
			{Number: 1, On: true}, // no metering on this outlet
		},
	}

	snap := BuildSnapshot(raw, nil)

	require.Len(t, snap.Outlets, 1)
	assert.Nil(t, snap.Outlets[0].Current, "unmetered outlet must not report a zero current")
	assert.Nil(t, snap.Outlets[0].Power)
	assert.Equal(t, domain.OutletOn, snap.Outlets[0].State)

	require.Len(t, snap.Banks, 1)
	assert.Equal(t, 120.0, snap.Banks[0].Voltage)
	assert.Equal(t, 0.96, snap.Banks[0].PowerFactor)
}

func TestBuildSnapshot_AppliesMeteringFloorToOutlets(t *testing.T) {
	lowCurrent := int64(2)
	raw := Raw{
		Outlets: []RawOutlet{
			{Number: 1, On: true, CurrentRaw: &lowCurrent},
		},
	}
	snap := BuildSnapshot(raw, nil)
	require.NotNil(t, snap.Outlets[0].Current)
	assert.Equal(t, 0.0, *snap.Outlets[0].Current)
}

func TestLoadStateFromRaw_UnknownDefaultsNormal(t *testing.T) {
	assert.Equal(t, domain.LoadNormal, LoadStateFromRaw(99))
	assert.Equal(t, domain.LoadOverload, LoadStateFromRaw(4))
}
