package loopback

import (
	"math"
	"sync"
)

// VolumeControl is a scalar gain in [0,1], transformed through a power
// curve before being applied to audio, mirroring RDC_Device's default
// transfer function (CAVolumeCurve's pow(2/1) curve).
type VolumeControl struct {
	mu               sync.Mutex
	scalar           float32
	curveExponent    float64
	willApplyToAudio bool
}

// NewVolumeControl returns a control at full scale with the default
// exponent-2 power curve, applying to audio.
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{scalar: 1.0, curveExponent: 2.0, willApplyToAudio: true}
}

// Scalar returns the current volume in [0,1].
func (v *VolumeControl) Scalar() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scalar
}

// SetScalar sets the volume. A value outside [0,1] is rejected with an
// IllegalOperation error and leaves the stored scalar unchanged.
func (v *VolumeControl) SetScalar(s float32) error {
	if s < 0 || s > 1 {
		return newError(KindIllegalOperation, "VolumeControl.SetScalar", nil)
	}
	v.mu.Lock()
	v.scalar = s
	v.mu.Unlock()
	return nil
}

// WillApplyToAudio reports whether Apply currently does anything.
func (v *VolumeControl) WillApplyToAudio() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.willApplyToAudio
}

// SetWillApplyToAudio enables or disables gain application without
// changing the stored scalar; this is what the enabled-controls
// config-change path toggles.
func (v *VolumeControl) SetWillApplyToAudio(applies bool) {
	v.mu.Lock()
	v.willApplyToAudio = applies
	v.mu.Unlock()
}

// gain returns the linear multiplier the current scalar maps to under the
// power curve.
func (v *VolumeControl) gain() float32 {
	v.mu.Lock()
	scalar, exponent, applies := v.scalar, v.curveExponent, v.willApplyToAudio
	v.mu.Unlock()
	if !applies {
		return 1.0
	}
	return float32(math.Pow(float64(scalar), exponent))
}

// Apply scales frames in place by the current gain, if the control is set
// to apply to audio.
func (v *VolumeControl) Apply(frames []Frame) {
	gain := v.gain()
	if gain == 1.0 {
		return
	}
	for i := range frames {
		frames[i][0] *= gain
		frames[i][1] *= gain
	}
}

// MuteControl is a boolean gate on output audio.
type MuteControl struct {
	mu    sync.Mutex
	muted bool
}

// NewMuteControl returns an unmuted control.
func NewMuteControl() *MuteControl { return &MuteControl{} }

// Muted reports whether output is currently silenced.
func (m *MuteControl) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// SetMuted sets whether output is silenced.
func (m *MuteControl) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// Apply zeroes frames in place if muted.
func (m *MuteControl) Apply(frames []Frame) {
	if !m.Muted() {
		return
	}
	for i := range frames {
		frames[i][0] = 0
		frames[i][1] = 0
	}
}
