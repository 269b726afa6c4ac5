package driver

import (
	"testing"

	"github.com/elements-storage/AudioLoopback/internal/loopback"
)

func newTestPlugin(t *testing.T) *Plugin {
	t.Helper()
	cfg := loopback.DefaultConfig()
	cfg.RingCapacityFrames = 64
	p := NewPlugin(cfg, nil, nil)
	t.Cleanup(p.Close)
	return p
}

func TestPlugin_CreateDeviceAndClientLifecycle(t *testing.T) {
	p := newTestPlugin(t)
	if status := p.CreateDevice(); status != StatusOK {
		t.Fatalf("CreateDevice() = %v, want StatusOK", status)
	}
	if status := p.AddDeviceClient(1, 100, "com.example.app", true); status != StatusOK {
		t.Fatalf("AddDeviceClient() = %v, want StatusOK", status)
	}
	if status := p.StartIO(1); status != StatusOK {
		t.Fatalf("StartIO() = %v, want StatusOK", status)
	}
	if status := p.StopIO(1); status != StatusOK {
		t.Fatalf("StopIO() = %v, want StatusOK", status)
	}
	if status := p.RemoveDeviceClient(1); status != StatusOK {
		t.Fatalf("RemoveDeviceClient() = %v, want StatusOK", status)
	}
}

// Per the error-boundary rule, InvalidClient errors raised inside a task
// are surfaced to a synchronous caller as IllegalOperation.
func TestPlugin_StartIOUnknownClientMapsToIllegalOperation(t *testing.T) {
	p := newTestPlugin(t)
	p.CreateDevice()
	if status := p.StartIO(999); status != StatusIllegalOperation {
		t.Fatalf("StartIO(unknown) = %v, want StatusIllegalOperation", status)
	}
}

func TestPlugin_PropertyRoundTrip(t *testing.T) {
	p := newTestPlugin(t)
	p.CreateDevice()

	if !p.HasProperty(ObjectIDDevice, PropertyEnabledOutputControls) {
		t.Fatalf("HasProperty(EnabledOutputControls) = false, want true")
	}
	if !p.HasProperty(ObjectIDPlugin, PropertyNullDeviceActive) {
		t.Fatalf("HasProperty(Plugin, NullDeviceActive) = false, want true")
	}
	if p.HasProperty(ObjectIDDevice, PropertyNullDeviceActive) {
		t.Fatalf("HasProperty(Device, NullDeviceActive) = true, want false")
	}
	if !p.IsPropertySettable(ObjectIDDevice, PropertyEnabledOutputControls) {
		t.Fatalf("IsPropertySettable(EnabledOutputControls) = false, want true")
	}
	if !p.IsPropertySettable(ObjectIDPlugin, PropertyNullDeviceActive) {
		t.Fatalf("IsPropertySettable(Plugin, NullDeviceActive) = false, want true")
	}

	value, status := p.GetPropertyData(ObjectIDDevice, PropertyEnabledOutputControls)
	if status != StatusOK {
		t.Fatalf("GetPropertyData(EnabledOutputControls) status = %v, want StatusOK", status)
	}
	enabled, ok := value.([2]bool)
	if !ok {
		t.Fatalf("GetPropertyData(EnabledOutputControls) value type = %T, want [2]bool", value)
	}
	// volume and mute both default-enabled.
	if enabled != [2]bool{true, true} {
		t.Fatalf("default enabled controls = %v, want [true true]", enabled)
	}

	status = p.SetPropertyData(ObjectIDDevice, PropertyEnabledOutputControls, [2]bool{false, true})
	if status != StatusOK {
		t.Fatalf("SetPropertyData = %v, want StatusOK", status)
	}
	if p.Device().VolumeControl().WillApplyToAudio() {
		t.Fatalf("VolumeControl().WillApplyToAudio() = true after disabling volume control")
	}

	nullValue, status := p.GetPropertyData(ObjectIDPlugin, PropertyNullDeviceActive)
	if status != StatusOK {
		t.Fatalf("GetPropertyData(NullDeviceActive) status = %v, want StatusOK", status)
	}
	if active, ok := nullValue.(bool); !ok || active {
		t.Fatalf("GetPropertyData(NullDeviceActive) = %v (ok=%v), want false", nullValue, ok)
	}
	status = p.SetPropertyData(ObjectIDPlugin, PropertyNullDeviceActive, true)
	if status != StatusOK {
		t.Fatalf("SetPropertyData(NullDeviceActive) = %v, want StatusOK", status)
	}
	nullValue, status = p.GetPropertyData(ObjectIDPlugin, PropertyNullDeviceActive)
	if status != StatusOK {
		t.Fatalf("GetPropertyData(NullDeviceActive) status = %v, want StatusOK", status)
	}
	if active, ok := nullValue.(bool); !ok || !active {
		t.Fatalf("GetPropertyData(NullDeviceActive) after set = %v (ok=%v), want true", nullValue, ok)
	}
}

func TestPlugin_DoIOOperationReadWriteMix(t *testing.T) {
	p := newTestPlugin(t)
	p.CreateDevice()

	in := make([]byte, 4*loopback.BytesPerFrame)
	for i := range in {
		in[i] = byte(i + 1)
	}
	if status := p.DoIOOperation(IOOperationWriteMix, in, 4, 0); status != StatusOK {
		t.Fatalf("DoIOOperation(WriteMix) = %v, want StatusOK", status)
	}
	out := make([]byte, 4*loopback.BytesPerFrame)
	if status := p.DoIOOperation(IOOperationReadInput, out, 4, 0); status != StatusOK {
		t.Fatalf("DoIOOperation(ReadInput) = %v, want StatusOK", status)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("byte %d: got %d, want %d", i, out[i], in[i])
		}
	}
}
