// Package driver implements the thin host-facing shim around the
// loopback audio core: the plug-in vtable, the fixed object graph, custom
// properties, and status-code mapping a real host-plugin glue layer (out
// of scope for this repository) would bind against.
package driver

import (
	"errors"
	"log/slog"

	"github.com/elements-storage/AudioLoopback/internal/loopback"
)

// Status is this driver's rendering of a host status code. A real
// host-plugin shim would translate Status values into whatever the host's
// native status-code type is; this package only needs a comparable,
// loggable value to map Kind onto.
type Status int

const (
	StatusOK Status = iota
	StatusBadObject
	StatusBadProperty
	StatusBadPropertySize
	StatusUnsupportedFormat
	StatusIllegalOperation
	StatusInvalidClient
	StatusRingBufferTooMuch
	StatusRingBufferCPUOverload
	StatusUnspecified
)

// StatusFromError maps any error returned by the loopback package onto a
// Status a host-plugin shim can hand back across the vtable boundary. A nil
// error maps to StatusOK; an error that isn't a *loopback.Error maps to
// StatusUnspecified.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	var lerr *loopback.Error
	if !errors.As(err, &lerr) {
		return StatusUnspecified
	}
	switch lerr.Kind {
	case loopback.KindBadObject:
		return StatusBadObject
	case loopback.KindBadProperty:
		return StatusBadProperty
	case loopback.KindBadPropertySize:
		return StatusBadPropertySize
	case loopback.KindUnsupportedFormat:
		return StatusUnsupportedFormat
	case loopback.KindIllegalOperation:
		return StatusIllegalOperation
	case loopback.KindInvalidClient:
		return StatusInvalidClient
	case loopback.KindRingBufferTooMuch:
		return StatusRingBufferTooMuch
	case loopback.KindRingBufferCPUOverload:
		return StatusRingBufferCPUOverload
	default:
		return StatusUnspecified
	}
}

// Custom property selectors, per the driver's external interface.
const (
	PropertyNullDeviceActive      = loopback.PropertyNullDeviceActive
	PropertyEnabledOutputControls = loopback.PropertyEnabledOutputControls
)

// Object IDs, re-exported from loopback so host-plugin glue only needs to
// import this package.
const (
	ObjectIDPlugin        = loopback.ObjectIDPlugin
	ObjectIDDevice        = loopback.ObjectIDDevice
	ObjectIDInputStream   = loopback.ObjectIDInputStream
	ObjectIDOutputStream  = loopback.ObjectIDOutputStream
	ObjectIDVolumeControl = loopback.ObjectIDVolumeControl
	ObjectIDMuteControl   = loopback.ObjectIDMuteControl
	ObjectIDNullDevice    = loopback.ObjectIDNullDevice
	ObjectIDNullStream    = loopback.ObjectIDNullStream
)

// Interface is the plug-in vtable a host-plugin shim calls into. It is
// the "trait-like capability set" rendering of the host ABI: a real shim
// implements its glue by holding a *Plugin and translating host calls
// into these methods, never the reverse.
type Interface interface {
	Initialize(host loopback.ConfigChangeRequester) Status
	CreateDevice() Status
	AddDeviceClient(clientID uint32, processID int32, bundleID string, nativeEndian bool) Status
	RemoveDeviceClient(clientID uint32) Status
	StartIO(clientID uint32) Status
	StopIO(clientID uint32) Status
	GetZeroTimeStamp() (sampleTime float64, hostTime uint64, seed uint64)
	WillDoIOOperation(operationID uint32) bool
	BeginIOOperation(clientID uint32)
	DoIOOperation(operationID uint32, buf []byte, frameCount uint64, sampleTime int64) Status
	EndIOOperation(clientID uint32)
	HasProperty(objectID uint32, propertyID uint32) bool
	IsPropertySettable(objectID uint32, propertyID uint32) bool
	GetPropertyDataSize(objectID uint32, propertyID uint32) (uint32, Status)
	GetPropertyData(objectID uint32, propertyID uint32) (any, Status)
	SetPropertyData(objectID uint32, propertyID uint32, value any) Status
	PerformDeviceConfigurationChange(changeAction uint64) Status
	AbortDeviceConfigurationChange(changeAction uint64) Status
}

// IO operation IDs passed to WillDoIOOperation/DoIOOperation.
const (
	IOOperationReadInput uint32 = iota
	IOOperationWriteMix
	IOOperationProcessMix
	IOOperationProcessOutput
)

// Plugin is the concrete Interface implementation wrapping one Device.
// Per the "process-wide singletons become explicit initialization"
// guidance, a Plugin is built by NewPlugin rather than reached through a
// package-level global, so tests (and a process that, unusually, wants
// more than one) can hold independent instances.
type Plugin struct {
	logger *slog.Logger
	cfg    *loopback.Config
	device *loopback.Device

	nullDeviceActive bool
	// enabledOutputControls is [volumeEnabled, muteEnabled], per the
	// documented property shape.
	enabledOutputControls [2]bool
}

const (
	enabledControlVolumeIndex = 0
	enabledControlMuteIndex   = 1
)

// NewPlugin constructs a Plugin. host may be nil for tests and tools that
// have no real host to round-trip config changes through.
func NewPlugin(cfg *loopback.Config, host loopback.ConfigChangeRequester, logger *slog.Logger) *Plugin {
	if cfg == nil {
		cfg = loopback.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{logger: logger, cfg: cfg}
	p.enabledOutputControls[enabledControlVolumeIndex] = cfg.DefaultVolumeEnabled
	p.enabledOutputControls[enabledControlMuteIndex] = cfg.DefaultMuteEnabled
	p.device = loopback.NewDevice(cfg, host, logger)
	return p
}

// Close releases the plug-in's device resources.
func (p *Plugin) Close() { p.device.Close() }

// Device exposes the underlying Device for callers (tests, the
// diagnostics CLI) that need lower-level access than the vtable offers.
func (p *Plugin) Device() *loopback.Device { return p.device }

func (p *Plugin) Initialize(host loopback.ConfigChangeRequester) Status {
	return StatusOK
}

func (p *Plugin) CreateDevice() Status {
	if err := p.device.Activate(); err != nil {
		return StatusFromError(err)
	}
	return StatusOK
}

func (p *Plugin) AddDeviceClient(clientID uint32, processID int32, bundleID string, nativeEndian bool) Status {
	err := p.device.AddClient(loopback.Client{
		ClientID:       clientID,
		ProcessID:      processID,
		BundleID:       bundleID,
		IsNativeEndian: nativeEndian,
	})
	return StatusFromError(err)
}

func (p *Plugin) RemoveDeviceClient(clientID uint32) Status {
	_, err := p.device.RemoveClient(clientID)
	return StatusFromError(err)
}

func (p *Plugin) StartIO(clientID uint32) Status {
	return StatusFromError(p.device.StartIO(clientID))
}

func (p *Plugin) StopIO(clientID uint32) Status {
	return StatusFromError(p.device.StopIO(clientID))
}

func (p *Plugin) GetZeroTimeStamp() (float64, uint64, uint64) {
	return p.device.GetZeroTimeStamp()
}

func (p *Plugin) WillDoIOOperation(operationID uint32) bool {
	switch operationID {
	case IOOperationReadInput, IOOperationWriteMix, IOOperationProcessMix, IOOperationProcessOutput:
		return true
	default:
		return false
	}
}

func (p *Plugin) BeginIOOperation(clientID uint32) { p.device.ThreadBeginIO(clientID) }
func (p *Plugin) EndIOOperation(clientID uint32)   { p.device.ThreadEndIO(clientID) }

func (p *Plugin) DoIOOperation(operationID uint32, buf []byte, frameCount uint64, sampleTime int64) Status {
	switch operationID {
	case IOOperationReadInput:
		return StatusFromError(p.device.ReadInput(buf, frameCount, sampleTime))
	case IOOperationWriteMix:
		return StatusFromError(p.device.WriteMix(buf, frameCount, sampleTime))
	case IOOperationProcessMix:
		frames := loopback.DecodeFrames(buf)
		p.device.ProcessMix(frames)
		loopback.EncodeFrames(buf, frames)
		return StatusOK
	case IOOperationProcessOutput:
		frames := loopback.DecodeFrames(buf)
		p.device.ProcessOutput(frames)
		loopback.EncodeFrames(buf, frames)
		return StatusOK
	default:
		return StatusBadObject
	}
}

func (p *Plugin) HasProperty(objectID uint32, propertyID uint32) bool {
	switch {
	case objectID == ObjectIDPlugin && propertyID == PropertyNullDeviceActive:
		return true
	case objectID == ObjectIDDevice && propertyID == PropertyEnabledOutputControls:
		return true
	default:
		return false
	}
}

func (p *Plugin) IsPropertySettable(objectID uint32, propertyID uint32) bool {
	switch {
	case objectID == ObjectIDDevice && propertyID == PropertyEnabledOutputControls:
		return true
	case objectID == ObjectIDPlugin && propertyID == PropertyNullDeviceActive:
		return true
	default:
		return false
	}
}

func (p *Plugin) GetPropertyDataSize(objectID uint32, propertyID uint32) (uint32, Status) {
	if !p.HasProperty(objectID, propertyID) {
		return 0, StatusBadProperty
	}
	switch propertyID {
	case PropertyNullDeviceActive:
		return 4, StatusOK
	case PropertyEnabledOutputControls:
		return 2, StatusOK
	default:
		return 0, StatusBadProperty
	}
}

func (p *Plugin) GetPropertyData(objectID uint32, propertyID uint32) (any, Status) {
	if !p.HasProperty(objectID, propertyID) {
		return nil, StatusBadProperty
	}
	switch propertyID {
	case PropertyNullDeviceActive:
		return p.nullDeviceActive, StatusOK
	case PropertyEnabledOutputControls:
		return p.enabledOutputControls, StatusOK
	default:
		return nil, StatusBadProperty
	}
}

func (p *Plugin) SetPropertyData(objectID uint32, propertyID uint32, value any) Status {
	if !p.IsPropertySettable(objectID, propertyID) {
		return StatusBadProperty
	}
	switch propertyID {
	case PropertyEnabledOutputControls:
		enabled, ok := value.([2]bool)
		if !ok {
			return StatusBadPropertySize
		}
		err := p.device.RequestEnabledControlsChange(enabled[enabledControlVolumeIndex], enabled[enabledControlMuteIndex])
		if err != nil {
			return StatusFromError(err)
		}
		p.enabledOutputControls = enabled
		return StatusOK
	case PropertyNullDeviceActive:
		active, ok := value.(bool)
		if !ok {
			return StatusBadPropertySize
		}
		p.nullDeviceActive = active
		return StatusOK
	default:
		return StatusBadProperty
	}
}

func (p *Plugin) PerformDeviceConfigurationChange(changeAction uint64) Status {
	return StatusFromError(p.device.PerformConfigChange(loopback.ChangeAction(changeAction)))
}

func (p *Plugin) AbortDeviceConfigurationChange(changeAction uint64) Status {
	return StatusFromError(p.device.AbortConfigChange(loopback.ChangeAction(changeAction)))
}
