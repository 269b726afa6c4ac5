package loopback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the device's coarse activation/streaming state.
type State int

const (
	StateInactive State = iota
	StateActiveIdle
	StateActiveRunning
)

func (s State) String() string {
	switch s {
	case StateActiveIdle:
		return "active-idle"
	case StateActiveRunning:
		return "active-running"
	default:
		return "inactive"
	}
}

// ChangeAction identifies which pending configuration change a
// PerformConfigChange/AbortConfigChange call is about.
type ChangeAction int

const (
	ChangeActionSetSampleRate ChangeAction = iota
	ChangeActionSetEnabledControls
)

// ConfigChangeRequester is the host collaborator Device asks to run the
// three-step RequestConfigChange/PerformConfigChange/AbortConfigChange
// dance. The real host-plugin shim (out of scope here, per the driver's
// external interface) implements this against whatever the host's actual
// config-change API looks like; tests can supply a fake.
type ConfigChangeRequester interface {
	RequestConfigChange(action ChangeAction) error
}

const hostTicksPerSecond = float64(time.Second)

// Device is the state machine that owns a RingBuffer, a ClientMap-backed
// Clients registry, and the two Controls, and sequences activation,
// client start/stop, and sample-rate/enabled-controls changes against the
// host's config-change protocol.
//
// Grounded on RDC_Device: the state machine (Inactive -> Active-Idle ->
// Active-Running), the loopback clock (anchored host time plus a
// timestamp counter advanced once per ring's worth of frames), and the
// three-step config-change dance are all carried over unchanged; the
// WrappedAudioEngine hardware-passthrough path is omitted, and there are no
// separate _HW_StartIO/_HW_StopIO/_HW_SetSampleRate hooks: their loopback
// clock and sample-rate bookkeeping is done directly in Activate,
// onRunningChanged and applySampleRateChange.
type Device struct {
	logger *slog.Logger
	id     uuid.UUID

	// stateLock guards state, the sample-rate/enabled-controls fields
	// (pending and applied), and the loopback clock fields below it.
	// ioLock guards the ring buffer pointer and its contents. Where both
	// are held (Activate, Deactivate, applySampleRateChange), stateLock is
	// taken first; the IO paths take ioLock alone.
	stateLock sync.Mutex
	ioLock    sync.Mutex

	state State

	sampleRate        float64
	pendingSampleRate float64

	volumeEnabled        bool
	muteEnabled          bool
	pendingVolumeEnabled bool
	pendingMuteEnabled   bool

	ringCapacityFrames uint64
	ringBuffer         *RingBuffer

	loopbackAnchorHostTime int64
	loopbackTimestampCount int64
	hostTicksPerFrame      float64

	clientMap *ClientMap
	clients   *Clients
	taskQueue *TaskQueue

	volumeControl *VolumeControl
	muteControl   *MuteControl

	host ConfigChangeRequester

	now func() time.Time
}

// HostNotifier is an optional capability a ConfigChangeRequester may also
// implement, letting the host learn about property changes (e.g.
// IsRunning) that originate from the non-realtime worker rather than from
// a call the host itself made.
type HostNotifier interface {
	NotifyPropertyChanged(propertyID uint32, objectID uint32)
}

// notifierAdapter bridges TaskQueue's PropertyNotifier dependency to the
// device's host, falling back to a log line when the host doesn't
// implement HostNotifier (or there is no host at all, as in tests and the
// diagnostics CLI).
type notifierAdapter struct {
	host   ConfigChangeRequester
	logger *slog.Logger
}

func (n notifierAdapter) NotifyPropertyChanged(propertyID uint32, objectID uint32) {
	if hn, ok := n.host.(HostNotifier); ok {
		hn.NotifyPropertyChanged(propertyID, objectID)
		return
	}
	n.logger.Debug("property changed", "property_id", propertyID, "object_id", objectID)
}

// NewDevice constructs an inactive Device. host may be nil, in which case
// RequestSampleRateChange/RequestEnabledControlsChange apply their pending
// values immediately instead of waiting on a host round-trip - useful for
// tests and for the diagnostics CLI, which has no real host.
func NewDevice(cfg *Config, host ConfigChangeRequester, logger *slog.Logger) *Device {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Device{
		logger:               logger,
		state:                StateInactive,
		sampleRate:           cfg.SampleRate,
		pendingSampleRate:    cfg.SampleRate,
		volumeEnabled:        cfg.DefaultVolumeEnabled,
		muteEnabled:          cfg.DefaultMuteEnabled,
		pendingVolumeEnabled: cfg.DefaultVolumeEnabled,
		pendingMuteEnabled:   cfg.DefaultMuteEnabled,
		ringCapacityFrames:   cfg.RingCapacityFrames,
		host:                 host,
		volumeControl:        NewVolumeControl(),
		muteControl:          NewMuteControl(),
		now:                  time.Now,
	}
	d.taskQueue = NewTaskQueue(cfg.RTNominalComputation, cfg.RTMaxComputation, cfg.NonRTFreeListSize, notifierAdapter{host: host, logger: logger}, logger)
	d.clientMap = NewClientMap(d.taskQueue, logger)
	d.clients = NewClients(d.clientMap, d.onRunningChanged, logger)
	d.volumeControl.SetWillApplyToAudio(cfg.DefaultVolumeEnabled)
	return d
}

// Close stops the device's task queue workers. Callers must not use the
// Device after calling Close.
func (d *Device) Close() { d.taskQueue.Stop() }

// State returns the device's current activation state.
func (d *Device) State() State {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	return d.state
}

// AddClient registers a new client with the device.
func (d *Device) AddClient(c Client) error { return d.clients.Add(c) }

// RemoveClient deregisters a client.
func (d *Device) RemoveClient(clientID uint32) (Client, error) { return d.clients.Remove(clientID) }

// Activate transitions Inactive -> Active-Idle, allocating the ring
// buffer and resetting the loopback clock. It is idempotent: activating an
// already-active device is a no-op, matching how a host may call
// Initialize/CreateDevice more than once across a process's lifetime.
func (d *Device) Activate() error {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	if d.state != StateInactive {
		return nil
	}
	d.ioLock.Lock()
	d.ringBuffer = NewRingBuffer(BytesPerFrame, d.ringCapacityFrames)
	d.ioLock.Unlock()

	d.id = uuid.New()
	d.resetLoopbackClockLocked()
	d.state = StateActiveIdle
	d.logger.Info("device activated", "device_id", d.id, "sample_rate", d.sampleRate)
	return nil
}

// Deactivate transitions back to Inactive, releasing the ring buffer.
func (d *Device) Deactivate() error {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	if d.state == StateInactive {
		return nil
	}
	d.ioLock.Lock()
	d.ringBuffer = nil
	d.ioLock.Unlock()
	d.state = StateInactive
	d.logger.Info("device deactivated", "device_id", d.id)
	return nil
}

func (d *Device) resetLoopbackClockLocked() {
	d.loopbackAnchorHostTime = d.now().UnixNano()
	d.loopbackTimestampCount = 0
	d.hostTicksPerFrame = hostTicksPerSecond / d.sampleRate
}

// onRunningChanged is Clients' callback for the 0->1/1->0 IO transitions.
// It resets the loopback clock on the transition to running, mirroring
// RDC_Device re-anchoring its clock the moment IO actually starts, and
// queues a property-changed notification for the host either way.
func (d *Device) onRunningChanged(running bool) {
	d.stateLock.Lock()
	if running {
		d.resetLoopbackClockLocked()
		d.state = StateActiveRunning
	} else if d.state == StateActiveRunning {
		d.state = StateActiveIdle
	}
	d.stateLock.Unlock()
	d.taskQueue.QueueAsync(TaskSendPropertyNotification, propertyIsRunning, ObjectIDDevice)
}

// StartIO synchronously marks clientID as doing IO through the task
// queue's non-realtime worker, and updates device state before returning,
// so a host that calls StartIO and then immediately checks IsRunning sees
// a consistent answer.
func (d *Device) StartIO(clientID uint32) error {
	_, err := d.taskQueue.QueueSync(TaskStartClientIO, false, d.clients, clientID)
	return err
}

// StopIO is StartIO's mirror image.
func (d *Device) StopIO(clientID uint32) error {
	_, err := d.taskQueue.QueueSync(TaskStopClientIO, false, d.clients, clientID)
	return err
}

// ThreadBeginIO and ThreadEndIO back the HAL's per-thread IO lifecycle
// hooks, which can start or stop a client's IO without going through
// StartIO/StopIO. They queue asynchronously, so client-state bookkeeping
// stays eventually consistent without ever blocking the IO thread.
func (d *Device) ThreadBeginIO(clientID uint32) {
	d.taskQueue.QueueAsync(TaskStartClientIO, d.clients, clientID)
}

func (d *Device) ThreadEndIO(clientID uint32) {
	d.taskQueue.QueueAsync(TaskStopClientIO, d.clients, clientID)
}

// GetZeroTimeStamp returns the (sampleTime, hostTime) pair for the start
// of the current ring's worth of frames, advancing the loopback clock's
// timestamp count when the host clock has caught up to it. seed is always
// 1, matching the original driver's GetZeroTimeStamp.
func (d *Device) GetZeroTimeStamp() (sampleTime float64, hostTime uint64, seed uint64) {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	hostTicksPerRing := d.hostTicksPerFrame * float64(d.ringCapacityFrames)
	now := float64(d.now().UnixNano())
	nextHostTime := float64(d.loopbackAnchorHostTime) + float64(d.loopbackTimestampCount+1)*hostTicksPerRing
	if nextHostTime <= now {
		d.loopbackTimestampCount++
	}
	sampleTime = float64(d.loopbackTimestampCount) * float64(d.ringCapacityFrames)
	hostTime = uint64(float64(d.loopbackAnchorHostTime) + float64(d.loopbackTimestampCount)*hostTicksPerRing)
	seed = 1
	return
}

// ReadInput drains frameCount frames starting at sampleTime from the ring
// into buf. A CPU-overload retry exhaustion is not fatal here: the output
// is zeroed and the call still succeeds, since a stalled writer shouldn't
// be able to fail every reader's IO cycle.
func (d *Device) ReadInput(buf []byte, frameCount uint64, sampleTime int64) error {
	d.ioLock.Lock()
	defer d.ioLock.Unlock()
	if d.ringBuffer == nil {
		return newError(KindIllegalOperation, "Device.ReadInput", errors.New("device is not active"))
	}
	err := d.ringBuffer.Fetch(buf, frameCount, sampleTime)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRingCPUOverload) {
		zeroBytes(buf, 0, frameCount, BytesPerFrame)
		return nil
	}
	return newError(KindIllegalOperation, "Device.ReadInput", err)
}

// WriteMix stores frameCount frames from buf into the ring at sampleTime.
func (d *Device) WriteMix(buf []byte, frameCount uint64, sampleTime int64) error {
	d.ioLock.Lock()
	defer d.ioLock.Unlock()
	if d.ringBuffer == nil {
		return newError(KindIllegalOperation, "Device.WriteMix", errors.New("device is not active"))
	}
	err := d.ringBuffer.Store(buf, frameCount, sampleTime)
	if err == nil || errors.Is(err, ErrRingCPUOverload) {
		return nil
	}
	return newError(KindIllegalOperation, "Device.WriteMix", err)
}

// ProcessMix applies the device-level volume control to a block of mixed
// input frames before they're handed to output processing.
func (d *Device) ProcessMix(frames []Frame) {
	d.volumeControl.Apply(frames)
}

// ProcessOutput applies the device-level mute control to a block of output
// frames just before they leave the device.
func (d *Device) ProcessOutput(frames []Frame) {
	d.muteControl.Apply(frames)
}

// RequestSampleRateChange stages newRate as the pending sample rate and
// asks the host to run PerformConfigChange. With no host configured, the
// change applies immediately.
func (d *Device) RequestSampleRateChange(newRate float64) error {
	if newRate < 1 || newRate > 1e9 {
		return newError(KindUnsupportedFormat, "Device.RequestSampleRateChange", nil)
	}
	d.stateLock.Lock()
	d.pendingSampleRate = newRate
	d.stateLock.Unlock()
	if d.host == nil {
		return d.PerformConfigChange(ChangeActionSetSampleRate)
	}
	return d.host.RequestConfigChange(ChangeActionSetSampleRate)
}

// RequestEnabledControlsChange stages new enabled-controls flags.
func (d *Device) RequestEnabledControlsChange(volumeEnabled, muteEnabled bool) error {
	d.stateLock.Lock()
	d.pendingVolumeEnabled = volumeEnabled
	d.pendingMuteEnabled = muteEnabled
	d.stateLock.Unlock()
	if d.host == nil {
		return d.PerformConfigChange(ChangeActionSetEnabledControls)
	}
	return d.host.RequestConfigChange(ChangeActionSetEnabledControls)
}

// PerformConfigChange applies whichever change is pending for action. The
// host calls this once it has quiesced IO enough to make the change safe.
func (d *Device) PerformConfigChange(action ChangeAction) error {
	switch action {
	case ChangeActionSetSampleRate:
		return d.applySampleRateChange()
	case ChangeActionSetEnabledControls:
		return d.applyEnabledControlsChange()
	default:
		return newError(KindIllegalOperation, "Device.PerformConfigChange", errors.New("unknown change action"))
	}
}

// AbortConfigChange is a no-op: nothing was applied by
// RequestSampleRateChange/RequestEnabledControlsChange until
// PerformConfigChange ran, so there is nothing to roll back.
func (d *Device) AbortConfigChange(action ChangeAction) error { return nil }

func (d *Device) applySampleRateChange() error {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	rate := d.pendingSampleRate
	if rate == d.sampleRate {
		return nil
	}
	d.sampleRate = rate
	d.hostTicksPerFrame = hostTicksPerSecond / rate
	if d.state != StateInactive {
		d.ioLock.Lock()
		// Capacity in frames is unchanged by a sample-rate change; only
		// the bytes-per-second interpretation of that capacity moves.
		d.ringBuffer = NewRingBuffer(BytesPerFrame, d.ringCapacityFrames)
		d.ioLock.Unlock()
		d.resetLoopbackClockLocked()
	}
	return nil
}

func (d *Device) applyEnabledControlsChange() error {
	d.stateLock.Lock()
	d.volumeEnabled = d.pendingVolumeEnabled
	d.muteEnabled = d.pendingMuteEnabled
	d.stateLock.Unlock()
	d.volumeControl.SetWillApplyToAudio(d.volumeEnabled)
	return nil
}

// VolumeControl exposes the device's volume control.
func (d *Device) VolumeControl() *VolumeControl { return d.volumeControl }

// MuteControl exposes the device's mute control.
func (d *Device) MuteControl() *MuteControl { return d.muteControl }

// SampleRate returns the device's current sample rate.
func (d *Device) SampleRate() float64 {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	return d.sampleRate
}

// RingCapacityFrames returns the configured ring buffer capacity.
func (d *Device) RingCapacityFrames() uint64 { return d.ringCapacityFrames }
