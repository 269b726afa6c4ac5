package loopback

// Object IDs identify the fixed set of objects a host-plugin shim exposes,
// per the driver's external object graph.
const (
	ObjectIDPlugin        uint32 = 1
	ObjectIDDevice        uint32 = 2
	ObjectIDInputStream   uint32 = 3
	ObjectIDOutputStream  uint32 = 4
	ObjectIDVolumeControl uint32 = 5
	ObjectIDMuteControl   uint32 = 6
	ObjectIDNullDevice    uint32 = 7
	ObjectIDNullStream    uint32 = 8
)

// Property selectors for the custom properties a host-plugin shim exposes
// and for property-changed notifications. These are
// this driver's own compact numbering, not a host's real property
// selector space; a host-plugin shim would translate them.
const (
	propertyIsRunning uint32 = iota + 1
	PropertyNullDeviceActive
	PropertyEnabledOutputControls
)
