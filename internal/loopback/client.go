package loopback

// Client describes one application connected to the device, as tracked by
// ClientMap. It is a plain value type: callers get a copy, never a pointer
// into map internals, so a caller can't accidentally mutate state that the
// mutation protocol expects to own.
type Client struct {
	ClientID       uint32
	ProcessID      int32
	BundleID       string
	IsNativeEndian bool
	DoingIO        bool
}
