package env

// Recognized environment keys, spec §6. Each is imported via ImportInt/
// ImportString so a shell override always wins over a later in-process
// Put (e.g. from a config file parser, which is out of this module's
// scope but would otherwise be free to clobber an operator's override).
const (
	ConnectionWindow     = "XRD_CONNECTIONWINDOW"    // seconds
	ConnectionRetry      = "XRD_CONNECTIONRETRY"     // count
	StreamErrorWindow    = "XRD_STREAMERRORWINDOW"   // seconds
	SubStreamsPerChannel = "XRD_SUBSTREAMSPERCHANNEL" // count
	NetworkStack         = "XRD_NETWORKSTACK"        // IPAuto|IPAll|IPv4|IPv6
	TimeoutResolution    = "XRD_TIMEOUTRESOLUTION"   // seconds
	CPRetry              = "XRD_CPRETRY"             // count
	CPRetryPolicy         = "XRD_CPRETRYPOLICY"       // continue|force
	ZipMtlnCksum          = "XRD_ZIPMTLNCKSUM"        // 0|1
	LogLevel              = "XRD_LOGLEVEL"
	LogFile               = "XRD_LOGFILE"
	LogMask               = "XRD_LOGMASK"
)

const (
	NetworkStackAuto = "IPAuto"
	NetworkStackAll  = "IPAll"
	NetworkStackV4   = "IPv4"
	NetworkStackV6   = "IPv6"
)

// ImportAll pulls every recognized key from the shell into e and returns
// the resolved set as typed values the rest of the runtime consumes
// directly (callers that don't care about individual keys should just
// call this once at process start).
func (e *Env) ImportAll() Resolved {
	e.ImportInt(ConnectionWindow)
	e.ImportInt(ConnectionRetry)
	e.ImportInt(StreamErrorWindow)
	e.ImportInt(SubStreamsPerChannel)
	e.ImportString(NetworkStack)
	e.ImportInt(TimeoutResolution)
	e.ImportInt(CPRetry)
	e.ImportString(CPRetryPolicy)
	e.ImportInt(ZipMtlnCksum)
	e.ImportString(LogLevel)
	e.ImportString(LogFile)
	e.ImportString(LogMask)
	return e.Resolve()
}

// Resolved is a plain-value snapshot of the recognized keys with their
// defaults applied.
type Resolved struct {
	ConnectionWindowSec int
	ConnectionRetry     int
	StreamErrorWindowSec int
	SubStreamsPerChannel int
	NetworkStack        string
	TimeoutResolutionSec int
	CPRetry             int
	CPRetryPolicy       string
	ZipMtlnCksum        bool
}

func (e *Env) Resolve() Resolved {
	return Resolved{
		ConnectionWindowSec:  e.IntDefault(ConnectionWindow, 30),
		ConnectionRetry:      e.IntDefault(ConnectionRetry, 3),
		StreamErrorWindowSec: e.IntDefault(StreamErrorWindow, 90),
		SubStreamsPerChannel: e.IntDefault(SubStreamsPerChannel, 1),
		NetworkStack:         e.StringDefault(NetworkStack, NetworkStackAuto),
		TimeoutResolutionSec: e.IntDefault(TimeoutResolution, 1),
		CPRetry:              e.IntDefault(CPRetry, 10),
		CPRetryPolicy:        e.StringDefault(CPRetryPolicy, "continue"),
		ZipMtlnCksum:         e.IntDefault(ZipMtlnCksum, 0) != 0,
	}
}
