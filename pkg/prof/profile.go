package prof

// Profile represents a pprof profile type.
type Profile string

// Profile type constants.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// String returns the string representation of the profile type.
func (p Profile) String() string {
	return string(p)
}

// Options names the profiles a session records. Empty paths are skipped.
type Options struct {
	CPU   string // streamed while the session runs
	Heap  string // written at Stop
	Block string // written at Stop
	Mutex string // written at Stop

	// HTTPAddr serves /debug/pprof/ while the session runs.
	HTTPAddr string
}

// Empty reports whether opts asks for nothing.
func (o Options) Empty() bool {
	return o == Options{}
}
