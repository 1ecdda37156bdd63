// Package prof records runtime profiles of a usbcrypt run.
//
// Profiling support is compiled in with the "profile" build tag:
//
//	go build -tags profile ./cmd/usbcrypt
//	usbcrypt --cpuprofile cpu.prof --heapprofile heap.prof encrypt < in > out
//
// Without the tag [Start] accepts only empty [Options] and every other call
// is a no-op, so callers can leave profiling hooks in place.
//
// # Profiles
//
// A [Session] streams a CPU profile while it is active and writes snapshot
// profiles ([ProfileHeap], [ProfileBlock], [ProfileMutex], ...) when it is
// stopped. Block and mutex sampling is enabled only while a session that
// asked for those profiles is running.
//
// # HTTP
//
// With Options.HTTPAddr set the session also serves the standard
// /debug/pprof/ handlers until it is stopped:
//
//	usbcrypt --pprof-addr localhost:6060 rng > /dev/null
//	go tool pprof http://localhost:6060/debug/pprof/profile
package prof
