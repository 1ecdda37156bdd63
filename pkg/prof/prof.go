//go:build profile

package prof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register HTTP handlers at /debug/pprof/
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = true

// Profiling errors.
var (
	// ErrActive indicates a session is already running.
	ErrActive = errors.New("profiling session already active")

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	// mu protects active.
	mu sync.Mutex

	// active indicates whether a session is running.
	active bool
)

// Session is a running profiling session.
type Session struct {
	opts Options
	cpu  *os.File
	ln   net.Listener
	srv  *http.Server
}

// Start begins the profiles named in opts. Only one session may run at a
// time; Start returns [ErrActive] otherwise.
func Start(opts Options) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Empty() {
		return &Session{}, nil
	}
	if active {
		return nil, ErrActive
	}

	s := &Session{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpu = f
	}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if opts.HTTPAddr != "" {
		ln, err := net.Listen("tcp", opts.HTTPAddr)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("pprof listener: %w", err)
		}
		s.ln = ln
		s.srv = &http.Server{Handler: http.DefaultServeMux, ReadHeaderTimeout: 5 * time.Second}
		go s.srv.Serve(ln)
		pkg.LogInfo(pkg.ComponentCLI, "serving pprof", "addr", ln.Addr().String())
	}

	active = true
	return s, nil
}

// Stop ends the CPU profile, writes the snapshot profiles and shuts down
// the HTTP server. It is safe to call on a nil or stopped session.
func (s *Session) Stop() error {
	if s == nil || s.opts.Empty() {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if !active {
		return nil
	}
	active = false

	var errs []error
	if err := s.stopCPU(); err != nil {
		errs = append(errs, err)
	}
	for _, snap := range []struct {
		profile Profile
		path    string
	}{
		{ProfileHeap, s.opts.Heap},
		{ProfileBlock, s.opts.Block},
		{ProfileMutex, s.opts.Mutex},
	} {
		if snap.path == "" {
			continue
		}
		if err := Write(snap.profile, snap.path); err != nil {
			errs = append(errs, fmt.Errorf("%s profile: %w", snap.profile, err))
		}
	}
	if s.opts.Block != "" {
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.Mutex != "" {
		runtime.SetMutexProfileFraction(0)
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// addr is the address the HTTP handlers listen on, or "".
func (s *Session) addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Session) stopCPU() error {
	if s.cpu == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpu.Close()
	s.cpu = nil
	return err
}

// Write writes a snapshot profile to the file at path in binary protobuf
// format. [ProfileCPU] is rejected with [ErrInvalidProfile]; it is only
// recorded by a [Session].
func Write(profile Profile, path string) error {
	p, err := lookup(profile)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func lookup(profile Profile) (*pprof.Profile, error) {
	if profile == ProfileCPU {
		return nil, fmt.Errorf("%w: %s is recorded by a session", ErrInvalidProfile, profile)
	}
	p := pprof.Lookup(string(profile))
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}
	return p, nil
}
