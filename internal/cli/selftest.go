package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/driver"
	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
	"github.com/ardnew/usbcrypt/transport/sim"
)

var selftestFull bool

// checkResult is one line of the selftest report.
type checkResult struct {
	Check    string `json:"check" yaml:"check"`
	Result   string `json:"result" yaml:"result"`
	Duration string `json:"duration" yaml:"duration"`
	Detail   string `json:"detail,omitempty" yaml:"detail"`
}

const (
	resultPass = "pass"
	resultFail = "fail"
	resultSkip = "skip"
)

// errSkip marks a check that cannot run against the selected token.
var errSkip = errors.New("skipped")

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise every token operation and report the results",
	Long: `Run encryption round trips, signature checks, random number reads,
a key exchange and a reset against the selected token. Checks that need
to inject faults or inspect transfers only run with --simulate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := protocol.ParseVersion(cfg.Protocol)
		if err != nil {
			return err
		}
		t, err := openTransport(version)
		if err != nil {
			return err
		}
		counters := driver.NewCounters()
		obs := driver.Observers{counters, driver.LogObserver{}}
		sess := driver.New(t, driverConfig(version, obs))
		defer closeSession(sess)

		st := &selftest{sess: sess, version: version, counters: counters}
		st.token, _ = t.(*sim.Token)
		results := st.run(cmd.Context(), selftestFull)
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(results))

		failed := 0
		for _, r := range results {
			if r.Result == resultFail {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	selftestCmd.Flags().BoolVar(&selftestFull, "full", false, "include the 8 MiB round trip")
	rootCmd.AddCommand(selftestCmd)
}

// =============================================================================
// Checks
// =============================================================================

type selftest struct {
	sess    *driver.Session
	version protocol.Version
	token   *sim.Token // nil on hardware
	results []checkResult

	counters  *driver.Counters
	encrypted int64 // plaintext bytes passed to Encrypt
}

func (st *selftest) run(ctx context.Context, full bool) []checkResult {
	sizes := []int{0, 1, 16, 24, 512, 64, 32768, 32768 + 24, 32769, 1 << 20}
	if full {
		sizes = append(sizes, 1<<23)
	}
	for _, n := range sizes {
		st.check(ctx, fmt.Sprintf("roundtrip/%d", n), func(ctx context.Context) error {
			return st.roundTrip(ctx, n)
		})
	}
	st.check(ctx, "sign-verify", st.signVerify)
	for _, n := range []int{0, 63, 64, 32768, 32769} {
		st.check(ctx, fmt.Sprintf("upload/%d", n), func(ctx context.Context) error {
			return st.uploadTermination(ctx, n)
		})
	}
	for _, n := range []int{0, 1, 32768, 32768*3 + 1} {
		st.check(ctx, fmt.Sprintf("rng/%d", n), func(ctx context.Context) error {
			return st.rng(ctx, n)
		})
	}
	st.check(ctx, "reset-drain", st.resetDrain)
	st.check(ctx, "transient-retry", st.transientRetry)
	st.check(ctx, "fatal-abort", st.fatalAbort)
	st.check(ctx, "ecdh", st.ecdh)
	st.check(ctx, "stop", st.sess.Stop)
	st.check(ctx, "counters", st.checkCounters)
	return st.results
}

func (st *selftest) check(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	r := checkResult{
		Check:    name,
		Result:   resultPass,
		Duration: time.Since(start).Round(time.Microsecond).String(),
	}
	switch {
	case errors.Is(err, errSkip):
		r.Result, r.Detail = resultSkip, err.Error()
	case err != nil:
		r.Result, r.Detail = resultFail, err.Error()
		pkg.LogWarn(pkg.ComponentCLI, "selftest check failed", "check", name, "error", err)
	}
	st.results = append(st.results, r)
}

func (st *selftest) simOnly() error {
	if st.token == nil {
		return fmt.Errorf("%w: needs --simulate", errSkip)
	}
	return nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func (st *selftest) roundTrip(ctx context.Context, n int) error {
	plain := randomBytes(n)
	st.encrypted += int64(n)
	ct, err := st.sess.Encrypt(ctx, plain)
	if err != nil {
		return err
	}
	if want := protocol.EncryptedSize(n); len(ct) != want {
		return fmt.Errorf("ciphertext is %d bytes, want %d", len(ct), want)
	}
	got, err := st.sess.Decrypt(ctx, ct)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, plain) {
		return errors.New("decrypted text differs from the input")
	}
	return nil
}

func (st *selftest) signVerify(ctx context.Context) error {
	msg := randomBytes(1000)
	sig, err := st.sess.Sign(ctx, msg)
	if err != nil {
		return err
	}
	ok, err := st.sess.Verify(ctx, sig, msg)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("fresh signature rejected")
	}
	for _, bit := range []int{0, len(sig) * 4, len(sig)*8 - 1} {
		bad := bytes.Clone(sig)
		bad[bit/8] ^= 1 << (bit % 8)
		ok, err := st.sess.Verify(ctx, bad, msg)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("signature with bit %d flipped accepted", bit)
		}
	}
	return nil
}

// uploadTermination checks that a payload ending on a packet boundary is
// followed by exactly one zero-length write and any other payload by none.
func (st *selftest) uploadTermination(ctx context.Context, n int) error {
	if err := st.simOnly(); err != nil {
		return err
	}
	st.token.ResetWrites()
	if _, err := st.sess.Sign(ctx, randomBytes(n)); err != nil {
		return err
	}
	total, zlps, lastEmpty := 0, 0, false
	for _, w := range st.token.Writes() {
		if w.Role != transport.DataIn {
			continue
		}
		total += w.Len
		lastEmpty = w.Len == 0
		if lastEmpty {
			zlps++
		}
	}
	want := 0
	if n%protocol.PacketSize == 0 {
		want = 1
	}
	switch {
	case total != n:
		return fmt.Errorf("wrote %d payload bytes, want %d", total, n)
	case zlps != want:
		return fmt.Errorf("wrote %d zero-length packets, want %d", zlps, want)
	case want == 1 && !lastEmpty:
		return errors.New("zero-length packet is not the last write")
	}
	return nil
}

func (st *selftest) rng(ctx context.Context, n int) error {
	b, err := st.sess.RNG(ctx, n)
	if err != nil {
		return err
	}
	if len(b) != n {
		return fmt.Errorf("got %d bytes, want %d", len(b), n)
	}
	return nil
}

func (st *selftest) resetDrain(ctx context.Context) error {
	if err := st.simOnly(); err != nil {
		return err
	}
	st.token.InjectStale(transport.DataOut, randomBytes(3000))
	st.token.InjectStale(transport.ControlOut, []byte(protocol.ErrorPrefix+"stale"))
	if err := st.sess.Stop(ctx); err != nil {
		return err
	}
	for _, role := range []transport.Role{transport.DataOut, transport.ControlOut} {
		if n := st.token.Pending(role); n != 0 {
			return fmt.Errorf("%d stale bytes left on %s", n, role)
		}
	}
	return nil
}

func (st *selftest) transientRetry(ctx context.Context) error {
	if err := st.simOnly(); err != nil {
		return err
	}
	st.token.InjectFault(transport.DataIn, pkg.ErrNAK, 3)
	_, err := st.sess.Sign(ctx, randomBytes(100))
	return err
}

func (st *selftest) fatalAbort(ctx context.Context) error {
	if err := st.simOnly(); err != nil {
		return err
	}
	st.token.InjectFault(transport.DataIn, pkg.ErrIO, 1)
	_, err := st.sess.Sign(ctx, randomBytes(100))
	switch {
	case err == nil:
		return errors.New("injected I/O error was not reported")
	case !errors.Is(err, pkg.ErrIO):
		return fmt.Errorf("reported %v, want an I/O error", err)
	case errors.Is(err, pkg.ErrOperationTimeout):
		return errors.New("fatal error was retried")
	}
	// the session recovers for the next operation
	_, err = st.sess.Sign(ctx, randomBytes(100))
	return err
}

func (st *selftest) ecdh(ctx context.Context) error {
	if !st.version.Supports(protocol.OpECDHStart) {
		return fmt.Errorf("%w: protocol %s has no key exchange", errSkip, st.version)
	}
	start, err := st.sess.ECDHStart(ctx, "selftest")
	if err != nil {
		return err
	}
	resp, err := st.sess.ECDHRespond(ctx, start.PublicKey[:], "selftest")
	if err != nil {
		return err
	}
	id, err := st.sess.ECDHEnd(ctx, resp.PublicKey[:], start.KeyID[:])
	if err != nil {
		return err
	}
	if !bytes.Equal(id, resp.KeyID[:]) {
		return fmt.Errorf("key ids differ: %x and %x", id, resp.KeyID)
	}
	return nil
}

// checkCounters compares the session's operation counters with the work
// the other checks did.
func (st *selftest) checkCounters(context.Context) error {
	for _, op := range []protocol.Op{
		protocol.OpEncrypt, protocol.OpDecrypt, protocol.OpSign,
		protocol.OpVerify, protocol.OpRNGStart, protocol.OpStop,
	} {
		if st.counters.Get(op).Calls == 0 {
			return fmt.Errorf("no %s operations counted", op)
		}
	}
	enc := st.counters.Get(protocol.OpEncrypt)
	if enc.Failures != 0 || enc.BytesOut != st.encrypted {
		return fmt.Errorf("encrypt counted %d bytes and %d failures, want %d bytes",
			enc.BytesOut, enc.Failures, st.encrypted)
	}

	var detail []string
	for _, op := range protocol.Ops() {
		oc := st.counters.Get(op)
		if oc.Calls == 0 {
			continue
		}
		detail = append(detail, fmt.Sprintf("%s %d/%d", op, oc.Calls, oc.Failures))
	}
	pkg.LogInfo(pkg.ComponentCLI, "selftest operations", "calls/failures", strings.Join(detail, ", "))
	return nil
}
