package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fastlane/internal/ledger"
	"fastlane/internal/models"
	"fastlane/internal/relay"
	"fastlane/internal/store"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type recordCall struct {
	credential string
	liters     float64
	amount     int64
}

type fakeLedger struct {
	mu        sync.Mutex
	account   *ledger.Account
	lookupErr error

	topupBalance int64
	topupErr     error

	records  []recordCall
	recorded chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{recorded: make(chan struct{}, 8)}
}

func (f *fakeLedger) Lookup(ctx context.Context, credential string) (*ledger.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.account == nil {
		return nil, ledger.ErrNotFound
	}
	acct := *f.account
	return &acct, nil
}

func (f *fakeLedger) TopUp(ctx context.Context, credential string, amountPaise int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topupErr != nil {
		return 0, f.topupErr
	}
	return f.topupBalance, nil
}

func (f *fakeLedger) RecordDispense(ctx context.Context, credential string, volumeLiters float64, amountPaise int64) error {
	f.mu.Lock()
	f.records = append(f.records, recordCall{credential: credential, liters: volumeLiters, amount: amountPaise})
	f.mu.Unlock()
	f.recorded <- struct{}{}
	return nil
}

func (f *fakeLedger) lastRecord(t *testing.T) recordCall {
	t.Helper()
	select {
	case <-f.recorded:
	case <-time.After(2 * time.Second):
		t.Fatalf("no dispense record delivered")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[len(f.records)-1]
}

type fakeReader struct {
	uids []string
}

func (f *fakeReader) Poll(ctx context.Context) (string, bool, error) {
	if len(f.uids) == 0 {
		return "", false, nil
	}
	uid := f.uids[0]
	f.uids = f.uids[1:]
	return uid, true, nil
}

type fixtures struct {
	clock  *fakeClock
	pin    *relay.MemoryPin
	relay  *relay.Relay
	store  *store.MemoryStore
	ledger *fakeLedger
	reader *fakeReader
}

func newTestController(t *testing.T) (*Controller, *fixtures) {
	t.Helper()
	f := &fixtures{
		clock:  newFakeClock(),
		pin:    &relay.MemoryPin{},
		store:  store.NewMemoryStore(),
		ledger: newFakeLedger(),
		reader: &fakeReader{},
	}
	f.relay = relay.New(f.pin, false)

	c := New(Config{}, Deps{
		Relay:  f.relay,
		Store:  f.store,
		Ledger: f.ledger,
		Reader: f.reader,
		Now:    f.clock.Now,
	})
	return c, f
}

func assertInvariant(t *testing.T, c *Controller, f *fixtures) {
	t.Helper()
	if f.relay.Engaged() != c.Status().Dispensing {
		t.Fatalf("relay engaged = %v, dispensing = %v", f.relay.Engaged(), c.Status().Dispensing)
	}
}

func TestAdminCardResolution(t *testing.T) {
	c, f := newTestController(t)
	f.reader.uids = []string{"abcd1234"}

	c.Tick(context.Background())

	st := c.Status()
	if st.Mode != models.ModeAdmin {
		t.Fatalf("mode = %s, want ADMIN", st.Mode)
	}
	if st.Credential != "ABCD1234" {
		t.Fatalf("credential = %q, want normalized ABCD1234", st.Credential)
	}
	if st.Name != "Administrator" || st.Balance != 0 {
		t.Fatalf("unexpected admin session: %+v", st)
	}
}

func TestAdminCannotDispense(t *testing.T) {
	c, f := newTestController(t)
	f.reader.uids = []string{"ABCD1234"}
	c.Tick(context.Background())

	err := c.Begin(context.Background(), 5000)
	if !errors.Is(err, ErrAdminDispense) {
		t.Fatalf("Begin error = %v, want ErrAdminDispense", err)
	}
	assertInvariant(t, c, f)
}

func TestUserResolutionFromLedger(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	f.reader.uids = []string{"1a2b3c4d"}

	c.Tick(context.Background())

	st := c.Status()
	if st.Mode != models.ModeUser || st.Name != "Asha" || st.Balance != 500 {
		t.Fatalf("unexpected session: %+v", st)
	}
}

func TestUnknownFallsBackToLocalBalance(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.lookupErr = errors.New("backend unreachable")
	if err := f.store.Put(context.Background(), "DEADBEEF", 12300); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	st, err := c.SetCredential(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if st.Mode != models.ModeUnknown || st.Name != "Unknown" || st.Balance != 123 {
		t.Fatalf("unexpected session: %+v", st)
	}
}

func TestSetCredentialWithAccountShortCircuits(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.lookupErr = errors.New("must not be called")

	st, err := c.SetCredentialWithAccount("1a2b3c4d", "Ravi", 20000)
	if err != nil {
		t.Fatalf("SetCredentialWithAccount: %v", err)
	}
	if st.Mode != models.ModeUser || st.Name != "Ravi" || st.Balance != 200 {
		t.Fatalf("unexpected session: %+v", st)
	}
}

func TestSetCredentialRejectsEmpty(t *testing.T) {
	c, _ := newTestController(t)
	if _, err := c.SetCredential(context.Background(), "   "); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("error = %v, want ErrInvalidCredential", err)
	}
}

func TestCardTimeout(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	// At exactly the timeout the session survives; strictly past it, it idles.
	f.clock.Advance(3000 * time.Millisecond)
	c.Tick(context.Background())
	if st := c.Status(); st.Credential == "" {
		t.Fatalf("session reset at exactly 3000ms")
	}

	f.clock.Advance(time.Millisecond)
	c.Tick(context.Background())
	st := c.Status()
	if st.Credential != "" || st.Mode != models.ModeIdle || st.Balance != 0 {
		t.Fatalf("session not idled after timeout: %+v", st)
	}
}

func TestCardTimeoutSuspendedWhileDispensing(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Far past the card timeout but still inside the dispense window.
	f.clock.Advance(10 * time.Second)
	c.Tick(context.Background())

	st := c.Status()
	if st.Credential != "1A2B3C4D" {
		t.Fatalf("credential lost during dispense: %+v", st)
	}
	if !st.Dispensing {
		t.Fatalf("dispense ended early: %+v", st)
	}
}

func TestBeginRejections(t *testing.T) {
	c, f := newTestController(t)

	if err := c.Begin(context.Background(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount error = %v, want ErrInvalidAmount", err)
	}
	if err := c.Begin(context.Background(), 5000); !errors.Is(err, ErrNoCard) {
		t.Fatalf("no card error = %v, want ErrNoCard", err)
	}

	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	err := c.Begin(context.Background(), 60000)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	if !strings.Contains(err.Error(), "500.00") {
		t.Fatalf("rejection should carry the current balance, got %q", err.Error())
	}
	assertInvariant(t, c, f)

	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Begin(context.Background(), 5000); !errors.Is(err, ErrAlreadyDispensing) {
		t.Fatalf("error = %v, want ErrAlreadyDispensing", err)
	}
}

func TestBeginComputesPlannedWindow(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	// 150 rupees at 100/L and 15 s/L is a 22.5 s window.
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	assertInvariant(t, c, f)

	st := c.Status()
	if !st.Dispensing {
		t.Fatalf("not dispensing after Begin")
	}
	if st.SecondsRemaining != 22.5 {
		t.Fatalf("secondsRemaining = %v, want 22.5", st.SecondsRemaining)
	}
	// Balance untouched until settlement.
	if st.Balance != 500 {
		t.Fatalf("balance deducted early: %v", st.Balance)
	}
}

func TestCompletionDeductsFullAmount(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// One tick short of the window: still dispensing.
	f.clock.Advance(22499 * time.Millisecond)
	c.Tick(context.Background())
	if !c.Status().Dispensing {
		t.Fatalf("dispense completed early")
	}

	f.clock.Advance(time.Millisecond)
	c.Tick(context.Background())
	assertInvariant(t, c, f)

	st := c.Status()
	if st.Dispensing {
		t.Fatalf("job still active after window")
	}
	if st.Balance != 350 {
		t.Fatalf("balance = %v, want 350", st.Balance)
	}
	stored, err := f.store.Get(context.Background(), "1A2B3C4D")
	if err != nil || stored != 35000 {
		t.Fatalf("stored balance = %d (err %v), want 35000", stored, err)
	}

	rec := f.ledger.lastRecord(t)
	if rec.credential != "1A2B3C4D" || rec.amount != 15000 || rec.liters != 1.5 {
		t.Fatalf("unexpected dispense record: %+v", rec)
	}
}

func TestAbortProRatesCharge(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Halfway through the 22.5 s window.
	f.clock.Advance(11250 * time.Millisecond)
	charged, stopped := c.Abort(context.Background())
	if !stopped {
		t.Fatalf("Abort reported no active job")
	}
	if charged != 7500 {
		t.Fatalf("charged = %d paise, want 7500", charged)
	}
	assertInvariant(t, c, f)

	st := c.Status()
	if st.Dispensing {
		t.Fatalf("job survived abort")
	}
	if st.Balance != 425 {
		t.Fatalf("balance = %v, want 425", st.Balance)
	}
}

func TestAbortWithoutJobIsNoop(t *testing.T) {
	c, f := newTestController(t)
	charged, stopped := c.Abort(context.Background())
	if stopped || charged != 0 {
		t.Fatalf("Abort on idle pump = (%d, %v), want (0, false)", charged, stopped)
	}
	assertInvariant(t, c, f)
}

func TestAbortChargeCappedAtAuthorized(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Abort lands after the window but before the completing tick ran.
	f.clock.Advance(30 * time.Second)
	charged, stopped := c.Abort(context.Background())
	if !stopped {
		t.Fatalf("Abort reported no active job")
	}
	if charged != 15000 {
		t.Fatalf("charged = %d, want capped 15000", charged)
	}
}

func TestBalanceClampsAtZero(t *testing.T) {
	c, f := newTestController(t)
	// Trusted caller claims 100 but the local store has nothing.
	if _, err := c.SetCredentialWithAccount("1A2B3C4D", "Ravi", 10000); err != nil {
		t.Fatalf("SetCredentialWithAccount: %v", err)
	}
	if err := c.Begin(context.Background(), 10000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	f.clock.Advance(time.Hour)
	c.Tick(context.Background())

	st := c.Status()
	if st.Balance != 0 {
		t.Fatalf("balance = %v, want clamped 0", st.Balance)
	}
	stored, _ := f.store.Get(context.Background(), "1A2B3C4D")
	if stored != 0 {
		t.Fatalf("stored balance = %d, want 0", stored)
	}
}

func TestTopUpRemoteSuccess(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	f.ledger.topupBalance = 60000
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	newBalance, err := c.TopUp(context.Background(), 10000)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if newBalance != 60000 {
		t.Fatalf("newBalance = %d, want remote 60000", newBalance)
	}
	if st := c.Status(); st.Balance != 600 {
		t.Fatalf("session balance = %v, want 600", st.Balance)
	}
	stored, _ := f.store.Get(context.Background(), "1A2B3C4D")
	if stored != 60000 {
		t.Fatalf("stored mirror = %d, want 60000", stored)
	}
}

func TestTopUpLocalFallback(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.lookupErr = errors.New("backend unreachable")
	f.ledger.topupErr = errors.New("backend unreachable")
	if err := f.store.Put(context.Background(), "DEADBEEF", 10000); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if _, err := c.SetCredential(context.Background(), "DEADBEEF"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	newBalance, err := c.TopUp(context.Background(), 10000)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if newBalance != 20000 {
		t.Fatalf("newBalance = %d, want local 20000", newBalance)
	}
	if st := c.Status(); st.Balance != 200 {
		t.Fatalf("session balance = %v, want 200", st.Balance)
	}
}

func TestTopUpRejections(t *testing.T) {
	c, _ := newTestController(t)
	if _, err := c.TopUp(context.Background(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("error = %v, want ErrInvalidAmount", err)
	}
	if _, err := c.TopUp(context.Background(), 10000); !errors.Is(err, ErrNoCard) {
		t.Fatalf("error = %v, want ErrNoCard", err)
	}
}

func TestStatusSecondsRemainingClamped(t *testing.T) {
	c, f := newTestController(t)
	f.ledger.account = &ledger.Account{Name: "Asha", Balance: 50000}
	if _, err := c.SetCredential(context.Background(), "1A2B3C4D"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := c.Begin(context.Background(), 15000); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	if st := c.Status(); st.SecondsRemaining != 12.5 {
		t.Fatalf("secondsRemaining = %v, want 12.5", st.SecondsRemaining)
	}

	// Past the window but before the completing tick: never negative.
	f.clock.Advance(20 * time.Second)
	if st := c.Status(); st.SecondsRemaining != 0 {
		t.Fatalf("secondsRemaining = %v, want 0", st.SecondsRemaining)
	}
}

func TestRelayDisengagedAtStartup(t *testing.T) {
	_, f := newTestController(t)
	if f.relay.Engaged() {
		t.Fatalf("relay engaged at startup")
	}
	writes := f.pin.Writes()
	if len(writes) == 0 {
		t.Fatalf("startup must force the line inactive")
	}
	for _, w := range writes {
		if w {
			t.Fatalf("active level written before any dispense: %v", writes)
		}
	}
}
