// Package controller holds the dispense state machine: card presence,
// balance authorization, relay-timed dispensing and settlement.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fastlane/internal/ledger"
	"fastlane/internal/models"
	"fastlane/internal/reader"
	"fastlane/internal/relay"
	"fastlane/internal/repository"
	"fastlane/internal/store"
)

// Firmware defaults.
const (
	DefaultAdminUID        = "ABCD1234"
	DefaultRatePerLitre    = 100.0 // rupees
	DefaultSecondsPerLitre = 15.0
	DefaultCardTimeout     = 3 * time.Second
	DefaultTickInterval    = 250 * time.Millisecond
)

const adminName = "Administrator"

// Command rejections. Each precondition failure maps to exactly one of these.
var (
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNoCard              = errors.New("no card scanned")
	ErrAdminDispense       = errors.New("admin cannot dispense")
	ErrAlreadyDispensing   = errors.New("already dispensing")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger is the remote authoritative balance service.
type Ledger interface {
	Lookup(ctx context.Context, credential string) (*ledger.Account, error)
	TopUp(ctx context.Context, credential string, amountPaise int64) (int64, error)
	RecordDispense(ctx context.Context, credential string, volumeLiters float64, amountPaise int64) error
}

// History receives settled dispenses. Optional.
type History interface {
	Record(ctx context.Context, rec repository.DispenseRecord) error
}

// Config carries the dispensing constants.
type Config struct {
	AdminUID        string
	RatePerLitre    float64 // rupees per liter
	SecondsPerLitre float64
	CardTimeout     time.Duration
	TickInterval    time.Duration
}

func (c *Config) withDefaults() {
	if c.AdminUID == "" {
		c.AdminUID = DefaultAdminUID
	}
	c.AdminUID = Normalize(c.AdminUID)
	if c.RatePerLitre <= 0 {
		c.RatePerLitre = DefaultRatePerLitre
	}
	if c.SecondsPerLitre <= 0 {
		c.SecondsPerLitre = DefaultSecondsPerLitre
	}
	if c.CardTimeout <= 0 {
		c.CardTimeout = DefaultCardTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
}

// Deps are the controller's collaborators.
type Deps struct {
	Relay   *relay.Relay
	Store   store.BalanceStore
	Ledger  Ledger
	Reader  reader.Reader
	History History
	Logger  *zap.Logger
	Now     func() time.Time
}

// Controller owns the session, the active dispense job and the relay.
// All state mutates behind one mutex, so the relay-engaged/job-exists
// invariant is never observed violated.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	relay   *relay.Relay
	store   store.BalanceStore
	ledger  Ledger
	reader  reader.Reader
	history History
	logger  *zap.Logger
	now     func() time.Time

	session models.Session
	job     *models.DispenseJob
}

// New builds the controller with an idle session.
func New(cfg Config, deps Deps) *Controller {
	cfg.withDefaults()
	if deps.Reader == nil {
		deps.Reader = reader.NopReader{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		relay:   deps.Relay,
		store:   deps.Store,
		ledger:  deps.Ledger,
		reader:  deps.Reader,
		history: deps.History,
		logger:  deps.Logger,
		now:     deps.Now,
		session: models.Session{Mode: models.ModeIdle},
	}
}

// Normalize maps a raw credential to its canonical form.
func Normalize(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

// Run drives the tick loop until the context is done. An active dispense is
// aborted on the way out so the relay never outlives the process engaged.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		if charged, stopped := c.Abort(context.Background()); stopped {
			c.logger.Warn("active dispense aborted on shutdown",
				zap.Float64("charged", models.Rupees(charged)))
		}
	}()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass: reader poll, card-presence timeout,
// dispense completion.
func (c *Controller) Tick(ctx context.Context) {
	c.pollReader(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireCardLocked()
	c.completeDispenseLocked(ctx)
}

func (c *Controller) pollReader(ctx context.Context) {
	uid, ok, err := c.reader.Poll(ctx)
	if err != nil {
		c.logger.Debug("reader poll failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	c.resolve(ctx, Normalize(uid))
}

// SetCredential runs the same resolution as a physical card detection for a
// manually supplied credential.
func (c *Controller) SetCredential(ctx context.Context, uid string) (models.Status, error) {
	uid = Normalize(uid)
	if uid == "" {
		return models.Status{}, ErrInvalidCredential
	}
	c.resolve(ctx, uid)
	return c.Status(), nil
}

// SetCredentialWithAccount short-circuits remote lookup with balance and
// name supplied by a trusted caller.
func (c *Controller) SetCredentialWithAccount(uid, name string, balancePaise int64) (models.Status, error) {
	uid = Normalize(uid)
	if uid == "" {
		return models.Status{}, ErrInvalidCredential
	}
	c.setSession(uid, models.ModeUser, name, balancePaise)
	return c.Status(), nil
}

// resolve turns a credential into (mode, name, balance) and installs it as
// the session. Precedence: admin constant, remote ledger, local store.
func (c *Controller) resolve(ctx context.Context, uid string) {
	if uid == c.cfg.AdminUID {
		c.setSession(uid, models.ModeAdmin, adminName, 0)
		return
	}

	acct, err := c.ledger.Lookup(ctx, uid)
	if err == nil {
		c.setSession(uid, models.ModeUser, acct.Name, acct.Balance)
		return
	}
	c.logger.Info("remote lookup failed, using local balance",
		zap.String("uid", uid), zap.Error(err))

	balance, err := c.store.Get(ctx, uid)
	if err != nil {
		c.logger.Warn("local balance read failed", zap.String("uid", uid), zap.Error(err))
		balance = 0
	}
	c.setSession(uid, models.ModeUnknown, "Unknown", balance)
}

func (c *Controller) setSession(uid string, mode models.Mode, name string, balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = models.Session{
		Credential:      uid,
		Mode:            mode,
		Name:            name,
		Balance:         balance,
		LastPresentedAt: c.now(),
	}
	c.logger.Info("credential resolved",
		zap.String("uid", uid),
		zap.String("mode", string(mode)),
		zap.Float64("balance", models.Rupees(balance)))
}

// expireCardLocked idles the session after CardTimeout without
// re-presentation. Suspended while a job is active so the credential
// context survives card removal during dispensing.
func (c *Controller) expireCardLocked() {
	if c.session.Credential == "" || c.job != nil {
		return
	}
	if c.now().Sub(c.session.LastPresentedAt) > c.cfg.CardTimeout {
		c.logger.Info("card timeout", zap.String("uid", c.session.Credential))
		c.session.Reset()
	}
}

// Begin authorizes a dispense of amountPaise against the session balance,
// engages the relay and creates the job. No balance is deducted yet: the
// pump needs a separate physical trigger and may never draw fuel.
func (c *Controller) Begin(ctx context.Context, amountPaise int64) error {
	if amountPaise <= 0 {
		return ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Credential == "" {
		return ErrNoCard
	}
	if c.session.Mode == models.ModeAdmin {
		return ErrAdminDispense
	}
	if c.job != nil {
		return ErrAlreadyDispensing
	}
	if c.session.Balance < amountPaise {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, models.FormatRupees(c.session.Balance))
	}

	liters := float64(amountPaise) / 100 / c.cfg.RatePerLitre
	duration := time.Duration(liters * c.cfg.SecondsPerLitre * float64(time.Second))

	if err := c.relay.Engage(); err != nil {
		_ = c.relay.Disengage()
		return fmt.Errorf("engage relay: %w", err)
	}

	now := c.now()
	c.job = &models.DispenseJob{
		Credential:      c.session.Credential,
		AuthorizedPaise: amountPaise,
		StartedAt:       now,
		PlannedDuration: duration,
		EndsAt:          now.Add(duration),
	}

	c.logger.Info("dispense started",
		zap.String("uid", c.job.Credential),
		zap.Float64("amount", models.Rupees(amountPaise)),
		zap.Float64("liters", liters),
		zap.Duration("duration", duration))
	return nil
}

// completeDispenseLocked settles the full authorized amount once the
// planned window has elapsed.
func (c *Controller) completeDispenseLocked(ctx context.Context) {
	if c.job == nil || c.now().Before(c.job.EndsAt) {
		return
	}

	job := *c.job
	if err := c.relay.Disengage(); err != nil {
		c.logger.Error("relay disengage failed", zap.Error(err))
	}
	c.job = nil

	c.settleLocked(ctx, job, job.AuthorizedPaise, job.EndsAt, repository.SettlementCompleted)
}

// Abort is the emergency stop. The relay disengages before any accounting;
// the charge is pro-rated over the elapsed fraction of the planned window.
// Returns the charged amount and whether a job was actually running.
func (c *Controller) Abort(ctx context.Context) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil {
		return 0, false
	}

	if err := c.relay.Disengage(); err != nil {
		c.logger.Error("relay disengage failed", zap.Error(err))
	}
	job := *c.job
	c.job = nil

	now := c.now()
	elapsed := now.Sub(job.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	liters := elapsed.Seconds() / c.cfg.SecondsPerLitre
	charged := models.PaiseFromRupees(liters * c.cfg.RatePerLitre)
	if charged > job.AuthorizedPaise {
		charged = job.AuthorizedPaise
	}

	c.settleLocked(ctx, job, charged, now, repository.SettlementAborted)
	return charged, true
}

// settleLocked deducts charged from the job credential's balance, clamped
// at zero, persists it and mirrors it into the session when the job still
// belongs to the presented credential.
func (c *Controller) settleLocked(ctx context.Context, job models.DispenseJob, charged int64, endedAt time.Time, settlement string) {
	balance := c.balanceForLocked(ctx, job.Credential)
	balance -= charged
	if balance < 0 {
		balance = 0
	}

	if err := c.store.Put(ctx, job.Credential, balance); err != nil {
		c.logger.Error("persist balance failed", zap.String("uid", job.Credential), zap.Error(err))
	}
	if job.Credential == c.session.Credential {
		c.session.Balance = balance
	}

	liters := float64(charged) / 100 / c.cfg.RatePerLitre
	c.logger.Info("dispense settled",
		zap.String("uid", job.Credential),
		zap.String("settlement", settlement),
		zap.Float64("charged", models.Rupees(charged)),
		zap.Float64("balance", models.Rupees(balance)))

	c.recordAsync(job, charged, liters, endedAt, settlement)
}

// balanceForLocked returns the freshest known balance for a credential: the
// session copy when it still matches, the store otherwise (card swapped
// mid-dispense).
func (c *Controller) balanceForLocked(ctx context.Context, credential string) int64 {
	if credential == c.session.Credential {
		return c.session.Balance
	}
	balance, err := c.store.Get(ctx, credential)
	if err != nil {
		c.logger.Warn("local balance read failed", zap.String("uid", credential), zap.Error(err))
		return 0
	}
	return balance
}

// recordAsync delivers the write-behind dispense record and the history row.
// Failures are logged and never reverse the local settlement.
func (c *Controller) recordAsync(job models.DispenseJob, charged int64, liters float64, endedAt time.Time, settlement string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.ledger.RecordDispense(ctx, job.Credential, liters, charged); err != nil {
			c.logger.Warn("dispense record not delivered", zap.String("uid", job.Credential), zap.Error(err))
		}
		if c.history != nil {
			err := c.history.Record(ctx, repository.DispenseRecord{
				Credential:      job.Credential,
				AuthorizedPaise: job.AuthorizedPaise,
				ChargedPaise:    charged,
				VolumeLitre:     liters,
				Settlement:      settlement,
				StartedAt:       job.StartedAt,
				EndedAt:         endedAt,
			})
			if err != nil {
				c.logger.Warn("history insert failed", zap.Error(err))
			}
		}
	}()
}

// TopUp credits the session credential. Remote first; on remote failure the
// credit is applied to the local store only.
func (c *Controller) TopUp(ctx context.Context, amountPaise int64) (int64, error) {
	if amountPaise <= 0 {
		return 0, ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Credential == "" {
		return 0, ErrNoCard
	}
	uid := c.session.Credential

	newBalance, err := c.ledger.TopUp(ctx, uid, amountPaise)
	if err == nil {
		if putErr := c.store.Put(ctx, uid, newBalance); putErr != nil {
			c.logger.Warn("balance mirror failed", zap.String("uid", uid), zap.Error(putErr))
		}
		c.session.Balance = newBalance
		c.logger.Info("topup recorded remotely",
			zap.String("uid", uid),
			zap.Float64("amount", models.Rupees(amountPaise)),
			zap.Float64("balance", models.Rupees(newBalance)))
		return newBalance, nil
	}
	c.logger.Warn("remote topup failed, applying locally", zap.String("uid", uid), zap.Error(err))

	balance, err := c.store.Get(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	balance += amountPaise
	if err := c.store.Put(ctx, uid, balance); err != nil {
		return 0, fmt.Errorf("persist balance: %w", err)
	}
	c.session.Balance = balance
	return balance, nil
}

// Status returns a read-only snapshot. No side effects.
func (c *Controller) Status() models.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := models.Status{
		Credential: c.session.Credential,
		Mode:       c.session.Mode,
		Name:       c.session.Name,
		Balance:    models.Rupees(c.session.Balance),
		Message:    "Ready for card scan",
	}
	if c.job != nil {
		st.Dispensing = true
		remaining := c.job.EndsAt.Sub(c.now()).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		st.SecondsRemaining = remaining
		st.Message = "Dispensing fuel..."
	}
	return st
}
