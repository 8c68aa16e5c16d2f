// Package scheduler runs the periodic catalog persistence task: snapshot
// every DatabaseObject and table object to disk, independent of LSM
// flushing, with a process-wide at-most-one-in-flight guarantee.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storageerr"
)

// runningFlag is the CAS-guarded start/stop sequence every at-most-once
// background task in this engine uses: an atomic running bit plus a
// mutex serializing the handful of instructions around it.
type runningFlag struct {
	running atomic.Bool
	mu      sync.Mutex
}

// tryAcquire attempts to transition IDLE -> PERSISTING. Returns a release
// func to call on every exit path (success, error, panic) and true if the
// flag was free to take.
func (f *runningFlag) tryAcquire() (release func(), acquired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running.Load() {
		return nil, false
	}
	f.running.Store(true)
	return func() { f.running.Store(false) }, true
}

func (f *runningFlag) isRunning() bool { return f.running.Load() }

// Persister is the catalog's persist contract; Scheduler depends on this
// narrow interface rather than *storage.Catalog so it stays testable.
type Persister interface {
	PersistCatalog() error
}

// NetworkStatus reports whether this node currently considers itself
// online, the Scheduler's precondition for running a persist.
type NetworkStatus interface {
	IsOnline() bool
}

type Status int

const (
	StatusIdle Status = iota
	StatusPersisting
)

// Scheduler runs PerformPersist on a fixed interval and exposes it for a
// synchronous call on shutdown.
type Scheduler struct {
	persister Persister
	network   NetworkStatus
	interval  time.Duration
	logger    logging.Logger

	flag runningFlag

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	lastRun    time.Time
	lastErr    error
	runCount   atomic.Int64
	skipCount  atomic.Int64
}

func New(persister Persister, network NetworkStatus, interval time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		persister: persister,
		network:   network,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the background ticker. Safe to call once per Scheduler.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.PerformPersist(); err != nil && !storageerr.IsAlreadyRunning(err) {
				s.logger.Error("scheduled persist failed", logging.Error(err))
			}
		case <-s.stopChan:
			return
		}
	}
}

// PerformPersist is the scheduler's single entry point: skip if offline,
// skip if already running, otherwise persist and always clear the
// running flag on the way out, even on panic.
func (s *Scheduler) PerformPersist() (err error) {
	if s.network != nil && !s.network.IsOnline() {
		s.skipCount.Add(1)
		return storageerr.New("scheduler.PerformPersist", storageerr.KindConcurrencyReject).
			Context("network offline").Err()
	}

	release, acquired := s.flag.tryAcquire()
	if !acquired {
		s.skipCount.Add(1)
		return storageerr.New("scheduler.PerformPersist", storageerr.KindConcurrencyReject).
			Cause(storageerr.ErrAlreadyRunning).Err()
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during persist", logging.Any("panic", r))
			err = storageerr.New("scheduler.PerformPersist", storageerr.KindInvariant).
				Context("recovered from panic").Err()
		}
		s.lastErr = err
		s.lastRun = time.Now()
	}()

	timer := logging.StartTimer(s.logger, "catalog persist")
	err = s.persister.PersistCatalog()
	if err != nil {
		timer.EndError(err)
		return storageerr.New("scheduler.PerformPersist", storageerr.KindPersistentIO).Cause(err).Err()
	}
	timer.End()
	s.runCount.Add(1)
	return nil
}

// Status reports whether a persist is currently in flight, for health
// checks and the /metrics endpoint.
func (s *Scheduler) Status() Status {
	if s.flag.isRunning() {
		return StatusPersisting
	}
	return StatusIdle
}

func (s *Scheduler) Stats() (runs, skips int64, lastRun time.Time, lastErr error) {
	return s.runCount.Load(), s.skipCount.Load(), s.lastRun, s.lastErr
}

// Stop requests the background ticker to exit and waits for it. It does
// not itself run a final persist; callers that need a synchronous
// shutdown persist should call PerformPersist directly beforehand.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
