package gatekeeper

import "sync"

// State is a read-only snapshot of the session store. It is the only input
// of the gate and the route guard.
type State struct {
	Session *Session
	Profile *Profile
	Loading bool
}

// SignedIn reports whether the snapshot carries a session
func (s State) SignedIn() bool {
	return s.Session != nil
}

// Store holds the current session, its profile and the initial loading flag.
//
// Writers are the controller and the profile resolver. Every change of the
// session target bumps the generation; profile results are committed against
// the generation they were started with so stale results are dropped.
type Store struct {
	mu         sync.RWMutex
	session    *Session
	profile    *Profile
	loading    bool
	generation uint64
	revision   uint64
	changed    chan struct{}

	readyOnce sync.Once
	ready     chan struct{}

	logger Logger
}

// NewStore returns a store in the loading state
func NewStore(logger Logger) *Store {
	if logger == nil {
		logger = defLogger{}
	}
	return &Store{
		loading: true,
		changed: make(chan struct{}),
		ready:   make(chan struct{}),
		logger:  logger,
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Session: s.session.clone(),
		Profile: s.profile.clone(),
		Loading: s.loading,
	}
}

// Generation returns the current session generation
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Revision counts session writes, including ones that changed nothing
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// target returns the current session together with its generation
func (s *Store) target() (*Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone(), s.generation
}

// Ready is closed once the loading flag has been cleared
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Changed returns a channel closed on the next state change
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// setSession stores sess and returns the generation a profile resolution for
// it must be committed against. The generation only moves when the target
// user changes, a token refresh for the same user keeps in-flight results
// valid.
func (s *Store) setSession(sess *Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSessionLocked(sess)
}

// setSessionIf stores sess only when no session write happened after rev.
func (s *Store) setSessionIf(rev uint64, sess *Session) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revision != rev {
		s.logger.Debug("discarding superseded session", "user_id", targetOf(sess), "revision", rev, "current", s.revision)
		return s.generation, false
	}
	return s.setSessionLocked(sess), true
}

func (s *Store) setSessionLocked(sess *Session) uint64 {
	s.revision++

	if s.session.sameAs(sess) {
		return s.generation
	}

	if targetOf(s.session) != targetOf(sess) {
		s.generation++
		s.profile = nil
	}

	s.session = sess.clone()
	s.notifyLocked()
	return s.generation
}

// clear drops session and profile
func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revision++
	if s.session == nil && s.profile == nil {
		return
	}

	s.generation++
	s.session = nil
	s.profile = nil
	s.notifyLocked()
}

// commitProfile adopts p if userID and gen still describe the current
// session. It reports whether p was adopted.
func (s *Store) commitProfile(userID string, gen uint64, p *Profile) bool {
	if p == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.UserID != userID || s.generation != gen {
		s.logger.Debug("discarding stale profile result", "user_id", userID, "generation", gen, "current", s.generation)
		return false
	}

	next := p.clone()
	if cur := s.profile; cur != nil && cur.ID == next.ID {
		if cur.PaymentStatus.IsPaid() && !next.PaymentStatus.IsPaid() {
			s.logger.Warn("refusing payment status regression", "user_id", userID, "status", next.PaymentStatus)
			next.PaymentStatus = cur.PaymentStatus
			next.PaymentTier = cur.PaymentTier
			next.PaymentAmount = cur.PaymentAmount
		}
		if cur.OnboardingCompleted && !next.OnboardingCompleted {
			s.logger.Warn("refusing onboarding regression", "user_id", userID)
			next.OnboardingCompleted = true
		}
	}

	s.profile = next
	s.notifyLocked()
	return true
}

// finishLoading clears the loading flag. Only the first call has an effect
// and it reports true.
func (s *Store) finishLoading() bool {
	done := false
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.loading = false
		s.notifyLocked()
		s.mu.Unlock()
		close(s.ready)
		done = true
	})
	return done
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func targetOf(sess *Session) string {
	if sess == nil {
		return ""
	}
	return sess.UserID
}
