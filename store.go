package session

import (
	"context"
	"sync"
	"time"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const defaultProbeTimeout = 8 * time.Second

// Store owns the session lifecycle. It coordinates the registered providers,
// keeps the current Session snapshot, and notifies subscribers on every
// change. All exported methods are safe for concurrent use.
//
// Results from background work are gated on an attempt id: any sign-in or
// initialization that is superseded by a newer attempt has its outcome
// discarded instead of clobbering fresher state.
type Store struct {
	mu          sync.RWMutex
	current     Session
	providers   map[provider.Kind]provider.Provider
	active      provider.Kind
	magic       *MagicSession
	magicGrants provider.GrantStore
	tokens      *TokenManager
	api         ProfileAPI
	logger      Logger
	graph       statusGraph
	attempt     uuid.UUID
	subscribers map[uuid.UUID]Subscriber

	probeTimeout time.Duration
	now          func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithProvider registers an authentication provider. Registering a second
// provider of the same kind replaces the first.
func WithProvider(p provider.Provider) StoreOption {
	return func(s *Store) {
		if p != nil {
			s.providers[p.Kind()] = p
		}
	}
}

// WithProfileAPI sets the backend used to resolve the application profile
// after a provider sign-in.
func WithProfileAPI(api ProfileAPI) StoreOption {
	return func(s *Store) {
		s.api = api
	}
}

// WithMagicGrantStore persists magic sessions so they survive a restart. The
// stored token is restored by Initialize alongside the provider probes.
func WithMagicGrantStore(gs provider.GrantStore) StoreOption {
	return func(s *Store) {
		s.magicGrants = gs
	}
}

// WithTokenManager replaces the default token manager.
func WithTokenManager(tm *TokenManager) StoreOption {
	return func(s *Store) {
		if tm != nil {
			s.tokens = tm
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProbeTimeout bounds how long Initialize waits on any single provider
// during the silent restore probe.
func WithProbeTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// NewStore creates a Store in the uninitialized state.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		current:      Session{Status: StatusUninitialized, IsLoading: true},
		providers:    make(map[provider.Kind]provider.Provider),
		tokens:       NewTokenManager(),
		logger:       provider.DefaultLogger(),
		graph:        newStatusGraph(),
		subscribers:  make(map[uuid.UUID]Subscriber),
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a snapshot of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn to be called with every session snapshot, starting
// with the current one. The returned function removes the subscription.
func (s *Store) Subscribe(fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}

	id := uuid.New()

	s.mu.Lock()
	s.subscribers[id] = fn
	snapshot := s.current
	s.mu.Unlock()

	fn(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Initialize probes the registered providers for a restorable session. Each
// probe is bounded by the probe timeout so a hung provider cannot block
// startup. The first provider that restores silently wins; after the
// providers a persisted magic session is tried, and only then does the store
// settle on unauthenticated.
func (s *Store) Initialize(ctx context.Context) error {
	attempt := s.beginAttempt()

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusAuthenticating
		sess.IsLoading = true
		sess.IsAuthReady = false
	})

	for _, kind := range []provider.Kind{provider.KindEnterprise, provider.KindConsumer, provider.KindLocal} {
		p, ok := s.providers[kind]
		if !ok {
			continue
		}

		identity, err := s.probe(ctx, p)
		if err != nil {
			if provider.IsInteractionRequired(err) || provider.IsUnavailable(err) {
				continue
			}
			s.logger.Warn("silent restore failed provider=%s error=%v", kind, err)
			continue
		}
		if identity == nil {
			continue
		}

		return s.adoptIdentity(ctx, attempt, p, identity)
	}

	if ms := s.restoreMagic(ctx); ms != nil {
		err := s.adoptMagic(ctx, attempt, ms)
		if err == nil {
			return nil
		}
		s.logger.Warn("restored magic session could not be adopted: %v", err)
		s.clearMagicGrant(ctx)
	}

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusUnauthenticated
		sess.IsLoading = false
		sess.IsAuthReady = true
		sess.Err = nil
	})
	return nil
}

// SignIn runs a sign-in against the provider of the given kind and, on
// success, reconciles the backend profile before marking the session
// authenticated. A user-cancelled sign-in returns nil and leaves the store
// unauthenticated.
func (s *Store) SignIn(ctx context.Context, kind provider.Kind, mode provider.SignInMode) error {
	p, ok := s.providers[kind]
	if !ok {
		return goerrors.New("no provider registered for kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	attempt := s.beginAttempt()

	s.teardownActive(ctx, kind)

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusAuthenticating
		sess.Provider = kind
		sess.IsLoading = true
		sess.Err = nil
	})

	var (
		identity *provider.Identity
		err      error
	)
	switch mode {
	case provider.ModeSilent:
		identity, err = p.SignInSilent(ctx)
	default:
		identity, err = p.SignInInteractive(ctx)
	}

	if err != nil {
		if provider.IsCancelled(err) {
			s.apply(attempt, func(sess *Session) {
				sess.Status = StatusUnauthenticated
				sess.IsLoading = false
				sess.IsAuthReady = true
			})
			return nil
		}
		s.fail(attempt, kind, err)
		return err
	}

	return s.adoptIdentity(ctx, attempt, p, identity)
}

// SignOut shuts down the active provider, clears cached tokens, and moves
// the session to unauthenticated. Provider shutdown failures are logged but
// do not block the local state reset.
func (s *Store) SignOut(ctx context.Context) error {
	attempt := s.beginAttempt()

	s.mu.Lock()
	active := s.active
	s.active = provider.KindNone
	s.magic = nil
	s.mu.Unlock()

	if p, ok := s.providers[active]; ok && active != provider.KindNone {
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Warn("provider shutdown failed provider=%s error=%v", active, err)
		}
	}

	s.tokens.Reset()
	s.clearMagicGrant(ctx)

	s.apply(attempt, func(sess *Session) {
		*sess = Session{
			Status:      StatusUnauthenticated,
			IsLoading:   false,
			IsAuthReady: true,
		}
	})
	return nil
}

// ReconcileProfile refreshes the backend profile for the current session.
// When force is false and a profile is already present the call is a no-op.
// A profile whose email does not match the provider identity is rejected and
// the session drops to unauthenticated; a mismatched profile is never
// published, not even partially.
func (s *Store) ReconcileProfile(ctx context.Context, force bool) error {
	if s.api == nil {
		return goerrors.New("no profile API configured", goerrors.CategoryOperation).
			WithTextCode("session_not_configured")
	}

	s.mu.RLock()
	sess := s.current
	magic := s.magic
	s.mu.RUnlock()

	if !force && sess.Profile != nil {
		return nil
	}
	if sess.Account == nil && magic == nil {
		return goerrors.New("no identity to reconcile a profile for", goerrors.CategoryOperation)
	}

	attempt := s.currentAttempt()

	cred, err := s.credential(ctx)
	if err != nil {
		return err
	}

	profile, err := s.api.Profile(ctx, cred)
	if err != nil {
		return err
	}

	if sess.Account != nil && profile.Email != "" && !EmailsMatch(sess.Account.Email, profile.Email) {
		err := ErrIdentityMismatch.Clone().WithMetadata(map[string]any{
			"identity_email": NormalizeEmail(sess.Account.Email),
			"profile_email":  NormalizeEmail(profile.Email),
		})
		s.logError("profile reconciliation rejected", err)
		s.dropMismatchedSession(ctx, attempt, err)
		return err
	}

	s.apply(attempt, func(sess *Session) {
		sess.Profile = profile
	})
	return nil
}

// AdoptMagicSession installs a short-lived magic-link session, fetching the
// profile it grants access to. No provider participates; the session token
// itself is the credential.
func (s *Store) AdoptMagicSession(ctx context.Context, ms *MagicSession) error {
	if ms == nil || ms.Token == "" {
		return goerrors.New("magic session requires a token", goerrors.CategoryBadInput)
	}
	if ms.Expired(s.now()) {
		return client.ErrInvitationInvalid.Clone().
			WithMetadata(map[string]any{"reason": "magic session expired"})
	}

	return s.adoptMagic(ctx, s.beginAttempt(), ms)
}

func (s *Store) adoptMagic(ctx context.Context, attempt uuid.UUID, ms *MagicSession) error {
	if s.api == nil {
		return goerrors.New("no profile API configured", goerrors.CategoryOperation).
			WithTextCode("session_not_configured")
	}

	s.mu.Lock()
	s.magic = ms
	s.active = provider.KindMagicLink
	s.mu.Unlock()

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusSyncing
		sess.Provider = provider.KindMagicLink
		sess.Account = nil
		sess.IsLoading = true
		sess.Err = nil
	})

	profile, err := s.api.Profile(ctx, client.MagicCredential(ms.Token))
	if err != nil {
		s.mu.Lock()
		s.magic = nil
		s.active = provider.KindNone
		s.mu.Unlock()
		s.fail(attempt, provider.KindMagicLink, err)
		return err
	}

	s.persistMagic(ctx, ms, profile)

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusAuthenticated
		sess.Profile = profile
		sess.IsLoading = false
		sess.IsAuthReady = true
	})
	return nil
}

// restoreMagic loads a persisted magic session, discarding expired grants so
// they are not retried on the next launch.
func (s *Store) restoreMagic(ctx context.Context) *MagicSession {
	if s.magicGrants == nil {
		return nil
	}

	grant, err := s.magicGrants.Find(ctx, provider.KindMagicLink)
	if err != nil {
		if !provider.IsGrantNotFound(err) {
			s.logger.Warn("magic session lookup failed: %v", err)
		}
		return nil
	}

	ms := &MagicSession{Token: grant.AccessToken, ExpiresAt: grant.ExpiresAt}
	if ms.Expired(s.now()) {
		s.clearMagicGrant(ctx)
		return nil
	}
	return ms
}

func (s *Store) persistMagic(ctx context.Context, ms *MagicSession, profile *client.Profile) {
	if s.magicGrants == nil {
		return
	}

	grant := &provider.Grant{
		Provider:    provider.KindMagicLink,
		AccessToken: ms.Token,
		ExpiresAt:   ms.ExpiresAt,
	}
	if profile != nil {
		grant.Email = profile.Email
	}
	if err := s.magicGrants.Save(ctx, grant); err != nil {
		s.logger.Warn("persisting magic session failed: %v", err)
	}
}

func (s *Store) clearMagicGrant(ctx context.Context) {
	if s.magicGrants == nil {
		return
	}
	if err := s.magicGrants.Delete(ctx, provider.KindMagicLink); err != nil {
		s.logger.Warn("clearing magic session grant failed: %v", err)
	}
}

// AccessToken returns a fresh access token for the active provider.
func (s *Store) AccessToken(ctx context.Context) (*provider.Token, error) {
	s.mu.RLock()
	active := s.active
	magic := s.magic
	s.mu.RUnlock()

	if magic != nil {
		if magic.Expired(s.now()) {
			return nil, provider.ErrInteractionRequired.Clone()
		}
		return &provider.Token{AccessToken: magic.Token, TokenType: "Magic", ExpiresAt: magic.ExpiresAt}, nil
	}

	p, ok := s.providers[active]
	if !ok || active == provider.KindNone {
		return nil, provider.ErrInteractionRequired.Clone()
	}
	return s.tokens.AccessToken(ctx, p)
}

func (s *Store) adoptIdentity(ctx context.Context, attempt uuid.UUID, p provider.Provider, identity *provider.Identity) error {
	if identity == nil {
		err := goerrors.New("provider returned an empty identity", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"provider": string(p.Kind())})
		s.fail(attempt, p.Kind(), err)
		return err
	}

	s.mu.Lock()
	s.active = p.Kind()
	s.magic = nil
	s.mu.Unlock()

	if identity.Token != nil {
		s.tokens.Prime(p.Kind(), identity.Token)
	}

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusSyncing
		sess.Provider = p.Kind()
		sess.Account = identity
		sess.Profile = nil
		sess.Err = nil
	})

	if err := s.ReconcileProfile(ctx, true); err != nil {
		if IsIdentityMismatch(err) {
			// ReconcileProfile already dropped the session
			return err
		}
		if IsVerificationRequired(err) {
			s.apply(attempt, func(sess *Session) {
				sess.Status = StatusUnauthenticated
				sess.Account = nil
				sess.Profile = nil
				sess.IsLoading = false
				sess.IsAuthReady = true
				sess.Err = err
			})
			return err
		}
		s.fail(attempt, p.Kind(), err)
		return err
	}

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusAuthenticated
		sess.IsLoading = false
		sess.IsAuthReady = true
	})
	return nil
}

// dropMismatchedSession tears down a session whose backend profile belongs to
// a different identity. The provider is shut down and its cached tokens are
// invalidated so nothing keeps acting as the wrong account.
func (s *Store) dropMismatchedSession(ctx context.Context, attempt uuid.UUID, cause error) {
	s.mu.Lock()
	active := s.active
	s.active = provider.KindNone
	s.magic = nil
	s.mu.Unlock()

	if p, ok := s.providers[active]; ok && active != provider.KindNone {
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Warn("provider shutdown after identity mismatch failed provider=%s error=%v", active, err)
		}
	}
	s.tokens.Invalidate(active)

	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusUnauthenticated
		sess.Account = nil
		sess.Profile = nil
		sess.IsLoading = false
		sess.IsAuthReady = true
		sess.Err = cause
	})
}

// probe runs Initialize plus SignInSilent against p inside the probe timeout.
// The work runs in its own goroutine so a provider that never returns only
// costs the timeout, not the whole startup.
func (s *Store) probe(ctx context.Context, p provider.Provider) (*provider.Identity, error) {
	type result struct {
		identity *provider.Identity
		err      error
	}

	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		if err := p.Initialize(pctx); err != nil {
			ch <- result{err: err}
			return
		}
		identity, err := p.SignInSilent(pctx)
		ch <- result{identity: identity, err: err}
	}()

	select {
	case <-pctx.Done():
		return nil, provider.ErrProviderUnavailable.Clone().WithMetadata(map[string]any{
			"provider": string(p.Kind()),
			"reason":   "probe timed out",
		})
	case res := <-ch:
		return res.identity, res.err
	}
}

func (s *Store) teardownActive(ctx context.Context, next provider.Kind) {
	s.mu.Lock()
	active := s.active
	s.active = provider.KindNone
	s.magic = nil
	s.mu.Unlock()

	if active == provider.KindMagicLink {
		s.clearMagicGrant(ctx)
	}

	if active == provider.KindNone || active == next {
		s.tokens.Invalidate(active)
		return
	}
	if p, ok := s.providers[active]; ok {
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Warn("teardown of previous provider failed provider=%s error=%v", active, err)
		}
	}
	s.tokens.Invalidate(active)
}

func (s *Store) beginAttempt() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = uuid.New()
	return s.attempt
}

func (s *Store) currentAttempt() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

// apply mutates the session under lock and notifies subscribers, unless the
// attempt has been superseded, in which case the mutation is dropped.
func (s *Store) apply(attempt uuid.UUID, mutate func(*Session)) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return
	}

	next := s.current
	mutate(&next)

	if !s.graph.canTransition(s.current.Status, next.Status) {
		s.logError("dropping illegal status change", s.graph.transitionError(s.current.Status, next.Status))
		s.mu.Unlock()
		return
	}

	s.current = next
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

func (s *Store) fail(attempt uuid.UUID, kind provider.Kind, err error) {
	s.logError("sign-in failed", err)
	s.apply(attempt, func(sess *Session) {
		sess.Status = StatusError
		sess.Provider = kind
		sess.IsLoading = false
		sess.IsAuthReady = true
		sess.Err = err
	})
}

func (s *Store) credential(ctx context.Context) (client.Credential, error) {
	s.mu.RLock()
	magic := s.magic
	s.mu.RUnlock()

	if magic != nil {
		return client.MagicCredential(magic.Token), nil
	}

	token, err := s.AccessToken(ctx)
	if err != nil {
		return client.Credential{}, err
	}
	return client.BearerCredential(token.AccessToken), nil
}

func (s *Store) logError(msg string, err error) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && len(rich.Metadata) > 0 {
		s.logger.Error("%s: %v metadata=%s", msg, err, print.MaybePrettyJSON(rich.Metadata))
		return
	}
	s.logger.Error("%s: %v", msg, err)
}
