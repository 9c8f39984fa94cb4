package invite

import (
	"context"
	"sync"

	session "github.com/clinicore/go-session"
	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
	goerrors "github.com/goliatone/go-errors"
)

// Stage is where an invitation attempt currently sits.
type Stage string

const (
	// StageIdle means no invitation is being processed.
	StageIdle Stage = "idle"
	// StageValidating means the token is being checked with the backend.
	StageValidating Stage = "validating"
	// StageAwaitingIdentity means a direct invitation is valid but no
	// matching signed-in identity exists yet.
	StageAwaitingIdentity Stage = "awaiting-identity"
	// StageAccepting means the acceptance call is in flight.
	StageAccepting Stage = "accepting"
	// StageDone means the invitation was accepted and a landing route chosen.
	StageDone Stage = "done"
	// StageFailed is terminal for this attempt. Start begins a new one.
	StageFailed Stage = "failed"
)

// stageGraph guards reconciler progress the same way the session store guards
// its status changes.
var stageGraph = map[Stage]map[Stage]struct{}{
	StageIdle:             {StageValidating: {}},
	StageValidating:       {StageAwaitingIdentity: {}, StageAccepting: {}, StageDone: {}, StageFailed: {}},
	StageAwaitingIdentity: {StageAccepting: {}, StageFailed: {}},
	StageAccepting:        {StageDone: {}, StageFailed: {}},
	StageDone:             {StageValidating: {}},
	StageFailed:           {StageValidating: {}},
}

// State is a snapshot of the current invitation attempt.
type State struct {
	Stage      Stage
	Invitation *client.Invitation
	Route      string
	Err        error
}

// API is the slice of the backend client the reconciler needs.
type API interface {
	ValidateInvitation(ctx context.Context, email, token string) (*client.Invitation, error)
	AcceptInvitation(ctx context.Context, req client.AcceptInvitationRequest) error
	RedeemMagicInvitation(ctx context.Context, email, token string) (*client.MagicGrant, error)
}

// Reconciler drives an invitation from raw token to accepted account. Magic
// invitations are redeemed immediately and installed on the session store as
// a magic session. Direct invitations wait for an authenticated identity
// whose email matches the invitation before acceptance.
type Reconciler struct {
	mu       sync.Mutex
	state    State
	store    *session.Store
	api      API
	logger   session.Logger
	onChange func(State)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithOnChange registers a callback invoked with every state snapshot.
func WithOnChange(fn func(State)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(logger session.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler wires a reconciler to the session store and backend API.
func NewReconciler(store *session.Store, api API, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		state:  State{Stage: StageIdle},
		store:  store,
		api:    api,
		logger: provider.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns a snapshot of the attempt state.
func (r *Reconciler) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start validates the invitation token and advances as far as it can without
// user interaction. Magic invitations complete in this call. Direct
// invitations complete here only when a matching identity is already signed
// in; otherwise the attempt parks in StageAwaitingIdentity and Resolve
// finishes it after sign-in.
func (r *Reconciler) Start(ctx context.Context, email, token string) (State, error) {
	r.transition(func(st *State) {
		*st = State{Stage: StageValidating}
	})

	if token == "" {
		err := client.ErrInvitationInvalid.Clone().
			WithMetadata(map[string]any{"reason": "empty token"})
		return r.fail(err), err
	}

	invitation, err := r.api.ValidateInvitation(ctx, email, token)
	if err != nil {
		return r.fail(err), err
	}

	r.transition(func(st *State) {
		st.Invitation = invitation
	})

	if invitation.Type == client.InvitationMagic {
		return r.redeemMagic(ctx, invitation)
	}

	sess := r.store.Current()
	if sess.Authenticated() && sess.Account != nil && session.EmailsMatch(sess.Account.Email, invitation.Email) {
		return r.accept(ctx, invitation, sess)
	}

	r.transition(func(st *State) {
		st.Stage = StageAwaitingIdentity
	})
	return r.Current(), nil
}

// Resolve finishes a direct invitation once an identity has signed in. The
// identity's email must match the invitation; a mismatch fails the attempt
// with an identity mismatch and signs the session out, so the wrong account
// never survives the rejection.
func (r *Reconciler) Resolve(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.state.Stage != StageAwaitingIdentity || r.state.Invitation == nil {
		st := r.state
		r.mu.Unlock()
		return st, goerrors.New("no invitation awaiting an identity", goerrors.CategoryOperation).
			WithTextCode("invite_nothing_pending")
	}
	invitation := r.state.Invitation
	r.mu.Unlock()

	sess := r.store.Current()
	if !sess.Authenticated() || sess.Account == nil {
		err := provider.ErrInteractionRequired.Clone()
		return r.Current(), err
	}

	if !session.EmailsMatch(sess.Account.Email, invitation.Email) {
		err := session.ErrIdentityMismatch.Clone().WithMetadata(map[string]any{
			"invitation_email": session.NormalizeEmail(invitation.Email),
			"signed_in_email":  session.NormalizeEmail(sess.Account.Email),
			"hint":             "you are signed in to the wrong account for this invitation",
		})
		if soErr := r.store.SignOut(ctx); soErr != nil {
			r.logger.Warn("sign-out after identity mismatch failed: %v", soErr)
		}
		return r.fail(err), err
	}

	return r.accept(ctx, invitation, sess)
}

// Reset abandons the current attempt.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.state = State{Stage: StageIdle}
	snapshot := r.state
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (r *Reconciler) redeemMagic(ctx context.Context, invitation *client.Invitation) (State, error) {
	r.transition(func(st *State) {
		st.Stage = StageAccepting
	})

	grant, err := r.api.RedeemMagicInvitation(ctx, invitation.Email, invitation.Token)
	if err != nil {
		return r.fail(err), err
	}

	ms := session.NewMagicSession(grant.SessionToken)
	if err := r.store.AdoptMagicSession(ctx, ms); err != nil {
		return r.fail(err), err
	}

	role := client.RoleUser
	if grant.User != nil {
		role = grant.User.Role
	}

	r.transition(func(st *State) {
		st.Stage = StageDone
		st.Route = RouteForRole(role)
	})
	return r.Current(), nil
}

func (r *Reconciler) accept(ctx context.Context, invitation *client.Invitation, sess session.Session) (State, error) {
	r.transition(func(st *State) {
		st.Stage = StageAccepting
	})

	req := client.AcceptInvitationRequest{
		Token:       invitation.Token,
		Email:       invitation.Email,
		UserID:      sess.Account.Subject,
		DisplayName: sess.Account.DisplayName,
		AuthMethod:  string(sess.Provider),
	}

	// enterprise acceptance proves possession of the issuer token
	if sess.Provider == provider.KindEnterprise {
		token, err := r.store.AccessToken(ctx)
		if err != nil {
			return r.fail(err), err
		}
		req.BearerToken = token.AccessToken
	}

	if err := r.api.AcceptInvitation(ctx, req); err != nil {
		return r.fail(err), err
	}

	if err := r.store.ReconcileProfile(ctx, true); err != nil {
		r.logger.Warn("profile refresh after acceptance failed: %v", err)
	}

	role := sess.Role()
	if updated := r.store.Current(); updated.Profile != nil {
		role = updated.Profile.Role
	}
	if role == "" && invitation.Role != "" {
		role = invitation.Role
	}

	r.transition(func(st *State) {
		st.Stage = StageDone
		st.Route = RouteForRole(role)
	})
	return r.Current(), nil
}

func (r *Reconciler) fail(err error) State {
	r.logger.Error("invitation attempt failed: %v", err)
	r.transition(func(st *State) {
		st.Stage = StageFailed
		st.Err = err
	})
	return r.Current()
}

func (r *Reconciler) transition(mutate func(*State)) {
	r.mu.Lock()

	next := r.state
	mutate(&next)

	if next.Stage != r.state.Stage {
		if allowed, ok := stageGraph[r.state.Stage]; ok {
			if _, legal := allowed[next.Stage]; !legal {
				r.logger.Warn("dropping illegal invitation stage change from=%s to=%s", r.state.Stage, next.Stage)
				r.mu.Unlock()
				return
			}
		}
	}

	r.state = next
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(next)
	}
}
