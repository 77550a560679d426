package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Codec != nil && s.deps.Ledger != nil && s.deps.Now != nil
}

func (s Service) Login(ctx context.Context, identifier, secret string, client Client) PairResult {
	return RunLogin(ctx, identifier, secret, client, s.deps)
}

func (s Service) Refresh(ctx context.Context, refreshToken, ip string) PairResult {
	return RunRefresh(ctx, refreshToken, ip, s.deps)
}

func (s Service) Logout(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogout(ctx, refreshToken, s.deps)
}

func (s Service) LogoutAll(ctx context.Context, subjectID string) LogoutResult {
	return RunLogoutAll(ctx, subjectID, s.deps)
}

func (s Service) Sessions(ctx context.Context, subjectID string) SessionsResult {
	return RunListSessions(ctx, subjectID, s.deps)
}

func (s Service) Validate(accessToken string, required []string) ValidateResult {
	return RunValidate(accessToken, required, s.deps)
}

func (s Service) Register(ctx context.Context, email, ip string) RegisterResult {
	return RunRegister(ctx, email, ip, s.deps)
}

func (s Service) ResendVerification(ctx context.Context, email, ip string) RegisterResult {
	return RunResendVerification(ctx, email, ip, s.deps)
}
