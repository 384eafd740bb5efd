package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoginResult carries the principal to issue and the ledger's view of the attempt.
type LoginResult struct {
	Principal  Principal
	Attempt    AttemptDecision
	RetryAfter time.Duration
}

// LoginService runs the password login flow for both portal surfaces.
type LoginService struct {
	accounts AccountRepository
	hasher   PasswordHasher
	ledger   *AttemptLedger
	activity ActivityLog
	logger   *zap.Logger

	decoyOnce sync.Once
	decoyHash string
}

func NewLoginService(accounts AccountRepository, hasher PasswordHasher, ledger *AttemptLedger, activity ActivityLog, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginService{accounts: accounts, hasher: hasher, ledger: ledger, activity: activity, logger: logger}
}

// Login consults the attempt ledger for clientID before checking the
// password, and clears the client's record once the password matches.
// It returns ErrRateLimited or ErrInvalidCredentials alongside the
// attempt decision for expected failures.
func (s *LoginService) Login(ctx context.Context, role Role, clientID, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	res := LoginResult{Attempt: s.ledger.RecordAttempt(clientID)}
	if !res.Attempt.Allowed {
		res.RetryAfter = res.Attempt.RetryAfter(s.ledger.now())
		s.record(ctx, role, clientID, identifier, OutcomeLocked)
		return res, ErrRateLimited
	}

	p, err := s.verify(ctx, role, identifier, password)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, ErrInvalidCredentials) {
			outcome = OutcomeRejected
		}
		s.record(ctx, role, clientID, identifier, outcome)
		return res, err
	}

	s.ledger.Reset(clientID)
	res.Principal = p
	res.Attempt = AttemptDecision{Allowed: true, Remaining: s.ledger.maxAttempts}
	s.record(ctx, role, clientID, identifier, OutcomeSucceeded)
	return res, nil
}

func (s *LoginService) verify(ctx context.Context, role Role, identifier, password string) (Principal, error) {
	if identifier == "" || password == "" {
		return Principal{}, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	switch role {
	case RoleAdministrator:
		a, err := s.accounts.FindAdministrator(ctx, identifier)
		if err != nil {
			return Principal{}, s.lookupFailure(password, err)
		}
		if !s.hasher.Verify(password, a.PasswordHash) {
			return Principal{}, ErrInvalidCredentials
		}
		return AdministratorPrincipal(), nil
	case RoleBusinessPartner:
		p, err := s.accounts.FindPartner(ctx, identifier)
		if err != nil {
			return Principal{}, s.lookupFailure(password, err)
		}
		if !s.hasher.Verify(password, p.PasswordHash) {
			return Principal{}, ErrInvalidCredentials
		}
		return PartnerPrincipal(p.BusinessID), nil
	default:
		return Principal{}, ErrInvalidPrincipal
	}
}

// lookupFailure maps a missing account to ErrInvalidCredentials after
// spending the same hash comparison a real account would cost.
func (s *LoginService) lookupFailure(password string, err error) error {
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}
	if decoy := s.decoy(); decoy != "" {
		s.hasher.Verify(password, decoy)
	}
	return ErrInvalidCredentials
}

// decoy hashes a throwaway password with the service's own hasher so the
// comparison runs at the configured cost.
func (s *LoginService) decoy() string {
	s.decoyOnce.Do(func() {
		h, err := s.hasher.Hash("portal-decoy-password")
		if err != nil {
			s.logger.Warn("failed to prepare decoy password hash", zap.Error(err))
			return
		}
		s.decoyHash = h
	})
	return s.decoyHash
}

func (s *LoginService) record(ctx context.Context, role Role, clientID, identifier string, outcome LoginOutcome) {
	metricLoginAttempts.WithLabelValues(string(role), string(outcome)).Inc()
	if s.activity == nil {
		return
	}
	ev := NewLoginEvent(role, clientID, identifier, outcome)
	if err := s.activity.Record(ctx, ev); err != nil {
		s.logger.Warn("failed to record login activity", zap.Error(err), zap.String("outcome", string(outcome)))
	}
}
