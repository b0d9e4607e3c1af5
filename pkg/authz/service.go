package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Service evaluates the platform-wide override policy. It is the injected
// predicate the permission resolver consults before any grant lookup, so
// privileged identities live in policy files rather than in code.
type Service struct {
	cfg          Config
	enforcer     *casbin.Enforcer
	logger       *logrus.Entry
	flagProvider FlagProvider
	mu           sync.RWMutex
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	var logger *logrus.Entry
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("component", "authz")
	} else {
		logger = logrus.WithField("component", "authz")
	}

	enf, err := casbin.NewEnforcer(cfg.ModelPath, fileadapter.NewAdapter(cfg.PolicyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}

	provider := cfg.FlagProvider
	if provider == nil {
		provider = NewFileFlagProvider(cfg.FlagPath, cfg.FlagMode)
	}

	return &Service{
		cfg:          cfg,
		enforcer:     enf,
		logger:       logger,
		flagProvider: provider,
	}, nil
}

// Check evaluates a request against the loaded policy.
func (s *Service) Check(ctx context.Context, req Request) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.enforcer.Enforce(req.Subject, req.Domain, req.Object, req.Action)
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	return res, nil
}

// HasGlobalOverride reports whether the user holds the platform override
// role. In shadow mode a policy match is logged but not granted; disabled
// mode never grants.
func (s *Service) HasGlobalOverride(ctx context.Context, userID uuid.UUID) (bool, error) {
	mode := s.flagProvider.Mode()
	if mode == ModeDisabled {
		return false, nil
	}

	req := NewRequest(SubjectForUser(userID), ObjectWorkstreams, ActionOverride)
	allowed, err := s.Check(ctx, req)
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, nil
	}
	if mode == ModeShadow {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"subject": req.Subject,
			"mode":    ModeShadow,
		}).Warn("authz shadow override match")
		return false, nil
	}
	return true, nil
}

// ReloadPolicy re-reads the policy file, for operational policy rotation.
func (s *Service) ReloadPolicy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforcer.LoadPolicy()
}
