package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/domain/entities"
	domainerrors "github.com/piogold/ico_service/internal/domain/errors"
)

const totpIssuer = "PIOGOLD ICO"

// EnrollTOTP generates a new authenticator secret for the admin. It only takes
// effect after EnableTOTP confirms a code, so a lost enrollment cannot lock the
// account. Enrolling again while enabled is rejected.
func (s *Service) EnrollTOTP(ctx context.Context, adminID uuid.UUID) (*entities.TOTPEnrollment, error) {
	a, err := s.admins.GetByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if a.TOTPEnabled {
		return nil, domainerrors.ConflictError("two-factor authentication", "already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: a.Username,
		SecretSize:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	sealed, err := s.cipher.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to seal totp secret: %w", err)
	}
	if err := s.admins.SetTOTP(ctx, a.ID, sealed, false); err != nil {
		return nil, err
	}

	s.logger.Info("TOTP enrollment started", zap.String("admin_id", a.ID.String()))
	return &entities.TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// EnableTOTP turns the pending enrollment on once the admin proves a code.
func (s *Service) EnableTOTP(ctx context.Context, adminID uuid.UUID, code string) error {
	a, err := s.admins.GetByID(ctx, adminID)
	if err != nil {
		return err
	}
	if a.TOTPEnabled {
		return domainerrors.ConflictError("two-factor authentication", "already enabled")
	}
	if a.TOTPSecret == "" {
		return domainerrors.ConflictError("two-factor authentication", "no pending enrollment")
	}
	if err := s.checkCode(a, code); err != nil {
		return err
	}
	if err := s.admins.SetTOTP(ctx, a.ID, a.TOTPSecret, true); err != nil {
		return err
	}
	s.logger.Info("TOTP enabled", zap.String("admin_id", a.ID.String()))
	return nil
}

func (s *Service) checkCode(a *entities.Admin, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return domainerrors.NewDomainError(domainerrors.ErrUnauthorized, "TOTP_REQUIRED", "one-time code required")
	}
	secret, err := s.cipher.Open(a.TOTPSecret)
	if err != nil {
		return fmt.Errorf("failed to open totp secret: %w", err)
	}
	if !totp.Validate(code, string(secret)) {
		s.logger.Warn("Admin one-time code rejected", zap.String("username", a.Username))
		return domainerrors.UnauthorizedError("invalid one-time code")
	}
	return nil
}
