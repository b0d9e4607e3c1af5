package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapPgError translates driver-level failures into typed service errors.
// Errors that already carry a service classification pass through.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return mapPgErrorToServiceError(err)
}

func mapPgErrorToServiceError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "WS_NOT_FOUND", "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		if pgErr.ConstraintName == "permission_grants_workstream_user_level_key" {
			return newServiceError(http.StatusConflict, "WS_GRANT_DUPLICATE", "grant already exists for this workstream, user and level", err)
		}
		return newServiceError(http.StatusConflict, "WS_CONFLICT", "unique constraint violated", err)
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		if pgErr.ConstraintName == "workstreams_parent_id_fkey" {
			return newServiceError(http.StatusUnprocessableEntity, "WS_PARENT_NOT_FOUND", "parent workstream not found", err)
		}
		return newServiceError(http.StatusUnprocessableEntity, "WS_REFERENCE_NOT_FOUND", "foreign key violation", err)
	case "23514": // check_violation
		recordWriteConflict("check")
		return newServiceError(http.StatusBadRequest, "WS_INVALID_BODY", "constraint check failed", err)
	default:
		return newServiceError(http.StatusInternalServerError, "WS_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
