package repositories

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dealmatch/matchengine/pkg/apperrors"
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation (error code 23503). Surfaced when a RESTRICT reference blocks a
// hard delete.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// mapConstraintError converts constraint violations into the apperrors
// taxonomy so callers can distinguish "someone else already has this" from
// "this operation failed".
func mapConstraintError(err error, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, apperrors.ErrDuplicate)
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, apperrors.ErrIntegrity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// marshalStringSlice encodes a string slice as JSONB, defaulting to an empty
// array so columns never hold SQL NULL.
func marshalStringSlice(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string slice: %w", err)
	}
	return data, nil
}

func unmarshalStringSlice(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string slice: %w", err)
	}
	return values, nil
}
