package auth

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

func TestMapWriteErrorUniqueViolationIsDuplicate(t *testing.T) {
	err := mapWriteError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestMapWriteErrorOtherFaultsAreStorage(t *testing.T) {
	err := mapWriteError(errors.New("connection reset"))
	require.ErrorIs(t, err, shared.ErrStorage)
	require.NotErrorIs(t, err, httpx.ErrDuplicate)
}
