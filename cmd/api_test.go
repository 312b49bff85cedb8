package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGormConfigTranslatesDriverErrors(t *testing.T) {
	// Without error translation the postgres driver surfaces raw
	// *pgconn.PgError values and unique-index violations never match
	// gorm.ErrDuplicatedKey in the repositories.
	require.True(t, gormConfig().TranslateError)
}
