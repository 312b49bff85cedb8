package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCheckinMethod(t *testing.T) {
	require.Equal(t, CheckinMethodLink, NormalizeCheckinMethod("link"))
	require.Equal(t, CheckinMethodQR, NormalizeCheckinMethod("qr"))
	require.Equal(t, CheckinMethodNFC, NormalizeCheckinMethod("nfc"))

	// Anything else falls back to link
	require.Equal(t, CheckinMethodLink, NormalizeCheckinMethod(""))
	require.Equal(t, CheckinMethodLink, NormalizeCheckinMethod("QR"))
	require.Equal(t, CheckinMethodLink, NormalizeCheckinMethod("kiosk"))
}
