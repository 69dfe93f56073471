package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// System program and a typical wallet; both decode to 32 bytes.
const (
	systemProgram = "11111111111111111111111111111111"
	walletAddr    = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func TestIsValidSolanaAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{systemProgram, true},
		{walletAddr, true},
		{"", false},
		{"0x1234567890123456789012345678901234567890", false}, // EVM
		{"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWW0", false}, // '0' is not base58
		{"abc", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidSolanaAddress(tt.addr), tt.addr)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 1.25 ")
	require.NoError(t, err)
	assert.Equal(t, "1.25", d.String())

	for _, bad := range []string{"", "abc", "0", "-3", "1..2", "NaN"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Tesla", SanitizeString("  Tes\x00la  ", 100))
	assert.Equal(t, "Noki", SanitizeString("Nokia", 4))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("borrower", ""),
		ValidAddress("supplier", "not-an-address"),
		ValidAmount("amount", "-1"),
		MaxLength("borrower", "ok", 10),
	)
	require.Len(t, errs, 3)
	assert.Equal(t, "borrower", errs[0].Field)
	assert.Equal(t, "supplier", errs[1].Field)
	assert.Equal(t, "amount", errs[2].Field)
	assert.Equal(t, "borrower: is required", errs.Error())

	assert.Empty(t, Validate(Required("a", "x"), ValidAddress("b", walletAddr), ValidAmount("c", "2")))
}

func TestAddressParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/screenings/:address", AddressParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/screenings/"+walletAddr, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/screenings/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
