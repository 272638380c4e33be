package stratum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	login       *Login
	solution    *Solution
	result      *Result
	errCode     *ResultCode
	unsupported string
}

func (h *captureHandler) OnLogin(m Login) bool       { h.login = &m; return true }
func (h *captureHandler) OnSolution(m Solution) bool { h.solution = &m; return true }
func (h *captureHandler) OnResult(m Result) bool     { h.result = &m; return true }
func (h *captureHandler) OnStratumError(code ResultCode) bool {
	h.errCode = &code
	return false
}
func (h *captureHandler) OnUnsupportedMethod(method string) bool {
	h.unsupported = method
	return true
}

func TestDispatchLogin(t *testing.T) {
	b, err := EncodeLine(NewLogin("1", "0123456789"))
	require.NoError(t, err)
	require.Equal(t, byte('\n'), b[len(b)-1])

	var h captureHandler
	require.True(t, Dispatch(b, &h))
	require.NotNil(t, h.login)
	require.Equal(t, "1", h.login.ID)
	require.Equal(t, "0123456789", h.login.APIKey)
}

func TestDispatchSolution(t *testing.T) {
	b, err := EncodeLine(NewSolution("J42", "00112233aabbccdd", "beef"))
	require.NoError(t, err)

	var h captureHandler
	require.True(t, Dispatch(b, &h))
	require.NotNil(t, h.solution)
	require.Equal(t, "J42", h.solution.ID)
	require.Equal(t, "00112233aabbccdd", h.solution.Nonce)
}

func TestDispatchResult(t *testing.T) {
	b, err := EncodeLine(NewResult("1", LoginFailed))
	require.NoError(t, err)

	var h captureHandler
	require.True(t, Dispatch(b, &h))
	require.NotNil(t, h.result)
	require.Equal(t, LoginFailed, h.result.Code)
}

func TestDispatchMalformed(t *testing.T) {
	var h captureHandler
	require.False(t, Dispatch([]byte("{not json"), &h))
	require.NotNil(t, h.errCode)
	require.Equal(t, BadProtocol, *h.errCode)
}

func TestDispatchEmptyID(t *testing.T) {
	var h captureHandler
	require.False(t, Dispatch([]byte(`{"method":"login","api_key":"x"}`), &h))
	require.NotNil(t, h.errCode)
}

func TestDispatchUnknownMethod(t *testing.T) {
	var h captureHandler
	require.False(t, Dispatch([]byte(`{"id":"1","method":"mine_harder"}`), &h))
	require.NotNil(t, h.errCode)
}

func TestDispatchUnsupportedMethod(t *testing.T) {
	var h captureHandler
	require.True(t, Dispatch([]byte(`{"id":"1","method":"cancel"}`), &h))
	require.Equal(t, MethodCancel, h.unsupported)
}

func TestEncodeLineTooLarge(t *testing.T) {
	huge := make([]byte, MaxLineSize)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := EncodeLine(NewSolution("J1", "00", string(huge)))
	require.Error(t, err)
}
