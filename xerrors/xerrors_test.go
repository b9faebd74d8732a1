package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "list upstreams"))
	assert.NoError(t, Wrapf(nil, "service %s", "ns1/svc1"))

	base := errors.New("connection refused")
	wrapped := Wrap(base, "list upstreams")
	assert.Equal(t, "list upstreams: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)

	wrapped = Wrapf(ErrInvalidInput, "sync: source %q", "a.b")
	assert.Equal(t, `sync: source "a.b": invalid input`, wrapped.Error())
	assert.True(t, Is(wrapped, ErrInvalidInput))
}

func TestWithCode(t *testing.T) {
	assert.NoError(t, WithCode(nil, "KONG_500"))

	coded := WithCode(ErrUnavailable, "KONG_503")
	assert.Equal(t, "[KONG_503] unavailable", coded.Error())
	assert.Equal(t, "KONG_503", GetCode(coded))

	// 外层再包装后依然能取到错误码
	wrapped := Wrap(coded, "create target")
	assert.Equal(t, "KONG_503", GetCode(wrapped))
	assert.ErrorIs(t, wrapped, ErrUnavailable)

	var target *CodedError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "KONG_503", target.Code)

	assert.Equal(t, "", GetCode(New("plain")))
	assert.Equal(t, "[EMPTY]", (&CodedError{Code: "EMPTY"}).Error())
}

func TestCombine(t *testing.T) {
	assert.NoError(t, Combine())
	assert.NoError(t, Combine(nil, nil))

	err1 := errors.New("sync ns1/a: boom")
	assert.Same(t, err1, Combine(nil, err1, nil))

	err2 := WithCode(ErrUnavailable, "KONG_502")
	combined := Combine(err1, nil, err2)
	var multi *MultiError
	require.ErrorAs(t, combined, &multi)
	assert.Len(t, multi.Errors, 2)
	assert.ErrorIs(t, combined, err1)
	assert.ErrorIs(t, combined, ErrUnavailable)
	assert.Equal(t, "KONG_502", GetCode(combined))
	assert.Equal(t, "2 errors: sync ns1/a: boom; [KONG_502] unavailable", combined.Error())
}
