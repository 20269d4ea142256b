package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{Wrap(ErrNotFound, "file missing"), http.StatusNotFound, "file missing"},
		{fmt.Errorf("wrapped: %w", ErrConflict), http.StatusConflict, "wrapped: conflict"},
		{Wrap(ErrPrecondition, "not ready"), http.StatusPreconditionFailed, "not ready"},
		{Wrap(ErrUpstream, "backend down"), http.StatusBadGateway, "backend down"},
		{Wrap(ErrUnavailable, "queue offline"), http.StatusServiceUnavailable, "queue offline"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.detail, body.Detail)
		require.Equal(t, tc.status, body.Status)
	}
}

func TestDetailErrorFallsBackToKind(t *testing.T) {
	err := Wrap(ErrValidation, "")
	require.Equal(t, "validation failed", err.Error())
	require.ErrorIs(t, err, ErrValidation)
}

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	type body struct {
		Key string `json:"key"`
	}
	decode := func(payload string) (body, error) {
		var b body
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		return b, DecodeJSON(r, &b)
	}

	got, err := decode(`{"key":"mar_2025"}`)
	require.NoError(t, err)
	require.Equal(t, "mar_2025", got.Key)

	_, err = decode(`{"key":"mar_2025","extra":1}`)
	require.ErrorIs(t, err, ErrValidation)

	_, err = decode(`{"key":"a"} {"key":"b"}`)
	require.ErrorIs(t, err, ErrValidation)
}
