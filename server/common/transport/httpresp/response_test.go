package httpresp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusFor(t *testing.T) {
	errMissing := errors.New("missing")
	errDenied := errors.New("denied")
	rules := []StatusRule{
		{Err: errMissing, Status: http.StatusNotFound},
		{Err: errDenied, Status: http.StatusForbidden},
	}
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errMissing, http.StatusNotFound},
		{fmt.Errorf("%w: ticket 7", errDenied), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err, rules...); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
