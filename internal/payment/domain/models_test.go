package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapStatusIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, StatusSuccess, MapStatus("Success"))
	assert.Equal(t, StatusSuccess, MapStatus(" success "))
	assert.Equal(t, StatusFailure, MapStatus("FAILURE"))
	assert.Equal(t, StatusFailure, MapStatus("failed"))
	assert.Equal(t, StatusAborted, MapStatus("Aborted"))
	assert.Equal(t, StatusInvalid, MapStatus("Pending"))
	assert.Equal(t, StatusInvalid, MapStatus(""))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1234.56", want: 123456},
		{in: "1234.5", want: 123450},
		{in: "1234", want: 123400},
		{in: "0.01", want: 1},
		{in: "0", want: 0},
		{in: " 299.00 ", want: 29900},
		{in: "1234.567", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		assert.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
