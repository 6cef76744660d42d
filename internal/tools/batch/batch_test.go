package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringOrArray(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    []string
		wantErr string
	}{
		{name: "single string", input: "a@example.com", want: []string{"a@example.com"}},
		{name: "array of strings", input: []interface{}{"a", "b", "c"}, want: []string{"a", "b", "c"}},
		{name: "nil input", input: nil, wantErr: "emails is required"},
		{name: "empty string", input: "", wantErr: "emails cannot be empty"},
		{name: "empty array", input: []interface{}{}, wantErr: "emails cannot be empty"},
		{name: "non-string item", input: []interface{}{"a", 1}, wantErr: "emails[1] must be a string"},
		{name: "empty item", input: []interface{}{"a", ""}, wantErr: "emails[1] cannot be empty"},
		{name: "wrong type", input: 42, wantErr: "emails must be a string or array of strings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStringOrArray(tt.input, "emails")
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOptionalStringOrArray(t *testing.T) {
	got, err := ParseOptionalStringOrArray(nil, "ids")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseOptionalStringOrArray([]interface{}{}, "ids")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseOptionalStringOrArray("x", "ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)

	_, err = ParseOptionalStringOrArray("", "ids")
	assert.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	results := ProcessBatch(context.Background(), []string{"ok", "fail", "ok2"}, func(_ context.Context, id string) (any, error) {
		if id == "fail" {
			return nil, errors.New("nope")
		}
		return map[string]bool{"revoked": true}, nil
	})

	require.Len(t, results, 3)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, "nope", results[1].Error)
	assert.Equal(t, "ok2", results[2].ID)
}

func TestProcessBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	results := ProcessBatch(ctx, []string{"a", "b"}, func(context.Context, string) (any, error) {
		calls++
		cancel()
		return "done", nil
	})

	assert.Equal(t, 1, calls)
	require.Len(t, results, 2)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, context.Canceled.Error(), results[1].Error)
}

func TestFormatResults(t *testing.T) {
	out, err := FormatResults([]Result{
		NewSuccessResult("a", "fine"),
		NewErrorResult("b", errors.New("bad")),
	})
	require.NoError(t, err)

	var br BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &br))
	assert.Equal(t, 2, br.Total)
	assert.Equal(t, 1, br.Successful)
	assert.Equal(t, 1, br.Failed)
	assert.Equal(t, "bad", br.Results[1].Error)
}
