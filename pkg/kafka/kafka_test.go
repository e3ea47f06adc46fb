package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type request struct {
		RunID  string   `json:"run_id"`
		NGrams []string `json:"ngrams"`
	}
	got, err := DecodeJSON[request]([]byte(`{"run_id":"r1","ngrams":["a b","c"]}`))
	require.NoError(t, err)
	require.Equal(t, request{RunID: "r1", NGrams: []string{"a b", "c"}}, got)

	_, err = DecodeJSON[request]([]byte(`{"run_id":`))
	require.Error(t, err)
}

func TestEncodeEventKeysByRunID(t *testing.T) {
	msg, err := encodeEvent(Event{Key: "run-7", Value: map[string]int{"kept": 2}})
	require.NoError(t, err)
	require.Equal(t, []byte("run-7"), msg.Key)
	require.JSONEq(t, `{"kept":2}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	require.Equal(t, "content-type", msg.Headers[0].Key)
	require.Equal(t, "application/json", string(msg.Headers[0].Value))

	_, err = encodeEvent(Event{Value: 1})
	require.Error(t, err)

	_, err = encodeEvent(Event{Key: "run-7", Value: make(chan int)})
	require.Error(t, err)
}
