package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoServerReflects(t *testing.T) {
	echo, err := NewEchoServer("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- echo.Run(ctx) }()

	tx, err := Dial(echo.LocalAddr().String())
	require.NoError(t, err)
	defer tx.Close()

	buf := make([]byte, 64)
	for i, payload := range []string{"first", "second", "third"} {
		require.NoError(t, tx.Send([]byte(payload)))

		n, from, err := tx.Recv(buf, time.Second)
		require.NoError(t, err, "round trip %d", i)
		assert.Equal(t, payload, string(buf[:n]))
		assert.Equal(t, echo.LocalAddr().String(), from.String())
	}

	assert.Equal(t, uint64(3), echo.Reflected())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("echo server did not stop after cancel")
	}
}

func TestEchoServerStopsOnCancel(t *testing.T) {
	echo, err := NewEchoServer("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- echo.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("echo server did not stop after cancel")
	}
}
