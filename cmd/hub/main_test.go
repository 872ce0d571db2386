package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDrainsAfterInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var requestDone atomic.Bool

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusAccepted)
		requestDone.Store(true)
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var drainedAfterRequest atomic.Bool
	drained := make(chan struct{})
	run := func(ctx context.Context) error {
		<-ctx.Done()
		drainedAfterRequest.Store(requestDone.Load())
		close(drained)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln, run) }()

	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/webhooks/github", "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	cancel()
	select {
	case <-drained:
		t.Fatal("flush loop stopped while a request was still being served")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.True(t, drainedAfterRequest.Load())
}
