// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reliability

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKeyValue(t *testing.T) {
	dv := NewDataValidator(8, 16)

	assert.NoError(t, dv.ValidateKeyValue("k", "v"))
	assert.NoError(t, dv.ValidateKeyValue("k", ""))
	assert.Error(t, dv.ValidateKeyValue("", "v"))
	assert.Error(t, dv.ValidateKeyValue(strings.Repeat("k", 9), "v"))
	assert.Error(t, dv.ValidateKeyValue("k", strings.Repeat("v", 17)))
}

func TestValidateAddress(t *testing.T) {
	valid := []string{"10.0.0.5", "::1", "node-1:5001", "10.0.0.5:5001", "[::1]:5001"}
	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr), addr)
	}

	invalid := []string{"", "not an address", "node-1", "10.0.0.5:0", "10.0.0.5:99999", ":5001", "a/b:1"}
	for _, addr := range invalid {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}

func TestSafeGoRecovers(t *testing.T) {
	var (
		mu     sync.Mutex
		called string
	)
	prev := PanicHandler
	PanicHandler = func(name string, _ interface{}, _ []byte) {
		mu.Lock()
		called = name
		mu.Unlock()
	}
	defer func() { PanicHandler = prev }()

	done := make(chan struct{})
	SafeGo("boom", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called == "boom"
	}, time.Second, 10*time.Millisecond)
}

func TestRecoverPanicErr(t *testing.T) {
	run := func() (err error) {
		defer RecoverPanicErr("hook", &err)
		panic("bad hook")
	}
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad hook")
}

func TestGracefulShutdownPhaseOrder(t *testing.T) {
	gs := NewGracefulShutdown(time.Second)

	var (
		mu    sync.Mutex
		order []ShutdownPhase
	)
	record := func(p ShutdownPhase) ShutdownHook {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}

	gs.RegisterHook(PhaseFlush, record(PhaseFlush))
	gs.RegisterHook(PhaseCloseSession, record(PhaseCloseSession))
	gs.RegisterHook(PhaseStopPropagation, func(ctx context.Context) error {
		_ = record(PhaseStopPropagation)(ctx)
		return errors.New("worker stop failed")
	})
	gs.RegisterHook(PhaseStopAccepting, record(PhaseStopAccepting))

	assert.False(t, gs.IsShuttingDown())
	gs.Shutdown()
	assert.True(t, gs.IsShuttingDown())

	// A failing phase does not stop later phases
	assert.Equal(t, []ShutdownPhase{PhaseStopAccepting, PhaseStopPropagation, PhaseCloseSession, PhaseFlush}, order)

	// Second call is a no-op
	gs.Shutdown()
	assert.Len(t, order, 4)
}

func TestGracefulShutdownWaitContext(t *testing.T) {
	gs := NewGracefulShutdown(time.Second)

	called := make(chan struct{})
	gs.RegisterHook(PhaseStopAccepting, func(ctx context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gs.Wait(ctx)

	select {
	case <-called:
	default:
		t.Fatal("hook was not run")
	}
}
