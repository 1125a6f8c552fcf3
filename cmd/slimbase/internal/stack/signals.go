// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stack

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// ShutdownSignals are the signals that stop a running stack.
var ShutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// WithShutdownSignals returns a context cancelled by the first shutdown
// signal.
//
// # Description
//
// Later signals are consumed and logged so a second Ctrl-C does not kill
// the process while children are still being stopped. The returned
// release function stops signal delivery and cancels the context.
//
// # Examples
//
//	ctx, release := stack.WithShutdownSignals(ctx, logger)
//	defer release()
//	err := orch.Run(ctx, nil)
func WithShutdownSignals(parent context.Context, log *logging.Logger) (context.Context, func()) {
	if log == nil {
		log = logging.Discard()
	}
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, ShutdownSignals...)

	quit := make(chan struct{})
	util.SafeGo(func() {
		received := false
		for {
			select {
			case sig := <-ch:
				if received {
					log.Warn("already shutting down, ignoring signal", "signal", sig.String())
					continue
				}
				received = true
				log.Info("received signal, shutting down", "signal", sig.String())
				cancel(fmt.Errorf("received %s", sig))
			case <-quit:
				return
			}
		}
	}, func(r util.SafeGoResult) {
		log.Error("signal handler panicked", "panic", r.PanicValue, "stack", r.Stack)
	})

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
			cancel(nil)
		})
	}
}
