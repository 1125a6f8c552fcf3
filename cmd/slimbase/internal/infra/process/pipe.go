// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
)

// OutputStreams exposes a child's two output streams.
type OutputStreams interface {
	Stdout() io.Reader
	Stderr() io.Reader
}

// LineSink receives child output one line at a time. *logging.Logger
// satisfies it.
type LineSink interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pipe drains both streams concurrently into sink.
//
// # Description
//
// Stdout lines go to sink.Info. Stderr lines go to sink.Error, or to
// sink.Info when stderrAsInfo is set. Lines are split on '\n' with any
// trailing '\r' removed, and blank lines are dropped. A partial last line
// without a newline is still forwarded.
//
// # Outputs
//
//   - *errgroup.Group: Wait returns once both streams reach EOF
func Pipe(streams OutputStreams, sink LineSink, stderrAsInfo bool) *errgroup.Group {
	errLine := sink.Error
	if stderrAsInfo {
		errLine = sink.Info
	}

	var g errgroup.Group
	g.Go(func() error {
		return util.GuardErr(func() error { return drainLines(streams.Stdout(), sink.Info) })
	})
	g.Go(func() error {
		return util.GuardErr(func() error { return drainLines(streams.Stderr(), errLine) })
	})
	return &g
}

func drainLines(r io.Reader, emit func(msg string, args ...any)) error {
	if r == nil {
		return nil
	}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if text := strings.TrimRight(line, "\r\n"); strings.TrimSpace(text) != "" {
			emit(text)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
