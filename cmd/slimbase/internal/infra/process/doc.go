// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process supervises the external services slimbase runs and
// guards the state directory against concurrent stacks.
//
// # Supervision
//
// [Supervisor.Spawn] starts a long-lived child in its own process group and
// forwards each non-empty output line to a [LineSink] (normally a child
// logger tagged with the service name). [Supervisor.Run] executes one-shot
// init commands and returns a *util.CommandError carrying stderr on failure.
//
// Children get their own process group so that a terminal Ctrl-C reaches
// only slimbase. The orchestrator then stops children in reverse start
// order instead of every process receiving SIGINT at once.
//
// # Locking
//
// [StateLock] holds an exclusive flock on <state_dir>/slimbase.lock for the
// lifetime of a running stack.
//
// # Testing
//
// Launchers depend on the [Spawner] interface. [MockSpawner] and
// [MockProcess] record calls and return scripted results.
package process
