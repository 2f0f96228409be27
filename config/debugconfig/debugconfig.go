/*
 * ia32core - Debug category registration
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package debugconfig turns the config file's "debug" string list (cpu,
// mmu, fpu, sse, trace) into a set of named categories a running core
// checks before emitting a slog.Debug line. It replaces a
// device/channel debug-mask bookkeeping (util/debug) with the much
// smaller set of categories an instruction-set core has, and logs
// through the already-adapted util/logger handler rather than a second
// ad hoc file-registration scheme.
package debugconfig

import (
	"log/slog"
	"sync"
)

// Known debug categories. A category name in the config file's "debug"
// list that isn't one of these is silently ignored, the same tolerance
// a permissive flag parser shows for unrecognized categories.
const (
	CPU   = "cpu"
	MMU   = "mmu"
	FPU   = "fpu"
	SSE   = "sse"
	Trace = "trace"
)

var (
	mu         sync.RWMutex
	categories = map[string]bool{}
)

// Set replaces the enabled category set from a config file's "debug"
// list.
func Set(names []string) {
	mu.Lock()
	defer mu.Unlock()
	categories = make(map[string]bool, len(names))
	for _, n := range names {
		categories[n] = true
	}
}

// Enabled reports whether category was named in the most recent Set
// call.
func Enabled(category string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categories[category]
}

// Logf emits a slog.Debug line tagged with category, but only when that
// category is enabled; callers on a hot path (e.g. internal/cpu.Step)
// should guard with Enabled first to avoid formatting args that will be
// discarded.
func Logf(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"category", category}, args...)...)
}
