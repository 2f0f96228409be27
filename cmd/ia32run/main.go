/*
 * ia32core - Main process.
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

// Command ia32run loads a machine config and a boot image, runs the core
// to completion or HLT, and reports the final architectural state. A
// single-core, device-less emulator: no telnet, no IPL console, no
// channel subsystem.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/ia32core/config/configparser"
	"github.com/rcornwell/ia32core/config/debugconfig"
	"github.com/rcornwell/ia32core/internal/core"
	"github.com/rcornwell/ia32core/util/hex"
	"github.com/rcornwell/ia32core/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "ia32.yaml", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optBudget := getopt.IntLong("budget", 'b', 1_000_000, "Instructions to run per quantum")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logOut *os.File
	if optLogFile != nil && *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ia32run: cannot create log file %s: %v\n", *optLogFile, err)
			os.Exit(1)
		}
		logOut = f
	}

	cfg, err := configparser.Load(*optConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ia32run: loading configuration: %v\n", err)
		os.Exit(1)
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	debugOn := len(cfg.Debug) > 0
	if debugOn {
		debugconfig.Set(cfg.Debug)
		programLevel.Set(slog.LevelDebug)
	}
	handler := logger.NewHandler(logOut, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debugOn)
	log := slog.New(handler)
	slog.SetDefault(log)

	log.Info("ia32run started")

	m := core.New(core.Config{
		RAMSize:        cfg.RAMSizeBytes(),
		A20Enabled:     cfg.A20Enabled,
		TraceCacheSize: cfg.TraceCacheSize,
	})

	if cfg.BootImage != "" {
		img, err := os.ReadFile(cfg.BootImage)
		if err != nil {
			log.Error("loading boot image", "path", cfg.BootImage, "err", err)
			os.Exit(1)
		}
		m.LoadImage(cfg.BootImageBase, img)
	}

	m.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	resultCh := make(chan core.Result, 1)
	go func() {
		for {
			res := m.Run(*optBudget)
			if res.Err != nil || m.CPU.HaltState {
				resultCh <- res
				return
			}
		}
	}()

	select {
	case <-sigChan:
		log.Info("got interrupt signal")
	case res := <-resultCh:
		if res.Err != nil {
			log.Error("core stopped on fault", "err", res.Err)
		} else {
			log.Info("core halted", "cycles", res.CyclesRun)
		}
	}

	m.Stop()
	log.Info("ia32run stopped", "state", dumpState(&m.CPU.Regs, m.CPU.VirtEIP(), m.CPU.GetEflags()))
}

// dumpState renders the final architectural state in the fixed-width hex
// form the rest of the toolchain expects for register dumps.
func dumpState(regs *[10]uint32, eip, eflags uint32) string {
	var b strings.Builder
	hex.FormatWord(&b, regs[:8])
	b.WriteString("eip=")
	hex.FormatWord(&b, []uint32{eip})
	b.WriteString("eflags=")
	hex.FormatWord(&b, []uint32{eflags})
	return b.String()
}
