// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/graphkernel/logger"
)

func TestStandardLogger_Verbosity(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line written at info verbosity: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "INFO:  shown 2") {
		t.Fatalf("unexpected output: %q", buf.String())
	}

	buf.Reset()
	v := logger.NewVerboseLogger(&buf)
	v.Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG: visible") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestWithPrefix_Accumulates(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf).WithPrefix("engine: ").WithPrefix("tx 1: ")
	l.Warnf("slow commit")
	if !strings.Contains(buf.String(), "WARN:  engine: tx 1: slow commit") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestBufferLogger(t *testing.T) {
	b := logger.NewBufferLogger()
	b.WithPrefix("idx: ").Errorf("population failed: %s", "boom")
	if got := b.String(); !strings.Contains(got, "ERROR: idx: population failed: boom") {
		t.Fatalf("unexpected output: %q", got)
	}
}
