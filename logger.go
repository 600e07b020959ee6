// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"errors"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is used to log critical errors that can't be returned through the
// database/sql interfaces (spec §6, AMBIENT STACK / logging).
type Logger interface {
	Print(v ...any)
}

var defaultLogger Logger = log.New(os.Stderr, "[mysql] ", log.Ldate|log.Ltime|log.Lshortfile)

// SetLogger is used to set the default logger for critical errors.
func SetLogger(logger Logger) error {
	if logger == nil {
		return errors.New("logger is nil")
	}
	defaultLogger = logger
	return nil
}

// logrusLogger adapts a *logrus.Logger (or logrus.Entry) to the package's
// Logger interface, so deployments that already standardized on structured
// logging can plug this driver straight into it.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps a *logrus.Logger, tagging every line with a
// "component=mysql" field, for use as the Config.Logger of a pool or
// connection (spec §6).
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{entry: l.WithField("component", "mysql")}
}

func (l *logrusLogger) Print(v ...any) {
	l.entry.Error(v...)
}
