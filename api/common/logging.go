package common

import (
	"fmt"
	"io"
	"log/syslog"
	"net/url"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetLogFormat sets the logrus formatter, one of text or json.
func SetLogFormat(format string) {
	if format != "text" && format != "json" {
		logrus.WithFields(logrus.Fields{"format": format}).Warn("Unknown log format specified, using text. Possible options are json and text.")
	}

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		// show full timestamps
		formatter := &logrus.TextFormatter{
			FullTimestamp: true,
		}
		logrus.SetFormatter(formatter)
	}
}

// SetLogLevel parses and installs the given logrus level, defaulting to info.
func SetLogLevel(ll string) {
	if ll == "" {
		ll = "info"
	}

	logLevel, err := logrus.ParseLevel(ll)
	if err != nil {
		logrus.WithFields(logrus.Fields{"level": ll}).Warn("Could not parse log level, setting to INFO")
		logLevel = logrus.InfoLevel
	}
	logrus.SetLevel(logLevel)

	// this effectively just adds more gin log goodies
	gin.SetMode(gin.ReleaseMode)
	if logLevel == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	}
}

// SetLogDest routes logs to stderr or a syslog url of the form
// [scheme://][host][:port], scheme one of { udp, tcp }.
func SetLogDest(to, prefix string) {
	logrus.SetOutput(os.Stderr) // in case logrus changes their mind...
	if to == "stderr" {
		return
	}

	url, err := url.Parse(to)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"to": to}).Warn("could not parse log url, defaulting to stderr")
		return
	}

	if url.Scheme == "" {
		url.Scheme = "udp"
	}

	switch url.Scheme {
	case "udp", "tcp":
		syslogger, err := syslog.Dial(url.Scheme, url.Host, syslog.LOG_INFO, prefix)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"to": to}).Warn("unable to dial syslog, defaulting to stderr")
			return
		}
		logrus.SetOutput(multiWriteCloser{syslogger, os.Stderr})
	default:
		logrus.WithFields(logrus.Fields{"scheme": url.Scheme}).Warn("unknown log scheme, defaulting to stderr")
	}
}

type multiWriteCloser []io.Writer

func (m multiWriteCloser) Write(b []byte) (int, error) {
	var firstErr error
	for _, mw := range m {
		if _, err := mw.Write(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(b), firstErr
}

func (m multiWriteCloser) Close() error {
	var firstErr error
	for _, mw := range m {
		if c, ok := mw.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing log writer: %w", err)
			}
		}
	}
	return firstErr
}
