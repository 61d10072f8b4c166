package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func Setup(level string) {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warn("Invalid log level, defaulting to info")
		logLevel = logrus.InfoLevel
	}

	logrus.SetLevel(logLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
		PadLevelText:    true,
	})
	logrus.SetOutput(os.Stdout)
}

func LogStartup(simulate bool) {
	logrus.Info("🚀 Starting Bags Claim Sniper (gRPC enabled)")
	if simulate {
		logrus.Info("🧪 SIMULATION MODE: claims are matched but no transactions are sent")
	} else {
		logrus.Info("⚡ LIVE MODE: matched claims execute real buys")
	}
}

// ShortKey truncates an address or signature to its first n characters for
// log output.
func ShortKey(key string, n int) string {
	if len(key) <= n {
		return key
	}
	return key[:n] + "..."
}

func FormatSOL(amount float64) string {
	return fmt.Sprintf("%.4f SOL", amount)
}

func LogConnection(service string, status string) {
	if status == "connected" {
		logrus.WithField("service", service).Info("✅ Connected")
	} else {
		logrus.WithField("service", service).Warn("⚠️  Connection issue")
	}
}
