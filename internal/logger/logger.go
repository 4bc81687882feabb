// Package logger builds the service's slog logger. Every record carries the
// build version and instance ID so denials logged by several replicas can be
// told apart.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"ratelimiter/internal/models"
	"ratelimiter/internal/version"
)

// ClientIPKey is the attribute name under which request handlers and the
// limiter log the caller's address.
const ClientIPKey = "client_ip"

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Setup returns the configured logger and, for file output, the file to
// close on shutdown. The closer is nil for stdout and stderr.
func Setup(cfg models.LoggingConfig, ver version.Info) (*slog.Logger, io.Closer, error) {
	w, closer, err := openWriter(cfg.Output, cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	handler, err := NewHandler(w, cfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, err
	}

	return slog.New(handler).With(
		slog.String("version", ver.Version),
		slog.String("git_commit", ver.GitCommit),
		slog.String("instance_id", ver.InstanceID),
	), closer, nil
}

// NewHandler builds the slog handler for cfg writing to w.
func NewHandler(w io.Writer, cfg models.LoggingConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.MaskClientIPs {
		opts.ReplaceAttr = maskClientIP
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts), nil
	}
	return slog.NewJSONHandler(w, opts), nil
}

func parseLevel(s string) (slog.Level, error) {
	level, ok := levels[strings.ToLower(s)]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", s)
	}
	return level, nil
}

func maskClientIP(_ []string, a slog.Attr) slog.Attr {
	if a.Key != ClientIPKey || a.Value.Kind() != slog.KindString {
		return a
	}
	return slog.String(a.Key, MaskIP(a.Value.String()))
}

// MaskIP zeroes the host part of an address: the last octet of an IPv4
// address and everything after the /48 prefix of an IPv6 one. Values that do
// not parse as an IP, such as "unknown", are returned unchanged.
func MaskIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}

func openWriter(output, filePath string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if filePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}
