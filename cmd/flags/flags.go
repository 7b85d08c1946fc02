// Package flags holds the cli flag definitions shared by the service and
// the operator CLI, plus helpers that turn parsed flags into configured
// components.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/fleetcore/device-provisioning-backend/common"
	"github.com/fleetcore/device-provisioning-backend/httpserver"
)

// SetupLogger builds the service logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config from the common server
// flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var BackendURLFlag = &cli.StringFlag{
	Name:  "backend-url",
	Usage: "base URL of the cloud provisioning backend; empty selects the in-process backend",
}

var AttestationSeedFlag = &cli.StringFlag{
	Name:    "attestation-seed",
	Usage:   "hex-encoded 32-byte root seed for the seeded attestation source",
	EnvVars: []string{"ATTESTATION_SEED"},
}

var AttestationURLFlag = &cli.StringFlag{
	Name:  "attestation-url",
	Usage: "base URL of a remote attestation service; overrides attestation-seed",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Value: cli.NewStringSlice("file:///var/lib/provisioning"),
	Usage: "storage backend URIs (file://, s3://, vault://), first hit wins on reads",
}

var PostgresDSNFlag = &cli.StringFlag{
	Name:    "postgres-dsn",
	Usage:   "postgres connection string for the device store; empty selects the in-memory store",
	EnvVars: []string{"POSTGRES_DSN"},
}

var ImportWorkersFlag = &cli.IntFlag{
	Name:  "import-workers",
	Value: 4,
	Usage: "max concurrent provisioning calls per import request",
}

var APIURLFlag = &cli.StringFlag{
	Name:  "api-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the provisioning service API",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by every command.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
}

// ServerFlags configure the provisioning service.
var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	BackendURLFlag,
	AttestationSeedFlag,
	AttestationURLFlag,
	StorageFlag,
	PostgresDSNFlag,
	ImportWorkersFlag,
	PprofFlag,
	DrainSecondsFlag,
}
