// The provisioning-server command serves the device provisioning API:
// credential issuance, bulk import/export and enrollment group management.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fleetcore/device-provisioning-backend/api/handlers"
	"github.com/fleetcore/device-provisioning-backend/attestation"
	"github.com/fleetcore/device-provisioning-backend/cmd/flags"
	"github.com/fleetcore/device-provisioning-backend/devicestore"
	"github.com/fleetcore/device-provisioning-backend/enrollment"
	"github.com/fleetcore/device-provisioning-backend/httpserver"
	"github.com/fleetcore/device-provisioning-backend/imagecache"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/onboarding"
	"github.com/fleetcore/device-provisioning-backend/registry"
	"github.com/fleetcore/device-provisioning-backend/storage"
)

func main() {
	app := &cli.App{
		Name:   "provisioning-server",
		Usage:  "Serve the device provisioning and bulk onboarding API",
		Flags:  append(append([]cli.Flag{}, flags.ServerFlags...), flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := context.Background()

	// Blob storage for group mappings and model images.
	locations := make([]interfaces.StorageBackendLocation, 0)
	for _, uri := range cCtx.StringSlice(flags.StorageFlag.Name) {
		locations = append(locations, interfaces.StorageBackendLocation(uri))
	}
	storageFactory := storage.NewFactory(logger)
	blobStore, err := storageFactory.CreateMultiBackend(locations)
	if err != nil {
		logger.Error("Failed to set up storage", "err", err)
		return err
	}

	attestationSource, err := setupAttestation(cCtx, logger)
	if err != nil {
		logger.Error("Failed to set up attestation source", "err", err)
		return err
	}

	// Device and model store: postgres when a DSN is given, in-memory
	// otherwise.
	var deviceStore interface {
		interfaces.DeviceStore
		interfaces.ModelStore
	}
	if dsn := cCtx.String(flags.PostgresDSNFlag.Name); dsn != "" {
		pg, err := devicestore.NewPostgresStore(ctx, dsn, logger)
		if err != nil {
			logger.Error("Failed to connect device store", "err", err)
			return err
		}
		defer pg.Close()
		deviceStore = pg
	} else {
		logger.Warn("No postgres DSN configured, using in-memory device store")
		deviceStore = devicestore.NewMemoryStore()
	}

	var backend interfaces.ProvisioningBackend
	if backendURL := cCtx.String(flags.BackendURLFlag.Name); backendURL != "" {
		backend = registry.NewClient(backendURL, 30*time.Second, logger)
	} else {
		logger.Warn("No backend URL configured, using in-process provisioning backend")
		backend = registry.NewInMemoryBackend()
	}

	groups := enrollment.NewGroupStore(backend, attestationSource, blobStore, logger)
	issuer := enrollment.NewCredentialIssuer(deviceStore, groups, attestationSource, logger)
	pipeline := onboarding.NewPipeline(deviceStore, deviceStore, issuer, groups,
		onboarding.ModelUnionSchema{Models: deviceStore},
		cCtx.Int(flags.ImportWorkersFlag.Name), logger)
	images := imagecache.New(blobStore, logger)

	handler := handlers.NewHandler(issuer, pipeline, images, logger)
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}

// setupAttestation selects the attestation source: a remote service when a
// URL is configured, otherwise the seeded source.
func setupAttestation(cCtx *cli.Context, logger *slog.Logger) (interfaces.AttestationSource, error) {
	if attURL := cCtx.String(flags.AttestationURLFlag.Name); attURL != "" {
		logger.Info("Using remote attestation service", "url", attURL)
		return &attestation.RemoteSource{Address: attURL}, nil
	}

	seedHex := cCtx.String(flags.AttestationSeedFlag.Name)
	if seedHex == "" {
		return nil, fmt.Errorf("either %s or %s must be set",
			flags.AttestationSeedFlag.Name, flags.AttestationURLFlag.Name)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decoding attestation seed: %w", err)
	}
	return attestation.NewSeededSource(seed)
}
