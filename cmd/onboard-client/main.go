// The onboard-client command is the operator CLI for the provisioning
// service: bulk import, export, template download and single-device
// credential requests.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fleetcore/device-provisioning-backend/api"
	"github.com/fleetcore/device-provisioning-backend/cmd/flags"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

var fileFlag = &cli.StringFlag{
	Name:  "file",
	Usage: "path to read from or write to; '-' or empty selects stdin/stdout",
}

var deviceIDFlag = &cli.StringFlag{
	Name:     "device-id",
	Required: true,
	Usage:    "device identifier",
}

var modelIDFlag = &cli.StringFlag{
	Name:     "model-id",
	Required: true,
	Usage:    "device model identifier",
}

func main() {
	app := &cli.App{
		Name:  "onboard-client",
		Usage: "Operator CLI for the device provisioning service",
		Flags: append([]cli.Flag{flags.APIURLFlag}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "Upload a device CSV and print the per-row report",
				Flags:  []cli.Flag{fileFlag},
				Action: runImport,
			},
			{
				Name:   "export",
				Usage:  "Download the current device list as CSV",
				Flags:  []cli.Flag{fileFlag},
				Action: runExport,
			},
			{
				Name:   "template",
				Usage:  "Download the import template (header row only)",
				Flags:  []cli.Flag{fileFlag},
				Action: runTemplate,
			},
			{
				Name:   "credentials",
				Usage:  "Request derived connection credentials for one device",
				Flags:  []cli.Flag{deviceIDFlag, modelIDFlag},
				Action: runCredentials,
			},
			{
				Name:   "delete-group",
				Usage:  "Delete a model's enrollment group",
				Flags:  []cli.Flag{modelIDFlag},
				Action: runDeleteGroup,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func apiClient(cCtx *cli.Context) *api.Client {
	return api.NewClient(cCtx.String(flags.APIURLFlag.Name), 5*time.Minute)
}

func runImport(cCtx *cli.Context) error {
	input, closeInput, err := openInput(cCtx.String(fileFlag.Name))
	if err != nil {
		return err
	}
	defer closeInput()

	report, err := apiClient(cCtx).ImportDevices(cCtx.Context, input)
	if err != nil {
		return err
	}

	fmt.Printf("rows: %d  created: %d  updated: %d  skipped: %d  failed: %d\n",
		report.Total, report.Created, report.Updated, report.Skipped, report.Failed)
	for _, line := range report.Lines {
		if line.Outcome == interfaces.OutcomeFailed {
			fmt.Printf("row %d (%s): %s\n", line.RowIndex, line.DeviceID, line.ErrorDetail)
		}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d rows failed", report.Failed, report.Total)
	}
	return nil
}

func runExport(cCtx *cli.Context) error {
	output, closeOutput, err := openOutput(cCtx.String(fileFlag.Name))
	if err != nil {
		return err
	}
	defer closeOutput()
	return apiClient(cCtx).ExportDevices(cCtx.Context, output)
}

func runTemplate(cCtx *cli.Context) error {
	output, closeOutput, err := openOutput(cCtx.String(fileFlag.Name))
	if err != nil {
		return err
	}
	defer closeOutput()
	return apiClient(cCtx).Template(cCtx.Context, output)
}

func runCredentials(cCtx *cli.Context) error {
	credentials, err := apiClient(cCtx).Credentials(cCtx.Context,
		interfaces.DeviceID(cCtx.String(deviceIDFlag.Name)),
		interfaces.ModelID(cCtx.String(modelIDFlag.Name)))
	if err != nil {
		return err
	}

	fmt.Printf("device:  %s\ngroup:   %s\nkey:     %s\nissued:  %s\n",
		credentials.DeviceID, credentials.GroupID, credentials.DerivedKey,
		credentials.IssuedAt.Format(time.RFC3339))
	return nil
}

func runDeleteGroup(cCtx *cli.Context) error {
	return apiClient(cCtx).DeleteEnrollmentGroup(cCtx.Context,
		interfaces.ModelID(cCtx.String(modelIDFlag.Name)))
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
