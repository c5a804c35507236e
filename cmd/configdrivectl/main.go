// Command configdrivectl is a host-side developer tool for creating,
// inspecting, and driving a simulated configdrive flash image from a
// regular shell, the way a firmware engineer would poke at a board's
// config volume over a serial console without any real USB hardware.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/embeddedkit/configdrive"
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/flash"
)

// imageSize is configdrivectl's only supported region size: the spec's
// fixed 16 KiB flash region.
const imageSize = 16 * 1024

// entryRow is one row of the CSV file describing the registry entries to
// load. configdrivectl has no domain-specific validate/update callbacks of
// its own (those live in the real firmware), so entries loaded this way
// are accept-anything passthroughs; the tool is for inspecting and
// exercising the volume format, not for simulating device behavior.
type entryRow struct {
	Name    string `csv:"name"`
	Default string `csv:"default"`
	Comment string `csv:"comment"`
}

// inspectRow is inspect's CSV output: the registered entry plus its
// current rendered value read back from the image.
type inspectRow struct {
	Name    string `csv:"name"`
	Default string `csv:"default"`
	Comment string `csv:"comment"`
	Current string `csv:"current"`
}

// wallClock adapts the standard library's monotonic clock to
// configdrive.Clock. A real firmware integrator supplies its own tick
// source; this host tool has none, so it measures from process start.
type wallClock struct{ start time.Time }

func newWallClock() *wallClock { return &wallClock{start: time.Now()} }

func (c *wallClock) NowMS() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func loadEntries(path string) ([]entryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening entries CSV: %w", err)
	}
	defer f.Close()

	var rows []entryRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing entries CSV: %w", err)
	}
	return rows, nil
}

func loadImage(path string) (*flash.Sim, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return flash.NewSim(imageSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading image file: %w", err)
	}
	if len(data) != imageSize {
		return nil, fmt.Errorf("%s: expected a %d-byte image, got %d bytes", path, imageSize, len(data))
	}
	return flash.NewSimFromImage(data), nil
}

func saveImage(path string, sim *flash.Sim) error {
	dst := make([]byte, imageSize)
	if err := sim.ReadRegion(dst); err != nil {
		return err
	}
	return os.WriteFile(path, dst, 0o644)
}

// buildEngine loads (or creates) the image file and entries CSV named by
// the --image and --entries global flags, registers every entry, and runs
// Init. The returned Sim is the same backing store the Engine reads and
// writes so callers can persist it afterward with saveImage.
func buildEngine(imagePath, entriesPath string) (*configdrive.Engine, *flash.Sim, error) {
	sim, err := loadImage(imagePath)
	if err != nil {
		return nil, nil, err
	}
	rows, err := loadEntries(entriesPath)
	if err != nil {
		return nil, nil, err
	}

	e := configdrive.New(sim, newWallClock())
	for _, row := range rows {
		if err := e.RegisterEntry(row.Name, row.Default, row.Comment, nil, nil, nil); err != nil {
			return nil, nil, fmt.Errorf("registering entry %q: %w", row.Name, err)
		}
	}
	if err := e.Init(); err != nil {
		return nil, nil, fmt.Errorf("initializing engine: %w", err)
	}
	return e, sim, nil
}

// currentValues splits a rendered CONFIG.TXT body into a name -> value
// map, tolerating the same CRLF-or-LF line endings FPV does. It's a
// best-effort diagnostic helper, not the real parser (package parse owns
// that); a line it can't make sense of is simply skipped.
func currentValues(data []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		line = strings.SplitN(line, "\t#", 2)[0]
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[name] = value
	}
	return out
}

func main() {
	app := &cli.App{
		Name:  "configdrivectl",
		Usage: "inspect and drive a simulated configdrive flash image from a host shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Required: true, Usage: "path to the simulated flash image file"},
			&cli.StringFlag{Name: "entries", Required: true, Usage: "path to a CSV file of name,default,comment rows"},
		},
		Commands: []*cli.Command{
			{
				Name:  "mount",
				Usage: "create the image file if it doesn't exist yet, and print CONFIG.TXT",
				Action: func(c *cli.Context) error {
					e, sim, err := buildEngine(c.String("image"), c.String("entries"))
					if err != nil {
						return err
					}
					if err := e.Process(); err != nil {
						return err
					}
					if err := saveImage(c.String("image"), sim); err != nil {
						return err
					}
					fmt.Print(string(e.RenderedConfig()))
					return nil
				},
			},
			{
				Name:  "cat",
				Usage: "print CONFIG.TXT as it currently reads",
				Action: func(c *cli.Context) error {
					e, _, err := buildEngine(c.String("image"), c.String("entries"))
					if err != nil {
						return err
					}
					fmt.Print(string(e.RenderedConfig()))
					return nil
				},
			},
			{
				Name:      "write-sector",
				Usage:     "write 512 bytes from a file into one sector, as the USB host would",
				ArgsUsage: "SECTOR DATA_FILE",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return fmt.Errorf("write-sector requires SECTOR and DATA_FILE arguments")
					}
					sector, err := strconv.Atoi(c.Args().Get(0))
					if err != nil {
						return fmt.Errorf("invalid sector %q: %w", c.Args().Get(0), err)
					}
					data, err := os.ReadFile(c.Args().Get(1))
					if err != nil {
						return err
					}
					if len(data) != fat12.SectorSize {
						return fmt.Errorf("%s: expected a %d-byte sector, got %d bytes", c.Args().Get(1), fat12.SectorSize, len(data))
					}

					e, sim, err := buildEngine(c.String("image"), c.String("entries"))
					if err != nil {
						return err
					}
					e.WriteBlocks(sector, 1, data)
					return saveImage(c.String("image"), sim)
				},
			},
			{
				Name:  "process",
				Usage: "run the deferred-flush controller and commit any pending writes",
				Action: func(c *cli.Context) error {
					e, sim, err := buildEngine(c.String("image"), c.String("entries"))
					if err != nil {
						return err
					}
					if err := e.Process(); err != nil {
						return err
					}
					return saveImage(c.String("image"), sim)
				},
			},
			{
				Name:  "inspect",
				Usage: "dump the registered entries, plus their current rendered values, as CSV",
				Action: func(c *cli.Context) error {
					e, _, err := buildEngine(c.String("image"), c.String("entries"))
					if err != nil {
						return err
					}
					rows, err := loadEntries(c.String("entries"))
					if err != nil {
						return err
					}
					current := currentValues(e.RenderedConfig())

					out := make([]inspectRow, len(rows))
					for i, row := range rows {
						out[i] = inspectRow{
							Name:    row.Name,
							Default: row.Default,
							Comment: row.Comment,
							Current: current[row.Name],
						}
					}
					return gocsv.MarshalFile(&out, os.Stdout)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("configdrivectl: %s", err)
	}
}
