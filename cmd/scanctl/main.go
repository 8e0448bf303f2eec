// Command scanctl compiles scan parameters into synchronized output
// waveforms and runs them on a waveform DAC over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/spf13/cobra"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/scanlab/scan"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scanlab.yml"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).Error("scanctl command failed", "err", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanctl",
		Short: "scanctl synthesizes and plays synchronized scan waveforms",
		Long: `scanctl turns scan parameters into one output buffer per positioner and
TTL device, and plays them on a waveform DAC.  The session is controlled over
HTTP, so clients in any language can run scans.

Configuration is read from scanlab.yml, then from SCANLAB_ environment
variables, e.g. SCANLAB_ADDR=:9000 or SCANLAB_DAC__ADDR=http://dac:8000/dac.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&ConfigFileName, "config", "c", ConfigFileName, "configuration file")
	root.AddCommand(newServeCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newSimCmd())
	root.AddCommand(newMkconfCmd())
	root.AddCommand(newConfCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func config() (Config, error) {
	k, err := loadConfig(ConfigFileName)
	if err != nil {
		return Config{}, err
	}
	return unmarshal(k)
}

// listen serves h at addr until ctx is done
func listen(ctx context.Context, addr string, h http.Handler) error {
	logger := pslog.Ctx(ctx)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	logger.Info("now listening for requests", "addr", addr)
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(sctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logger.Info("server stopped")
	return err
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan session over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			c, err := config()
			if err != nil {
				return err
			}
			r, err := buildRig(c, logger)
			if err != nil {
				return err
			}
			if c.Watch {
				r.watch(ctx, logger)
			}
			root := chi.NewRouter()
			root.Use(middleware.Logger)
			root.Use(middleware.Recoverer)
			root.Mount("/", r.handler())
			defer r.ctl.Stop()
			return listen(ctx, c.Addr, root)
		},
	}
}

func newPlanCmd() *cobra.Command {
	var (
		out        string
		continuous bool
	)
	cmd := &cobra.Command{
		Use:   "plan <parameter file>",
		Short: "Compile a parameter file and write the plan as CSV or FITS",
		Long: `plan compiles a parameter file against the configured setup.  The format
follows the extension of --out: .fits writes a FITS image with one row per
channel, anything else writes CSV.  Without --out the CSV goes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config()
			if err != nil {
				return err
			}
			d, err := c.ScanDesigner()
			if err != nil {
				return err
			}
			ps, err := scan.LoadParametersFile(args[0], d)
			if err != nil {
				return err
			}
			compiler := scan.NewCompiler(d, pslog.Ctx(cmd.Context()))
			compiler.CheckLimits = c.CheckLimits
			p, err := compiler.Compile(ps.Analog, ps.Digital, c.Setup(), continuous || ps.Continuous)
			if err != nil {
				return err
			}
			if out == "" {
				return p.WriteCSV(cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if strings.EqualFold(filepath.Ext(out), ".fits") {
				err = p.WriteFITS(f)
			} else {
				err = p.WriteCSV(f)
			}
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("plan written", "path", out, "samples", p.SampleCount,
				"duration", p.Duration(), "crc", p.Checksum())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "compile a continuous mode plan")
	return cmd
}

func newSimCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve a mock DAC at /dac and a mock motion controller at /motion",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config()
			if err != nil {
				return err
			}
			root := chi.NewRouter()
			root.Use(middleware.Logger)
			root.Mount("/", newMockHardware(c).router())
			return listen(cmd.Context(), addr, root)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8001", "address to listen at")
	return cmd
}

func newMkconfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the current configuration to the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config()
			if err != nil {
				return err
			}
			f, err := os.Create(ConfigFileName)
			if err != nil {
				return err
			}
			defer f.Close()
			return yml.NewEncoder(f).Encode(c)
		},
	}
}

func newConfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config()
			if err != nil {
				return err
			}
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(c)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "scanctl version %v\n", Version)
			return err
		},
	}
}
