// Command seir runs the age-stratified SEIR model for one or more countries
// and prints a summary of each run.
//
//	seir -country Italy -country Spain -formats dat,csv -out results
//	seir -country all -parallel 8 -scenario lockdown.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"covidseir/internal/config"
	"covidseir/internal/dataset"
	"covidseir/internal/exporter"
	"covidseir/internal/infrastructure"
	"covidseir/internal/services"
)

// countryList collects repeated -country flags. Country names may contain
// commas ("Korea, South"), so values are not split.
type countryList []string

func (c *countryList) String() string { return strings.Join(*c, "; ") }

func (c *countryList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty country name")
	}
	*c = append(*c, v)
	return nil
}

type options struct {
	countries countryList
	config    string
	scenario  string
	out       string
	formats   string
	parallel  int
	r0        float64
	logLevel  string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("seir", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.Var(&opts.countries, "country", `country to simulate; repeat for several, or "all"`)
	fs.StringVar(&opts.config, "config", "", "YAML configuration file")
	fs.StringVar(&opts.scenario, "scenario", "", "YAML scenario file applied on top of the model configuration")
	fs.StringVar(&opts.out, "out", "", "output directory (overrides the configuration)")
	fs.StringVar(&opts.formats, "formats", "", `comma-separated output formats: dat, csv, xlsx, png, or "none"`)
	fs.IntVar(&opts.parallel, "parallel", 0, "number of countries simulated concurrently")
	fs.Float64Var(&opts.r0, "r0", 0, "basic reproduction number (overrides the configuration)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(opts.countries) == 0 {
		return nil, errors.New("at least one -country is required")
	}
	if opts.parallel < 0 {
		return nil, errors.New("-parallel must not be negative")
	}
	return opts, nil
}

// requests expands the options into one request per country.
func (o *options) requests() ([]services.SimulationRequest, error) {
	var names []string
	for _, c := range o.countries {
		if strings.EqualFold(c, "all") {
			for _, p := range dataset.Profiles() {
				names = append(names, p.Name)
			}
			continue
		}
		names = append(names, c)
	}

	var scenario string
	if o.scenario != "" {
		data, err := os.ReadFile(o.scenario)
		if err != nil {
			return nil, fmt.Errorf("read scenario: %w", err)
		}
		scenario = string(data)
	}

	var formats []string
	write := true
	switch o.formats {
	case "":
	case "none":
		write = false
	default:
		formats = strings.Split(o.formats, ",")
		for i := range formats {
			formats[i] = strings.TrimSpace(formats[i])
		}
		if _, err := exporter.ParseFormats(formats); err != nil {
			return nil, err
		}
	}

	reqs := make([]services.SimulationRequest, 0, len(names))
	for _, name := range names {
		req := services.SimulationRequest{
			Country:      name,
			Scenario:     scenario,
			WriteOutputs: write,
			Formats:      formats,
		}
		if o.r0 > 0 {
			r0 := o.r0
			req.R0 = &r0
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.config)
	if err != nil {
		return err
	}
	if opts.out != "" {
		cfg.Output.Dir = opts.out
	}
	if opts.parallel > 0 {
		cfg.Workers.Count = opts.parallel
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger, err := infrastructure.NewLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	defer infrastructure.CloseLogFile()

	reqs, err := opts.requests()
	if err != nil {
		return err
	}

	svc := services.NewSimulationService(dataset.NewLoader(cfg.Data, logger), cfg, nil, nil, logger)
	results, runErr := svc.RunBatch(ctx, reqs)
	printResults(stdout, results)
	return runErr
}

func printResults(w io.Writer, results []*services.SimulationResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Steps == 0 && r.Error != "" {
			fmt.Fprintf(tw, "%s\tfailed: %s\n\n", r.Country, r.Error)
			continue
		}
		s := r.Summary
		calibrated := "uncalibrated"
		if r.Calibrated {
			calibrated = "calibrated"
		}
		fmt.Fprintf(tw, "%s\t%s, %d steps, %s, t=[%.1f, %.1f]\n", r.Name, r.Termination, r.Steps, calibrated, r.Start, r.Horizon)
		fmt.Fprintf(tw, "  population\t%.0f\n", r.Population)
		fmt.Fprintf(tw, "  peak infected\t%.3f%%\tday %.1f\n", 100*s.PeakInfectedFraction.Value, s.PeakInfectedFraction.Time)
		fmt.Fprintf(tw, "  peak symptomatic\t%.0f\tday %.1f\n", s.PeakSymptomatic.Value, s.PeakSymptomatic.Time)
		fmt.Fprintf(tw, "  peak asymptomatic\t%.0f\tday %.1f\n", s.PeakAsymptomatic.Value, s.PeakAsymptomatic.Time)
		fmt.Fprintf(tw, "  peak hospitalized\t%.0f\tday %.1f\n", s.PeakHospitalized.Value, s.PeakHospitalized.Time)
		fmt.Fprintf(tw, "  peak ICU\t%.0f\tday %.1f\n", s.PeakICU.Value, s.PeakICU.Time)
		if s.ICUCapacity > 0 {
			verdict := "within capacity"
			if s.ICUExceeded {
				verdict = "capacity exceeded"
			}
			fmt.Fprintf(tw, "  ICU beds\t%.0f\t%s\n", s.ICUCapacity, verdict)
		}
		fmt.Fprintf(tw, "  fatalities\t%.0f\n", s.TotalFatalities)
		fmt.Fprintf(tw, "  projected fatalities\t%.0f\n", s.ProjectedFatalities)
		fmt.Fprintf(tw, "  final Rt\t%.3f\n", s.FinalRt)
		for _, f := range r.Files {
			fmt.Fprintf(tw, "  wrote\t%s\n", f)
		}
		if r.Error != "" {
			fmt.Fprintf(tw, "  error\t%s\n", r.Error)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("simulation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
