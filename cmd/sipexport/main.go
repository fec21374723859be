package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/antonholmquist/jason"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/bagit"
	"github.com/ndlib/sipexport/config"
	"github.com/ndlib/sipexport/creation"
	"github.com/ndlib/sipexport/ledger"
	"github.com/ndlib/sipexport/sip"
	"github.com/ndlib/sipexport/status"
	"github.com/ndlib/sipexport/store"
	"github.com/ndlib/sipexport/visitor"
)

var (
	configFile   = flag.String("config", "", "TOML configuration file")
	source       = flag.String("source", "", "directory to export")
	output       = flag.String("o", "", "directory receiving the containers")
	parent       = flag.String("parent", "", "identifier the packages are placed under")
	title        = flag.String("title", "", "title of a single package export")
	strategy     = flag.String("strategy", "", "single, file or folder")
	level        = flag.Int("level", 0, "folder depth of the packages for the folder strategy")
	metadata     = flag.String("metadata", "", "none, single, same or diff")
	metadataPath = flag.String("metadata-path", "", "metadata file or directory")
	rate         = flag.Float64("rate", 0, "copy rate limit in bytes per second")
	ledgerDSN    = flag.String("ledger", "", "ledger database, \"memory\", a QL file, or mysql:<dial>")
	port         = flag.String("port", "", "port to serve the export status on")
	usage        = `
sipexport [flags] <command> <command arguments>

Possible commands:
    export [source directory]

    preview [source directory]

    status <status server url>

    cancel <status server url>

    history <batch id>

    verify <container list>
`
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalln(err)
	}
	if cfg.SentryDSN != "" {
		raven.SetDSN(cfg.SentryDSN)
	}
	if len(args) > 1 && (args[0] == "export" || args[0] == "preview") {
		cfg.Source = args[1]
	}

	switch args[0] {
	case "export":
		err = doexport(cfg)
	case "preview":
		err = dopreview(cfg)
	case "status":
		err = dostatus(args[1:], false)
	case "cancel":
		err = dostatus(args[1:], true)
	case "history":
		err = dohistory(cfg, args[1:])
	case "verify":
		err = doverify(args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalln(err)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// given on the command line.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = *source
		case "o":
			cfg.Output = *output
		case "parent":
			cfg.ParentID = *parent
		case "title":
			cfg.Title = *title
		case "strategy":
			cfg.Rule.Strategy = *strategy
		case "level":
			cfg.Rule.Level = *level
		case "metadata":
			cfg.Rule.Metadata = *metadata
		case "metadata-path":
			cfg.Rule.MetadataPath = *metadataPath
		case "rate":
			cfg.RateLimit = *rate
		case "ledger":
			cfg.Ledger = *ledgerDSN
		case "port":
			cfg.StatusPort = *port
		}
	})
	return cfg, nil
}

// walk splits the source into package previews, printing progress as it
// goes.
func walk(ctx context.Context, cfg config.Config) ([]*sip.Preview, *visitor.Visitor, error) {
	if cfg.Source == "" {
		return nil, nil, errors.New("no source directory given")
	}
	vcfg, err := cfg.VisitorConfig()
	if err != nil {
		return nil, nil, err
	}
	v, err := visitor.New(vcfg)
	if err != nil {
		return nil, nil, err
	}
	v.Subscribe(func(p visitor.Progress) {
		log.Printf("%d packages found", p.Added)
	})
	err = v.Walk(ctx, cfg.Source)
	for _, f := range v.Failures() {
		log.Printf("Could not read %s: %s", f.Path, f.Err.Error())
	}
	if n := len(v.Unassigned()); n > 0 {
		log.Printf("%d files are above the package level and are left out", n)
	}
	return v.Previews(), v, err
}

func dopreview(cfg config.Config) error {
	previews, v, err := walk(context.Background(), cfg)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Title\tSize\tRoots\tMetadata\n")
	var total int64
	for _, p := range previews {
		size, _ := p.Size()
		total += size
		fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", p.Title, size, len(p.Roots()), p.MetadataFields())
	}
	w.Flush()
	fmt.Printf("%d packages, %d bytes, %d files\n", len(previews), total, v.FileCount())
	return nil
}

func doexport(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	previews, _, err := walk(ctx, cfg)
	if err != nil {
		return err
	}

	opts := creation.Options{RateLimit: cfg.RateLimit}
	var book ledger.Ledger
	if cfg.Ledger != "" {
		book, err = ledger.Open(cfg.Ledger)
		if err != nil {
			return err
		}
		defer book.Close()
		opts.Ledger = book
	}
	c, err := creation.New(cfg.Output, previews, opts)
	if err != nil {
		return err
	}
	log.Printf("Batch %s: %d packages into %s", c.BatchID(), len(previews), c.Output())
	c.Subscribe(func(ev creation.Event) {
		switch ev.Kind {
		case creation.PackageCompleted:
			log.Printf("Created %s (%.0f%%, %s left)", ev.Container,
				ev.Status.Progress*100, remaining(ev.Status.TimeRemaining))
		case creation.PackageFailed:
			log.Printf("Failed %s: %s", ev.Descriptor.Title, ev.Err.Error())
		}
	})

	if cfg.StatusPort != "" {
		s := &status.Server{PortNumber: cfg.StatusPort, Batch: c, Ledger: book}
		if err := s.Start(); err != nil {
			return err
		}
		defer s.Stop()
	}

	report, err := c.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d created, %d failed in %v\n", len(report.Created), len(report.Failed), report.Elapsed)
	if report.Canceled {
		fmt.Println("The export was canceled")
	}
	for _, f := range report.Failed {
		fmt.Printf("  %s: %s\n", f.Title, f.Err.Error())
	}
	return nil
}

func remaining(ms int64) string {
	if ms < 0 {
		return "unknown time"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func dostatus(args []string, cancel bool) error {
	if len(args) == 0 {
		return errors.New("no status server given")
	}
	c := &status.Client{HostURL: args[0]}
	var v *jason.Object
	var err error
	if cancel {
		v, err = c.Cancel()
	} else {
		v, err = c.Status()
	}
	if err != nil {
		return err
	}
	batch, _ := v.GetString("batch")
	state, _ := v.GetString("state")
	count, _ := v.GetInt64("count")
	created, _ := v.GetInt64("created")
	failed, _ := v.GetInt64("failed")
	progress, _ := v.GetFloat64("progress")
	ms, _ := v.GetInt64("time_remaining_ms")
	current, _ := v.GetString("current")
	phase, _ := v.GetString("phase")

	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Batch:\t%s\n", batch)
	fmt.Fprintf(w, "State:\t%s\n", state)
	fmt.Fprintf(w, "Packages:\t%d created, %d failed of %d\n", created, failed, count)
	fmt.Fprintf(w, "Progress:\t%.1f%%\n", progress*100)
	fmt.Fprintf(w, "Remaining:\t%s\n", remaining(ms))
	if current != "" {
		fmt.Fprintf(w, "Current:\t%s (%s)\n", current, phase)
	}
	w.Flush()

	if failed > 0 {
		list, err := c.Failures()
		if err != nil {
			return err
		}
		for _, f := range list {
			name, _ := f.GetString("title")
			msg, _ := f.GetString("error")
			fmt.Printf("  %s: %s\n", name, msg)
		}
	}
	return nil
}

func dohistory(cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("no batch given")
	}
	book, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return err
	}
	defer book.Close()
	entries, err := book.Batch(args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Finished\tStatus\tTitle\tBytes\tDetail\n")
	for _, e := range entries {
		detail := e.Container
		if e.Status == ledger.StatusFailed {
			detail = e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.Finished.Format(time.RFC3339), e.Status, e.Title, e.Bytes, detail)
	}
	return w.Flush()
}

// doverify checks each container against its manifests.
func doverify(paths []string) error {
	var bad int
	for _, path := range paths {
		dir, key := filepath.Split(path)
		err := verify(store.NewFileSystem(dir), key)
		if err != nil {
			bad++
			fmt.Printf("%s: %s\n", path, err.Error())
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	if bad > 0 {
		return errors.Errorf("%d containers failed verification", bad)
	}
	return nil
}

func verify(s store.ROStore, key string) error {
	rc, size, err := s.Open(key)
	if err != nil {
		return err
	}
	defer rc.Close()
	r, err := bagit.NewReader(rc, size)
	if err != nil {
		return err
	}
	return r.Verify()
}
