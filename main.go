/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/l7mp/livesections/internal/buildinfo"
	"github.com/l7mp/livesections/pkg/collection"
	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/results"
	"github.com/l7mp/livesections/pkg/section"
	"github.com/l7mp/livesections/pkg/util"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

type config struct {
	file        string
	primaryKey  string
	keyPath     string
	keyExpr     string
	order       string
	where       string
	sortBy      string
	watched     string
	metricsAddr string
}

func main() {
	cfg := config{}
	flag.StringVar(&cfg.file, "f", "", "The YAML or JSON script to replay.")
	flag.StringVar(&cfg.primaryKey, "primary-key", collection.DefaultPrimaryKey, "The JSONPath of the record identity.")
	flag.StringVar(&cfg.keyPath, "key", "$.key", "The JSONPath of the section key.")
	flag.StringVar(&cfg.keyExpr, "expr", "", "An expression computing the section key, overrides -key.")
	flag.StringVar(&cfg.order, "order", "first", "The section order: first, asc or desc.")
	flag.StringVar(&cfg.where, "where", "", "Only section the records matching this expression.")
	flag.StringVar(&cfg.sortBy, "sort-by", "", "Sort the records by the value at this JSONPath before sectioning.")
	flag.StringVar(&cfg.watched, "watch", "", "Comma-separated key paths whose modifications are reported.")
	flag.StringVar(&cfg.metricsAddr, "metrics-bind-address", "",
		"The address the metric endpoint binds to after the replay. Disabled if empty.")

	opts := zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(logger.WithName("livesections"))
	setupLog := logger.WithName("setup")

	buildInfo := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting livesections %s", buildInfo.String()))

	if cfg.file == "" {
		setupLog.Error(errors.New("missing -f"), "a script file is required")
		os.Exit(1)
	}

	if err := results.RegisterMetrics(metrics.Registry); err != nil {
		setupLog.Error(err, "unable to register metrics")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	if err := run(ctx, cfg, os.Stdout, logger); err != nil {
		setupLog.Error(err, "replay failed")
		os.Exit(1)
	}

	if cfg.metricsAddr != "" {
		setupLog.Info("serving metrics", "address", cfg.metricsAddr)
		if err := serveMetrics(ctx, cfg.metricsAddr); err != nil {
			setupLog.Error(err, "problem serving metrics")
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, cfg config, out io.Writer, logger logr.Logger) error {
	s, err := loadScript(cfg.file)
	if err != nil {
		return err
	}

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	order, err := parseOrder(cfg.order)
	if err != nil {
		return err
	}

	list, err := collection.NewListFromDocuments(s.Records, collection.ListOptions{PrimaryKey: cfg.primaryKey, Logger: logger})
	if err != nil {
		return err
	}

	var base collection.Collection = list
	if cfg.where != "" || cfg.sortBy != "" {
		q, err := collection.NewQuery(list, collection.QueryOptions{
			Where:      cfg.where,
			SortBy:     cfg.sortBy,
			PrimaryKey: cfg.primaryKey,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer q.Close()
		base = q
	}

	r, err := results.New(base, extractor, results.Options{Order: order, Logger: logger})
	if err != nil {
		return err
	}

	subOpts := results.SubscribeOptions{}
	if cfg.watched != "" {
		subOpts.WatchedKeyPaths = strings.Split(cfg.watched, ",")
	}

	w, err := r.Watch(ctx, subOpts)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := printNext(w, "initial", out); err != nil {
		return err
	}
	printSections(r, out)

	for _, st := range s.Steps {
		if err := st.apply(list); err != nil {
			return fmt.Errorf("step %q: %w", st.String(), err)
		}

		select {
		case n, ok := <-w.ResultChan():
			if !ok {
				err := r.Err()
				if err == nil {
					err = errors.New("watch closed")
				}
				return fmt.Errorf("step %q: %w", st.String(), err)
			}
			fmt.Fprintf(out, "--- %s\n", st.String())
			if n.Err != nil {
				fmt.Fprintf(out, "error: %s\n", n.Err)
				if err := r.Err(); err != nil {
					// the results cannot recover from an invalidation
					return fmt.Errorf("step %q: %w", st.String(), err)
				}
				continue
			}
			if n.Changes == nil {
				continue
			}
			fmt.Fprintf(out, "changes: %s\n", n.Changes.String())
			printSections(r, out)
		default:
			fmt.Fprintf(out, "--- %s\nchanges: none\n", st.String())
		}
	}

	return nil
}

func printNext(w *results.Watcher, name string, out io.Writer) error {
	n, ok := <-w.ResultChan()
	if !ok {
		return errors.New("watch closed")
	}
	if n.Err != nil {
		return n.Err
	}
	fmt.Fprintf(out, "--- %s\nchanges: %s\n", name, n.Changes.String())
	return nil
}

func printSections(r *results.Results, out io.Writer) {
	for _, s := range r.Sections() {
		fmt.Fprintf(out, "[%s]\n", s.Key().String())
		for _, doc := range s.All() {
			fmt.Fprintf(out, "  %s\n", util.Stringify(doc))
		}
	}
}

func newExtractor(cfg config) (key.Extractor, error) {
	if cfg.keyExpr != "" {
		return key.NewExpr(cfg.keyExpr)
	}
	return key.NewJSONPath(cfg.keyPath, key.AllowMissing())
}

func parseOrder(order string) (section.OrderPolicy, error) {
	switch order {
	case "", "first":
		return section.FirstAppearance(), nil
	case "asc":
		return section.Ascending(), nil
	case "desc":
		return section.Descending(), nil
	default:
		return section.OrderPolicy{}, fmt.Errorf("unknown order %q, want first, asc or desc", order)
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close() //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
