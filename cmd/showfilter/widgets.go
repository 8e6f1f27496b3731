package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"showfilter/internal/attr"
	"showfilter/internal/config"
	appLog "showfilter/internal/log"
	"showfilter/internal/web"
	"showfilter/internal/widget"
)

// buildWidgets parses and validates every configured widget. The first
// invalid one aborts with its *attr.ConfigError.
func buildWidgets(conf *config.Config, fetcher widget.Fetcher, now func() time.Time) ([]*widget.Widget, error) {
	loc := conf.Location()
	out := make([]*widget.Widget, 0, len(conf.Widgets))

	for _, wc := range conf.Widgets {
		cfg, err := attr.Parse(attr.Map(wc.Attributes))
		if err == nil {
			err = attr.Validate(cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("widget %q: %w", wc.Name, err)
		}

		name := wc.Name
		out = append(out, widget.New(cfg, fetcher, widget.Options{
			Name:     name,
			Now:      now,
			Location: loc,
			OnChange: func(query string) {
				appLog.Debug("filter state changed", "widget", name, "query", query)
			},
		}))
	}

	return out, nil
}

// refreshAll refreshes every widget concurrently. Failures are logged by
// the widgets and leave their status in error.
func refreshAll(ctx context.Context, widgets []*widget.Widget) {
	var wg sync.WaitGroup
	for _, w := range widgets {
		wg.Go(func() {
			if err := w.Refresh(ctx); err != nil && !errors.Is(err, widget.ErrSuperseded) {
				appLog.Debug("refresh finished with errors", "widget", w.Name())
			}
		})
	}
	wg.Wait()
}

// printEvents writes each widget's filtered events as a table.
func printEvents(w io.Writer, widgets []*widget.Widget, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, wd := range widgets {
		res := wd.Events()
		fmt.Fprintf(tw, "# %s (%d of %d)\n", wd.Name(), len(res.Events), res.Total)
		if err := res.Status.Err; err != nil {
			fmt.Fprintf(tw, "! %s\n", err)
		}
		for _, e := range res.Events {
			when := "-"
			if !e.Start.IsZero() {
				when = e.Start.In(loc).Format("Mon 2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", when, e.Type, e.Title, strings.Join(e.Tags, ","))
		}
	}
	return tw.Flush()
}

// serveLoopback serves the pages without basic auth on a fresh loopback
// port. The listener is bound before it returns, so the page is reachable
// at once; stop shuts the server down and reports its error.
func serveLoopback(ctx context.Context, server *web.Server) (addr string, stop func() error, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("snapshot listener: %w", err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(srvCtx, ln, server.PageHandler()) }()

	stop = func() error {
		cancel()
		return <-errCh
	}
	return ln.Addr().String(), stop, nil
}

// snapshotURL is the page URL for a widget served on addr. Wildcard hosts
// are reached over loopback.
func snapshotURL(addr, name string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "80"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, port),
		Path:   "/widgets/" + name,
	}
	return u.String()
}
