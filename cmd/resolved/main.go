// Command resolved is the resolver daemon: it wires config, logging,
// metrics, the listening sockets, the worker's upstream transport, and
// the cache/iterator/validator pipeline together and serves client
// queries until interrupted. Grounded on the teacher's cmd/cli/main.go
// for the top-level Resolve call shape, and on cuemby-warren/cmd/warren
// for the cobra+viper+zerolog daemon skeleton around it.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/proxy"

	"github.com/resolved-dns/resolved/cache"
	"github.com/resolved-dns/resolved/config"
	"github.com/resolved-dns/resolved/internal/wire"
	"github.com/resolved-dns/resolved/iterator"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/layer/cachelayer"
	"github.com/resolved-dns/resolved/layer/iterlayer"
	"github.com/resolved-dns/resolved/layer/validatelayer"
	"github.com/resolved-dns/resolved/netio"
	"github.com/resolved-dns/resolved/roothints"
	"github.com/resolved-dns/resolved/trustanchor"
	"github.com/resolved-dns/resolved/worker"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "resolved",
		Short: "caching iterative DNS resolver",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if printConfig, _ := cmd.Flags().GetBool("print-config"); printConfig {
				out, err := config.DumpYAML(cfg)
				if err != nil {
					return fmt.Errorf("dumping config: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
				return nil
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(root, v)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	reg := prometheus.NewRegistry()

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("opening cache backend: %w", err)
	}
	c, err := cache.Open(backend, reg)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Close()

	anchors := trustanchor.New()
	for _, ta := range cfg.TrustAnchors {
		rr, err := dns.NewRR(fmt.Sprintf("%s 0 IN DS %d %d 2 %s", dns.Fqdn(ta.Name), ta.KeyTag, ta.DSType, ta.Digest))
		if err != nil {
			log.Warn().Err(err).Str("name", ta.Name).Msg("skipping malformed trust anchor")
			continue
		}
		anchors.Add(ta.Name, rr)
		anchors.Trust(ta.Name)
	}

	dialer := &net.Dialer{}
	roots := roothints.Seed(cfg.UseIPv4, cfg.UseIPv6)
	if ordered, v4, v6 := roothints.Order(ctx, proxy.ContextDialer(dialer), cfg.DNSPort, roots, 2*time.Second); len(ordered) > 0 {
		roots = ordered
		log.Info().Int("roots", len(roots)).Bool("ipv4", v4).Bool("ipv6", v6).Msg("ordered root hints by latency")
	}

	transport := worker.NewTransport(proxy.ContextDialer(dialer), cfg.DNSPort, cfg.DialTimeout, log.With().Str("component", "transport").Logger())
	wstats := worker.NewStats(reg)
	w := worker.New(transport, wstats)
	worker.Threshold = cfg.ThrottleThreshold

	iterl := iterlayer.New(roots)
	iterl.EDNSPayload = cfg.EDNSPayload
	pipeline := layer.New(
		cachelayer.New(c),
		iterl,
		validatelayer.New(anchors),
	)
	resolver := iterator.New(pipeline, w)

	mgr := netio.NewManager(1)
	handler := func(ctx context.Context, m *dns.Msg, peer net.Addr) *dns.Msg {
		return answer(ctx, resolver, m, peer)
	}
	netstats := netio.Stats{Dropped: wstats.Dropped.Inc}

	for _, l := range cfg.Listeners {
		ep, err := mgr.Listen(ctx, l.Addr, l.Port, netio.Flags{UDP: l.UDP, TCP: l.TCP})
		if err != nil {
			return fmt.Errorf("listening on %s:%d: %w", l.Addr, l.Port, err)
		}
		log.Info().Str("addr", l.Addr).Uint16("port", l.Port).Msg("listening")
		netio.Serve(ctx, ep, handler, netstats, log)
	}
	defer mgr.Deinit()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// answer drives one client query to completion and builds the reply
// message, mapping resolution failures onto SERVFAIL with an RFC 8914
// extended error option rather than dropping the query silently.
func answer(ctx context.Context, r *iterator.Resolver, m *dns.Msg, peer net.Addr) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(m)
	resp.RecursionAvailable = true
	if len(m.Question) == 0 {
		resp.Rcode = dns.RcodeFormatError
		return resp
	}
	q := m.Question[0]

	ctx, cancel := context.WithTimeout(ctx, worker.RTTMax*2)
	defer cancel()

	answerSize := wire.AnswerEDNSSize(m)

	reply, err := r.Resolve(ctx, q.Name, q.Qclass, q.Qtype)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("peer", peer.String()).Str("name", q.Name).Msg("resolution failed")
		resp.Rcode = dns.RcodeServerFailure
		opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
		opt.SetUDPSize(answerSize)
		opt.Option = append(opt.Option, &dns.EDNS0_EDE{InfoCode: wire.ExtendedErrorCodeFromError(err)})
		resp.Extra = append(resp.Extra, opt)
		wire.CopyTSIG(m, resp)
		return resp
	}

	resp.Rcode = reply.Rcode
	resp.Authoritative = false
	resp.Answer = reply.Answer
	resp.Ns = reply.Ns
	resp.Extra = reply.Extra
	if m.IsEdns0() != nil {
		opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
		opt.SetUDPSize(answerSize)
		resp.Extra = append(resp.Extra, opt)
	}
	wire.CopyTSIG(m, resp)
	return resp
}

func openBackend(cfg *config.Config) (cache.Backend, error) {
	if cfg.CachePath == "" {
		return cache.NewMemBackend(), nil
	}
	return cache.OpenBoltBackend(cfg.CachePath)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if !cfg.LogJSON {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
