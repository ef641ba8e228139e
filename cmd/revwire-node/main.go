package main

import (
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/oy3o/revwire"
	"github.com/oy3o/revwire/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sanity-io/litter"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listen := flag.String("listen", "", "address to listen on (overrides config)")
	connect := flag.String("connect", "", "address of a node to send a demo commit to")
	flag.Parse()

	cfg := revwire.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = revwire.LoadConfig(*configPath); err != nil {
			revwire.NewLogger(os.Stderr, "info").Fatal().Err(err).Msg("failed to load config")
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	log := revwire.NewLogger(os.Stderr, cfg.LogLevel)

	pool, err := cfg.NewPool()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create buffer pool")
	}
	defer pool.Close()

	if cfg.Metrics != "" {
		serveMetrics(log, cfg.Metrics, pool)
	}

	if *connect != "" {
		if err := runClient(log, cfg, pool, *connect); err != nil {
			log.Fatal().Err(err).Msg("client failed")
		}
		return
	}
	if err := runServer(log, cfg, pool); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func serveMetrics(log zerolog.Logger, addr string, pool revwire.BufferPool) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(revwire.NewPoolCollector("node", pool))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics endpoint started")
}

// node holds the repository state shared by every connection.
type node struct {
	branches *graph.BranchManager
	schemas  *graph.Registry
	lobs     *graph.MemLobStore
	ctx      graph.Context
}

func newNode() (*node, error) {
	n := &node{
		branches: graph.NewBranchManager(0),
		schemas:  graph.NewRegistry(),
		lobs:     graph.NewMemLobStore(),
	}
	dir, err := graph.NewCachedBranchDirectory(128, n.branches.Branch)
	if err != nil {
		return nil, err
	}
	n.ctx = graph.Context{Branches: dir, Schemas: n.schemas, Lobs: n.lobs}
	return n, nil
}

func runServer(log zerolog.Logger, cfg revwire.Config, pool revwire.BufferPool) error {
	n, err := newNode()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("node started")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		clog := log.With().Str("peer", conn.RemoteAddr().String()).Logger()
		opts := append(cfg.ConnectorOptions(),
			revwire.WithLogger(clog),
			revwire.WithAcceptor(func(ch *revwire.Channel) { n.serveCommit(clog, ch) }),
		)
		revwire.NewConnector(conn, pool, opts...)
	}
}

// serveCommit decodes one CommitInfo from ch and acknowledges it with the
// commit timestamp.
func (n *node) serveCommit(log zerolog.Logger, ch *revwire.Channel) {
	defer ch.Close()
	log = log.With().Int16("channel", ch.ID()).Logger()

	r, err := graph.NewReader(ch.Input(), n.ctx)
	if err != nil {
		log.Error().Err(err).Msg("reader setup failed")
		return
	}
	ci, err := r.ReadCommitInfo()
	if err != nil {
		log.Error().Err(err).Msg("commit decode failed")
		return
	}

	if ci.IsFailure() {
		log.Warn().Int64("time", ci.TimeStamp).Int64("previous", ci.PreviousTimeStamp).Msg("commit failed remotely")
	} else {
		for _, pu := range ci.Data.NewPackageUnits {
			n.schemas.Register(pu)
		}
		cs := ci.Data.ChangeSet
		log.Info().
			Int64("time", ci.TimeStamp).
			Str("branch", ci.Branch.Path()).
			Str("user", ci.User).
			Int("new", len(cs.New)).
			Int("changed", len(cs.Changed)).
			Int("detached", len(cs.Detached)).
			Msg("commit received")
	}
	if log.GetLevel() <= zerolog.DebugLevel {
		log.Debug().Msg(litter.Sdump(ci))
	}

	out := ch.NewOutput()
	w, err := revwire.NewWriter(out)
	if err != nil {
		log.Error().Err(err).Msg("writer setup failed")
		return
	}
	w.WriteInt64(ci.TimeStamp)
	err = w.Flush()
	if err == nil {
		err = out.FlushWithEOS()
	}
	if err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}

func demoSchema() *graph.PackageUnit {
	return graph.NewPackageUnit("urn:revwire:demo",
		graph.NewClass("Document",
			graph.Feature{Name: "title", Kind: graph.KindString},
			graph.Feature{Name: "tags", Kind: graph.KindString, Many: true},
			graph.Feature{Name: "size", Kind: graph.KindInt64},
			graph.Feature{Name: "parent", Kind: graph.KindID},
		),
	)
}

func demoCommit(trunk *graph.Branch, now int64) *graph.CommitInfo {
	pu := demoSchema()
	doc := pu.Classes[0]

	rev := graph.NewRevision(doc, graph.IntID(1), trunk.Version(1))
	rev.TimeStamp = now
	_ = rev.SetValue(0, "hello")
	_ = rev.SetValue(1, []any{"demo", "revwire"})
	_ = rev.SetValue(2, int64(42))

	return &graph.CommitInfo{
		TimeStamp:         now,
		PreviousTimeStamp: now - 1,
		Branch:            trunk,
		User:              "demo",
		Comment:           "initial import",
		Data: &graph.CommitData{
			NewPackageUnits: []*graph.PackageUnit{pu},
			ChangeSet: graph.ChangeSetData{
				New: []graph.NewObject{{Revision: rev}},
				Changed: []graph.ChangedObject{{
					Delta: &graph.RevisionDelta{
						ID: graph.IntID(2), Class: doc, Branch: trunk, Version: 3, Target: 4,
						Deltas: []graph.FieldDelta{
							&graph.SetDelta{Feature: 0, Value: "renamed", OldValue: "draft"},
							&graph.AddDelta{Feature: 1, Index: 0, Value: "new"},
						},
					},
				}},
				Detached: []graph.IDVersion{{ID: graph.IntID(3), Version: 7}},
			},
		},
	}
}

func runClient(log zerolog.Logger, cfg revwire.Config, pool revwire.BufferPool, addr string) error {
	n, err := newNode()
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	opts := append(cfg.ConnectorOptions(), revwire.WithLogger(log))
	c := revwire.NewConnector(conn, pool, opts...)
	defer c.Close()

	now := time.Now().UnixMilli()
	commits := []*graph.CommitInfo{
		demoCommit(n.branches.Main(), now),
		graph.NewFailureInfo(now+1, now),
	}
	for i, ci := range commits {
		ch, err := c.OpenChannel(int16(i + 1))
		if err != nil {
			return err
		}
		ack, err := sendCommit(n.ctx, ch, ci)
		if err != nil {
			return err
		}
		log.Info().Int16("channel", ch.ID()).Int64("ack", ack).Msg("commit acknowledged")
		_ = ch.Close()
	}
	return nil
}

func sendCommit(ctx graph.Context, ch *revwire.Channel, ci *graph.CommitInfo) (int64, error) {
	out := ch.NewOutput()
	w, err := graph.NewWriter(out, ctx)
	if err != nil {
		return 0, err
	}
	if err := w.WriteCommitInfo(ci); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	if err := out.FlushWithEOS(); err != nil {
		return 0, err
	}

	r, err := revwire.NewReader(ch.Input())
	if err != nil {
		return 0, err
	}
	var ack int64
	r.ReadInt64(&ack)
	if err := r.Err(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return ack, nil
}
