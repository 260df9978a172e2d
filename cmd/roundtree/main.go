// Command roundtree runs the governed kernel pipeline from the shell:
// submit a request, verify the receipt chain, describe the active
// policy, or replay persisted state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roundtree-labs/roundtree/pkg/audit"
	"github.com/roundtree-labs/roundtree/pkg/capability"
	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
	"github.com/roundtree-labs/roundtree/pkg/graph"
	"github.com/roundtree-labs/roundtree/pkg/observability"
	"github.com/roundtree-labs/roundtree/pkg/pipeline"
	"github.com/roundtree-labs/roundtree/pkg/policy"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher, split from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "submit":
		return runSubmit(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "describe":
		return runDescribe(args[2:], stdout, stderr)
	case "replay":
		return runReplay(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: roundtree <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  submit    run one request through the pipeline")
	_, _ = fmt.Fprintln(w, "  verify    re-verify the persisted receipt chain")
	_, _ = fmt.Fprintln(w, "  describe  print the active policy and chain heads")
	_, _ = fmt.Fprintln(w, "  replay    rebuild state from storage and print the heads")
}

// echoProposer is the built-in demo proposer: it answers with the
// request itself, which keeps the fidelity gate satisfied.
func echoProposer(ctx context.Context, req capability.Request) (capability.Proposal, error) {
	return capability.Proposal{AnswerText: req.Input}, nil
}

// openPipeline builds a pipeline over the given state directory, or a
// fully in-memory one when dir is empty. otelOn enables OTLP export to
// the default collector endpoint.
func openPipeline(dir string, quiet, otelOn bool) (*pipeline.Pipeline, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if quiet {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	cleanup := func() {}

	if otelOn {
		cfg := observability.DefaultConfig()
		cfg.Enabled = true
		cfg.Insecure = true
		obs, err := observability.New(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithObservability(obs))
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(ctx)
		}
	}

	var kp rtcrypto.KeyProvider
	if dir == "" {
		mem, err := rtcrypto.NewMemoryKeyProvider()
		if err != nil {
			return nil, nil, err
		}
		kp = mem
	} else {
		loaded, err := loadOrCreateKey(filepath.Join(dir, "signing.seed"))
		if err != nil {
			return nil, nil, err
		}
		kp = loaded
		store, err := audit.OpenSQLiteStore(filepath.Join(dir, "audit.db"))
		if err != nil {
			return nil, nil, err
		}
		journal, err := graph.OpenSQLiteJournal(filepath.Join(dir, "graph.db"))
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithAuditStore(store), pipeline.WithJournal(journal))
		prev := cleanup
		cleanup = func() {
			_ = store.Close()
			_ = journal.Close()
			prev()
		}
	}

	p, err := pipeline.New(policy.Default(), kp, echoProposer, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

// loadOrCreateKey persists the Ed25519 seed so chains survive restarts.
func loadOrCreateKey(path string) (rtcrypto.KeyProvider, error) {
	if seed, err := os.ReadFile(path); err == nil {
		return rtcrypto.NewMemoryKeyProviderFromSeed(seed)
	}
	kp, err := rtcrypto.NewMemoryKeyProvider()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, kp.Seed(), 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}

func runSubmit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("store", "", "state directory for persistent chains (empty = in-memory)")
	asJSON := fs.Bool("json", false, "emit the full result as JSON")
	otelOn := fs.Bool("otel", false, "export traces and metrics over OTLP")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, "read stdin:", err)
			return 1
		}
		text = string(data)
	}

	p, cleanup, err := openPipeline(*dir, *asJSON, *otelOn)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	res, err := p.Submit(context.Background(), text)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else if res.Allowed {
		_, _ = fmt.Fprintln(stdout, res.AnswerText)
		_, _ = fmt.Fprintf(stdout, "mrt=%.4f audit_head=%s graph_head=%s\n",
			res.Witness.MRT, res.Witness.AuditHead, res.Witness.GraphHead)
	} else {
		_, _ = fmt.Fprintf(stdout, "denied at %s: %s\n", res.Stage, res.Code)
	}
	if !res.Allowed {
		return 3
	}
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("store", "", "state directory holding the chains")
	tail := fs.Int("n", 0, "verify only the last n receipts (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		_, _ = fmt.Fprintln(stderr, "verify requires -store")
		return 2
	}

	p, cleanup, err := openPipeline(*dir, true, false)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	if !p.VerifyTail(*tail) {
		_, _ = fmt.Fprintln(stdout, "FAIL: receipt chain does not verify")
		return 1
	}
	auditHead, graphHead := p.Heads()
	_, _ = fmt.Fprintf(stdout, "OK: %d receipts verified\naudit_head=%s\ngraph_head=%s\n",
		len(p.Receipts()), auditHead, graphHead)
	return 0
}

func runDescribe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("store", "", "state directory (empty = fresh in-memory state)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	p, cleanup, err := openPipeline(*dir, true, false)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()
	_, _ = fmt.Fprint(stdout, p.Describe())
	return 0
}

func runReplay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("store", "", "state directory holding the chains")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		_, _ = fmt.Fprintln(stderr, "replay requires -store")
		return 2
	}

	journal, err := graph.OpenSQLiteJournal(filepath.Join(*dir, "graph.db"))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = journal.Close() }()
	records, err := journal.LoadCommits()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	store, err := graph.Replay(records)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "graph replay failed:", err)
		return 1
	}

	auditStore, err := audit.OpenSQLiteStore(filepath.Join(*dir, "audit.db"))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = auditStore.Close() }()
	receipts, err := auditStore.LoadReceipts()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	kp, err := loadOrCreateKey(filepath.Join(*dir, "signing.seed"))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	signer := rtcrypto.NewSigner(kp)
	if err := audit.Replay(receipts, signer.PublicKeyHex()); err != nil {
		_, _ = fmt.Fprintln(stderr, "audit replay failed:", err)
		return 1
	}

	auditHead := audit.Genesis
	if len(receipts) > 0 {
		auditHead = receipts[len(receipts)-1].Head
	}
	_, _ = fmt.Fprintf(stdout, "replayed %d commits, %d receipts\naudit_head=%s\ngraph_head=%s\n",
		len(records), len(receipts), auditHead, store.Head())
	return 0
}
