package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"PolicyWatch/internal/app"
	"PolicyWatch/internal/config"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/usecase"
)

const usage = `usage: policywatch <command> [flags]

commands:
  serve                         run the HTTP API (and scheduler when enabled)
  run [-sources ID,...]         execute one pipeline run up to the review gate
  approve -run ID -by NAME      approve a run waiting for review
  reject  -run ID -by NAME      reject a run waiting for review
  runs                          list runs, newest first
  findings [-run ID]            list findings
  verifications [-run ID]       list verification results
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "policywatch:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	cfg := config.Load()
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level)

	cmd, rest := args[0], args[1:]
	if cmd == "run" {
		fs := flag.NewFlagSet("run", flag.ContinueOnError)
		only := fs.String("sources", "", "comma separated source ids to crawl (default all)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if ids := splitList(*only); len(ids) > 0 {
			cfg.Research.OnlySources = ids
		}
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("close storage", "error", cerr)
		}
	}()

	pipeline := application.Pipeline()

	switch cmd {
	case "serve":
		return application.Serve(ctx)
	case "run":
		return application.RunOnce(ctx)
	case "approve":
		fs := flag.NewFlagSet("approve", flag.ContinueOnError)
		runID := fs.String("run", "", "run id")
		by := fs.String("by", "", "approver")
		notes := fs.String("notes", "", "review notes")
		ids := fs.String("findings", "", "comma separated finding ids to approve (default all verified)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		approval, err := pipeline.Approve(ctx, *runID, usecase.ApproveInput{
			ApprovedBy:         *by,
			Notes:              *notes,
			ApprovedFindingIDs: splitList(*ids),
		})
		if err != nil {
			return err
		}
		return printJSON(out, approval)
	case "reject":
		fs := flag.NewFlagSet("reject", flag.ContinueOnError)
		runID := fs.String("run", "", "run id")
		by := fs.String("by", "", "reviewer")
		notes := fs.String("notes", "", "review notes")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		r, err := pipeline.Reject(ctx, *runID, usecase.RejectInput{RejectedBy: *by, Notes: *notes})
		if err != nil {
			return err
		}
		return printJSON(out, r)
	case "runs":
		runs, err := pipeline.ListRuns(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, runs)
	case "findings", "verifications":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		runID := fs.String("run", "", "restrict to one run")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if cmd == "findings" {
			findings, err := pipeline.Findings(ctx, *runID)
			if err != nil {
				return err
			}
			return printJSON(out, findings)
		}
		results, err := pipeline.Verifications(ctx, *runID)
		if err != nil {
			return err
		}
		return printJSON(out, results)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
