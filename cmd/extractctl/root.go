package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/schemas"
	"github.com/kirillkom/docextract/internal/observability/logging"
)

const serviceName = "extractctl"

type cliState struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:           "extractctl",
		Short:         "Operate the document extraction pipeline from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			state.cfg = config.Load()
			logging.New(logging.Options{
				Service: serviceName,
				Level:   state.cfg.LogLevel,
				Format:  "text",
				Output:  cmd.ErrOrStderr(),
			})
		},
	}
	root.AddCommand(
		newProcessCmd(state),
		newSessionCmd(state),
		newReviewCmd(state),
		newSLACmd(state),
		newSchemasCmd(state),
	)
	return root
}

// withApp bootstraps the pipeline for one command and tears it down after.
func (s *cliState) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, s.cfg, serviceName)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(ctx, app)
}

func newProcessCmd(state *cliState) *cobra.Command {
	var owner, docType, domainName, route string
	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Upload a file and run it through the pipeline synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The local run must own the document, so nothing is published.
			state.cfg.QueueEnabled = false
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				doc, err := app.IngestUC.Upload(ctx, domain.UploadRequest{
					OwnerID:  owner,
					Filename: filepath.Base(args[0]),
					DocType:  docType,
					Domain:   domainName,
				}, f)
				if err != nil {
					return err
				}
				doc, err = app.ProcessUC.ProcessByID(ctx, doc.ID, domain.ProcessOptions{Route: domain.Route(route)})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "local", "owner id of the document")
	cmd.Flags().StringVar(&docType, "doc-type", "", "document type, e.g. invoice")
	cmd.Flags().StringVar(&domainName, "domain", "", "schema domain, e.g. finance")
	cmd.Flags().StringVar(&route, "route", "", "force the extraction route (ocr or general)")
	return cmd
}

func newSessionCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Start and stop processing sessions"}

	var user string
	start := &cobra.Command{
		Use:   "start DOCUMENT_ID...",
		Short: "Start a session over pending documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				session, err := app.SessionUC.Start(ctx, user, args)
				if err != nil {
					return err
				}
				if app.Queue == nil {
					if err := app.SessionUC.Run(ctx, session.ID); err != nil {
						return err
					}
					if session, err = app.SessionUC.Get(ctx, session.ID); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
	start.Flags().StringVar(&user, "user", "", "user that owns the session")
	_ = start.MarkFlagRequired("user")

	stop := &cobra.Command{
		Use:   "stop SESSION_ID",
		Short: "Stop a session and roll back its in-flight documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.SessionUC.Stop(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				return result.Err()
			})
		},
	}
	cmd.AddCommand(start, stop)
	return cmd
}

func newReviewCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Inspect and act on review tasks"}

	var user, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the open review queue of a user to an xlsx file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := app.ReviewUC.ExportOpenXLSX(ctx, user, f); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
				return err
			})
		},
	}
	export.Flags().StringVar(&user, "user", "", "review owner")
	export.Flags().StringVar(&out, "out", "review-queue.xlsx", "output file")
	_ = export.MarkFlagRequired("user")

	var actor, status, note, reason string
	transition := &cobra.Command{
		Use:   "transition TASK_ID",
		Short: "Move a review task to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				task, err := app.ReviewUC.Transition(ctx, actor, args[0], domain.ReviewStatus(status), domain.ReviewPayload{
					Reason: reason,
					Note:   note,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), task)
			})
		},
	}
	transition.Flags().StringVar(&actor, "actor", "", "user performing the transition")
	transition.Flags().StringVar(&status, "status", "", "approved, rejected, changes_requested or assigned")
	transition.Flags().StringVar(&reason, "reason", "", "rejection reason")
	transition.Flags().StringVar(&note, "note", "", "free text note")
	_ = transition.MarkFlagRequired("actor")
	_ = transition.MarkFlagRequired("status")

	cmd.AddCommand(export, transition)
	return cmd
}

func newSLACmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "sla", Short: "Evaluate review SLAs"}
	var user string
	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Print the SLA risk of every open review task of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				evals, err := app.SLAUC.Evaluate(ctx, user)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TASK\tDOCUMENT\tRISK\tELAPSED_MIN")
				for _, e := range evals {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\n", e.TaskID, e.DocumentID, e.RiskLevel, e.ElapsedMinutes)
				}
				return tw.Flush()
			})
		},
	}
	evaluate.Flags().StringVar(&user, "user", "", "review owner")
	_ = evaluate.MarkFlagRequired("user")
	cmd.AddCommand(evaluate)
	return cmd
}

func newSchemasCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "schemas", Short: "Inspect extraction schemas"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the built-in and configured schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := schemas.Load(state.cfg.SchemaPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tDOC_TYPE\tFIELDS\tLINE_ITEMS")
			for _, s := range registry.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.Domain, s.DocType, fieldNames(s.Fields), len(s.LineItems))
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func fieldNames(fields []domain.FieldSpec) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return strings.Join(names, ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
