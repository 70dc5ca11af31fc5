package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"quizgen/internal/application/common"
	"quizgen/internal/application/dto"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const jobsCommandTimeout = 30 * time.Second

// newJobsCmd creates the jobs command group.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage generation jobs",
		Long: `Create, inspect and control quiz generation jobs.

Jobs created here are dispatched to the worker queue; when no broker is
reachable they run inline inside this process before the command exits.`,
	}

	cmd.AddCommand(newJobsCreateCmd())
	cmd.AddCommand(newJobsStatusCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsRestartCmd())
	cmd.AddCommand(newJobsPublishCmd())
	cmd.AddCommand(newJobsReviewCmd())
	return cmd
}

func newJobsCreateCmd() *cobra.Command {
	var (
		subjectID   string
		chapterID   string
		topicID     string
		difficulty  string
		count       int
		requestedBy string
		genModel    string
		qcModel     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new generation job",
		RunE: func(_ *cobra.Command, _ []string) error {
			request := dto.CreateJobRequest{
				Difficulty:              difficulty,
				Count:                   count,
				RequestedBy:             requestedBy,
				GenerationModelOverride: genModel,
				QCModelOverride:         qcModel,
			}

			var err error
			if request.SubjectID, err = uuid.Parse(subjectID); err != nil {
				return fmt.Errorf("invalid subject id: %w", err)
			}
			if request.ChapterID, err = uuid.Parse(chapterID); err != nil {
				return fmt.Errorf("invalid chapter id: %w", err)
			}
			if topicID != "" {
				parsed, err := uuid.Parse(topicID)
				if err != nil {
					return fmt.Errorf("invalid topic id: %w", err)
				}
				request.TopicID = &parsed
			}

			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				response, err := deps.jobs.CreateJob(ctx, request)
				if err != nil {
					return err
				}
				return printJSON(response)
			})
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "Subject id (required)")
	cmd.Flags().StringVar(&chapterID, "chapter", "", "Chapter id (required)")
	cmd.Flags().StringVar(&topicID, "topic", "", "Topic id")
	cmd.Flags().StringVar(&difficulty, "difficulty", "medium", "Difficulty (easy, medium, hard, mixed)")
	cmd.Flags().IntVar(&count, "count", 10, "Number of questions to generate")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Requesting user (required)")
	cmd.Flags().StringVar(&genModel, "generation-model", "", "Generation model override")
	cmd.Flags().StringVar(&qcModel, "qc-model", "", "QC model override")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("chapter")
	_ = cmd.MarkFlagRequired("requested-by")
	return cmd
}

func newJobsStatusCmd() *cobra.Command {
	var withItems, withEvents bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status, items and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}

			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				job, err := deps.jobs.GetJob(ctx, jobID)
				if err != nil {
					return err
				}
				if err := printJSON(job); err != nil {
					return err
				}

				if withItems {
					items, err := deps.jobs.ListItems(ctx, jobID)
					if err != nil {
						return err
					}
					if err := printJSON(items); err != nil {
						return err
					}
				}
				if withEvents {
					events, err := deps.repo.ListEvents(ctx, jobID, 100)
					if err != nil {
						return err
					}
					responses := make([]dto.EventResponse, 0, len(events))
					for _, event := range events {
						responses = append(responses, common.EntityToEventResponse(event))
					}
					return printJSON(responses)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withItems, "items", false, "Include generated items")
	cmd.Flags().BoolVar(&withEvents, "events", false, "Include the audit trail")
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generation jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				response, err := deps.jobs.ListJobs(ctx, dto.JobListQuery{
					Status: status,
					Limit:  limit,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				return printJSON(response)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func newJobsRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <job-id>",
		Short: "Requeue a failed or stuck job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				response, err := deps.jobs.RestartJob(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(response)
			})
		},
	}
}

func newJobsPublishCmd() *cobra.Command {
	var itemIDs []string

	cmd := &cobra.Command{
		Use:   "publish <job-id>",
		Short: "Publish approved items into the question bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}

			request := dto.PublishRequest{Mode: "all_approved"}
			for _, raw := range itemIDs {
				itemID, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid item id %q: %w", raw, err)
				}
				request.ItemIDs = append(request.ItemIDs, itemID)
			}
			if len(request.ItemIDs) > 0 {
				request.Mode = "selected"
			}

			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				response, err := deps.jobs.PublishJobItems(ctx, jobID, request)
				if err != nil {
					return err
				}
				return printJSON(response)
			})
		},
	}

	cmd.Flags().StringSliceVar(&itemIDs, "item", nil, "Publish only these item ids (repeatable)")
	return cmd
}

func newJobsReviewCmd() *cobra.Command {
	var reject bool

	cmd := &cobra.Command{
		Use:   "review <item-id>",
		Short: "Approve or reject one generated item",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			return withJobService(func(ctx context.Context, deps *appDependencies) error {
				return deps.jobs.ReviewItem(ctx, itemID, !reject)
			})
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	return cmd
}

// withJobService builds the dependency graph, runs fn with a bounded context
// and tears everything down, waiting for inline jobs to finish first.
func withJobService(fn func(ctx context.Context, deps *appDependencies) error) error {
	deps, err := buildDependencies(GetConfig())
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), jobsCommandTimeout)
	defer cancel()
	return fn(ctx, deps)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newJobsCmd())
}
