package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/SandrickPro/packsched/pkg/api"
	"github.com/SandrickPro/packsched/pkg/models"
)

var (
	jobName        string
	jobCPU         float64
	jobMemoryMB    int64
	jobGPU         int64
	jobStorageGB   int64
	jobPriority    string
	jobSelector    map[string]string
	jobPreferences map[string]string
	jobsStatusFlag string
	decisionLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Long:  `Submit a job with a multi-dimensional resource request to the scheduler.`,
	RunE:  runJobsSubmit,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent placement decisions",
	RunE:  runJobsDecisions,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd, jobsListCmd, jobsStatusCmd, jobsCancelCmd, jobsDecisionsCmd)

	jobsSubmitCmd.Flags().StringVar(&jobName, "name", "", "job name")
	jobsSubmitCmd.Flags().Float64Var(&jobCPU, "cpu", 1, "CPU cores requested")
	jobsSubmitCmd.Flags().Int64Var(&jobMemoryMB, "memory", 512, "memory requested (MB)")
	jobsSubmitCmd.Flags().Int64Var(&jobGPU, "gpu", 0, "GPU units requested")
	jobsSubmitCmd.Flags().Int64Var(&jobStorageGB, "storage", 0, "storage requested (GB)")
	jobsSubmitCmd.Flags().StringVar(&jobPriority, "priority", "medium", "priority: low, medium, high, critical")
	jobsSubmitCmd.Flags().StringToStringVar(&jobSelector, "selector", nil, "node selector labels (key=value, required match)")
	jobsSubmitCmd.Flags().StringToStringVar(&jobPreferences, "prefer", nil, "preferred node labels (key=value, soft hint)")

	jobsListCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "filter by status")
	jobsDecisionsCmd.Flags().IntVar(&decisionLimit, "limit", 20, "maximum decisions to show")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	job, err := client.SubmitJob(context.Background(), &models.JobRequest{
		Name: jobName,
		Request: models.ResourceVector{
			CPUCores:  jobCPU,
			MemoryMB:  jobMemoryMB,
			GPUUnits:  jobGPU,
			StorageGB: jobStorageGB,
		},
		Priority:     jobPriority,
		NodeSelector: jobSelector,
		Preferences:  jobPreferences,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(job)
	}
	fmt.Printf("Job %s submitted (priority: %s, request: %s)\n", job.ID, job.Priority, job.Request)
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	jobs, err := client.ListJobs(context.Background(), models.JobStatus(jobsStatusFlag))
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(jobs)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Priority", "Status", "Node", "Request", "Age")
	for _, job := range jobs {
		table.Append(
			shortID(job.ID),
			job.Name,
			job.Priority.String(),
			string(job.Status),
			shortID(job.AssignedNodeID),
			job.Request.String(),
			time.Since(job.CreatedAt).Round(time.Second).String(),
		)
	}
	table.Render()
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	job, err := client.GetJob(context.Background(), args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(job)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"ID", job.ID})
	table.Append([]string{"Name", job.Name})
	table.Append([]string{"Priority", job.Priority.String()})
	table.Append([]string{"Status", string(job.Status)})
	table.Append([]string{"Request", job.Request.String()})
	table.Append([]string{"Attempts", fmt.Sprintf("%d", job.Attempts)})
	if job.AssignedNodeID != "" {
		table.Append([]string{"Node", job.AssignedNodeID})
	}
	if job.Error != "" {
		table.Append([]string{"Error", job.Error})
	}
	table.Append([]string{"Created", job.CreatedAt.Format(time.RFC3339)})
	if job.ScheduledAt != nil {
		table.Append([]string{"Scheduled", job.ScheduledAt.Format(time.RFC3339)})
	}
	if job.CompletedAt != nil {
		table.Append([]string{"Completed", job.CompletedAt.Format(time.RFC3339)})
	}
	table.Render()
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	if err := client.CancelJob(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Job %s canceled\n", args[0])
	return nil
}

func runJobsDecisions(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	decisions, err := client.ListDecisions(context.Background(), decisionLimit)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(decisions)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Node", "Score", "Queue Wait", "Decided")
	for _, d := range decisions {
		table.Append(
			shortID(d.JobID),
			shortID(d.NodeID),
			fmt.Sprintf("%.1f", d.Score),
			d.QueueWait.Round(time.Millisecond).String(),
			d.DecidedAt.Format(time.RFC3339),
		)
	}
	table.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortID truncates UUIDs for table output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
