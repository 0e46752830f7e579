package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/SandrickPro/packsched/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cluster and scheduler status",
	Long: `Summarize the cluster: node capacity and the scheduler's own metrics,
decoded from the server's Prometheus endpoint.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	ctx := context.Background()

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		return err
	}

	healthy, schedulable := 0, 0
	for _, node := range nodes {
		if node.Healthy {
			healthy++
		}
		if node.Healthy && node.Schedulable {
			schedulable++
		}
	}
	fmt.Printf("Nodes: %d total, %d healthy, %d schedulable\n\n", len(nodes), healthy, schedulable)

	raw, err := client.FetchMetrics(ctx)
	if err != nil {
		return err
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, "packsched_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")
	for _, name := range names {
		for _, metric := range families[name].GetMetric() {
			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}

			var value float64
			switch {
			case metric.Counter != nil:
				value = metric.Counter.GetValue()
			case metric.Gauge != nil:
				value = metric.Gauge.GetValue()
			case metric.Histogram != nil:
				value = float64(metric.Histogram.GetSampleCount())
			default:
				continue
			}
			table.Append(name, strings.Join(labels, ","), fmt.Sprintf("%g", value))
		}
	}
	table.Render()
	return nil
}
