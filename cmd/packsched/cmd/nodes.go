package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/SandrickPro/packsched/pkg/api"
	"github.com/SandrickPro/packsched/pkg/models"
)

var (
	nodeName      string
	nodeCPU       float64
	nodeMemoryMB  int64
	nodeGPU       int64
	nodeStorageGB int64
	nodeLabels    map[string]string
	nodeAuto      bool
	drainUndo     bool
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Manage worker nodes",
}

var nodesRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a node",
	Long: `Register a node with the scheduler. With --auto the capacity is
detected from the local host instead of being passed via flags.`,
	RunE: runNodesRegister,
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE:  runNodesList,
}

var nodesDrainCmd = &cobra.Command{
	Use:   "drain <node-id>",
	Short: "Cordon a node so it receives no new jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesDrain,
}

var nodesRemoveCmd = &cobra.Command{
	Use:   "rm <node-id>",
	Short: "Remove a node from scheduling",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesRemove,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.AddCommand(nodesRegisterCmd, nodesListCmd, nodesDrainCmd, nodesRemoveCmd)

	nodesRegisterCmd.Flags().StringVar(&nodeName, "name", "", "node name (defaults to hostname)")
	nodesRegisterCmd.Flags().Float64Var(&nodeCPU, "cpu", 0, "CPU cores")
	nodesRegisterCmd.Flags().Int64Var(&nodeMemoryMB, "memory", 0, "memory (MB)")
	nodesRegisterCmd.Flags().Int64Var(&nodeGPU, "gpu", 0, "GPU units")
	nodesRegisterCmd.Flags().Int64Var(&nodeStorageGB, "storage", 0, "storage (GB)")
	nodesRegisterCmd.Flags().StringToStringVar(&nodeLabels, "label", nil, "node labels (key=value)")
	nodesRegisterCmd.Flags().BoolVar(&nodeAuto, "auto", false, "detect capacity from the local host")

	nodesDrainCmd.Flags().BoolVar(&drainUndo, "undo", false, "make the node schedulable again")
}

func runNodesRegister(cmd *cobra.Command, args []string) error {
	total := models.ResourceVector{
		CPUCores:  nodeCPU,
		MemoryMB:  nodeMemoryMB,
		GPUUnits:  nodeGPU,
		StorageGB: nodeStorageGB,
	}
	if nodeAuto {
		detected, err := detectCapacity()
		if err != nil {
			return fmt.Errorf("detect host capacity: %w", err)
		}
		total = detected
	}
	name := nodeName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node name not given and hostname unavailable: %w", err)
		}
		name = hostname
	}

	client := api.NewClient(resolveServerURL())
	node, err := client.RegisterNode(context.Background(), &models.NodeRegistration{
		Name:   name,
		Total:  total,
		Labels: nodeLabels,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(node)
	}
	fmt.Printf("Node %s registered (%s, capacity: %s)\n", node.ID, node.Name, node.Total)
	return nil
}

func runNodesList(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	nodes, err := client.ListNodes(context.Background())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(nodes)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Healthy", "Schedulable", "Jobs", "Allocated", "Total")
	for _, node := range nodes {
		table.Append(
			shortID(node.ID),
			node.Name,
			fmt.Sprintf("%t", node.Healthy),
			fmt.Sprintf("%t", node.Schedulable),
			fmt.Sprintf("%d", node.JobCount()),
			node.Allocated.String(),
			node.Total.String(),
		)
	}
	table.Render()
	return nil
}

func runNodesDrain(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	if err := client.DrainNode(context.Background(), args[0], drainUndo); err != nil {
		return err
	}
	if drainUndo {
		fmt.Printf("Node %s schedulable again\n", args[0])
	} else {
		fmt.Printf("Node %s drained\n", args[0])
	}
	return nil
}

func runNodesRemove(cmd *cobra.Command, args []string) error {
	client := api.NewClient(resolveServerURL())
	if err := client.RemoveNode(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Node %s removed from scheduling\n", args[0])
	return nil
}

// detectCapacity reads the local host's resources. GPU detection is out of
// scope; pass --gpu explicitly for GPU nodes.
func detectCapacity() (models.ResourceVector, error) {
	var v models.ResourceVector

	cores, err := cpu.Counts(true)
	if err != nil {
		return v, err
	}
	v.CPUCores = float64(cores)

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return v, err
	}
	v.MemoryMB = int64(vmem.Total / (1024 * 1024))

	usage, err := disk.Usage("/")
	if err != nil {
		return v, err
	}
	v.StorageGB = int64(usage.Free / (1024 * 1024 * 1024))

	v.GPUUnits = nodeGPU
	return v, nil
}
