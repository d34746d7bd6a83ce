package main

import (
	"fmt"

	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/spf13/cobra"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Submit and inspect missions against a running replica",
}

var missionSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new mission",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		kind, _ := cmd.Flags().GetString("kind")
		priority, _ := cmd.Flags().GetInt("priority")
		workerCount, _ := cmd.Flags().GetInt("worker-count")

		m := types.Mission{
			Kind:     types.MissionKind(kind),
			Priority: priority,
			Constraints: types.MissionConstraints{
				WorkerCount: workerCount,
			},
		}
		var result types.Mission
		if err := postJSON(edge+"/missions", m, &result); err != nil {
			return err
		}
		fmt.Printf("submitted mission %s (state=%s)\n", result.ID, result.State)
		return nil
	},
}

var missionGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a mission by ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		id, _ := cmd.Flags().GetString("id")
		var m types.Mission
		if err := getJSON(edge+"/missions?id="+id, &m); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\tprogress=%.1f%%\n", m.ID, m.Kind, m.State, m.Progress*100)
		return nil
	},
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known missions",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		var missions []types.Mission
		if err := getJSON(edge+"/missions", &missions); err != nil {
			return err
		}
		for _, m := range missions {
			fmt.Printf("%s\t%s\t%s\tprogress=%.1f%%\n", m.ID, m.Kind, m.State, m.Progress*100)
		}
		return nil
	},
}

var missionCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a mission by ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		id, _ := cmd.Flags().GetString("id")
		req := map[string]string{"id": id}
		var result map[string]string
		if err := postJSON(edge+"/missions/cancel", req, &result); err != nil {
			return err
		}
		fmt.Printf("mission %s cancelled\n", id)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{missionSubmitCmd, missionGetCmd, missionListCmd, missionCancelCmd} {
		c.Flags().String("edge", "http://127.0.0.1:9090", "Edge API address")
	}

	missionSubmitCmd.Flags().String("kind", string(types.MissionSingleWorker), "Mission kind: SINGLE_WORKER, MULTI_WORKER, CLUSTER")
	missionSubmitCmd.Flags().Int("priority", 0, "Mission priority, higher runs first")
	missionSubmitCmd.Flags().Int("worker-count", 1, "Number of workers required for MULTI_WORKER/CLUSTER missions")

	missionGetCmd.Flags().String("id", "", "Mission ID")
	_ = missionGetCmd.MarkFlagRequired("id")
	missionCancelCmd.Flags().String("id", "", "Mission ID")
	_ = missionCancelCmd.MarkFlagRequired("id")

	missionCmd.AddCommand(missionSubmitCmd, missionGetCmd, missionListCmd, missionCancelCmd)
}
